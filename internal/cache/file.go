package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStore keeps the whole cache in one JSON object and rewrites it on
// every Put.
type FileStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	logger  *zap.Logger
}

// OpenFile loads path. A missing file yields an empty cache; so does a
// malformed one, with a warning.
func OpenFile(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		path:    path,
		entries: make(map[string]Entry),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		logger.Warn("ignoring malformed selector cache", zap.String("path", path), zap.Error(err))
		s.entries = make(map[string]Entry)
	}
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *FileStore) Put(ctx context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return s.flush()
}

// Len returns the number of cached entries.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}
	return nil
}
