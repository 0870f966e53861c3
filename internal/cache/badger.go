package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/timshannon/badgerhold/v4"
	"github.com/v0xg/storyrun/internal/locator"
)

type badgerEntry struct {
	Key       string `badgerhold:"key"`
	Candidate locator.Candidate
	Repaired  bool
	UpdatedAt time.Time
}

// BadgerStore keeps the cache in an embedded badger database.
type BadgerStore struct {
	store *badgerhold.Store
}

// OpenBadger opens or creates a database in dir. Writes are synced.
func OpenBadger(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.SyncWrites = true
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &BadgerStore{store: store}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var e badgerEntry
	err := s.store.Get(key, &e)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return Entry{Candidate: e.Candidate, Repaired: e.Repaired}, true, nil
}

func (s *BadgerStore) Put(ctx context.Context, key string, entry Entry) error {
	e := badgerEntry{Key: key, Candidate: entry.Candidate, Repaired: entry.Repaired, UpdatedAt: time.Now()}
	if err := s.store.Upsert(key, &e); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}
