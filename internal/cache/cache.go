// Package cache persists descriptor-to-candidate resolutions across runs.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/v0xg/storyrun/internal/locator"
	"go.uber.org/zap"
)

// Entry is a cached resolution. Repaired entries came from self-healing and
// are trusted without re-checking the descriptor's expected name.
type Entry struct {
	locator.Candidate
	Repaired bool `json:"repaired,omitempty"`
}

// Store maps a canonical descriptor key to the entry that last resolved
// it. Implementations must make every Put durable before returning.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, e Entry) error
	Close() error
}

// Open creates a Store for backend ("json" or "badger") rooted at path.
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "json":
		return OpenFile(path, logger)
	case "badger":
		return OpenBadger(path)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}
