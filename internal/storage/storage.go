// Package storage persists the little state that must survive restarts:
// the item sequence counter (human-facing numbers are never reused) and
// the ingestion feeds' high-water cursors.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver string // "sqlite"; empty or "none" disables storage
	Path   string
}

type Store interface {
	// NextSequence returns a monotonically increasing counter value.
	NextSequence(ctx context.Context) (int64, error)
	// GetCursor returns the stored cursor, or "" when none exists.
	GetCursor(ctx context.Context, name string) (string, error)
	PutCursor(ctx context.Context, name, value string) error
	Close() error
}

// Open initializes the configured store. Returns (nil, nil) when disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
