package storage

import (
	"context"
	"errors"
	"time"

	"postwatch/internal/fingerprint"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": single JSON record, replaced via temp file + rename (default)
//   - "sqlite": one row in a SQLite database file
//   - "redis": one key in Redis
//   - "memory": process-local, lost on restart
type Config struct {
	Driver      string
	Path        string
	Key         string        // sqlite row key / redis key
	BusyTimeout time.Duration // sqlite only
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// State is the persisted view of the last notified item.
// The zero value means "absent".
type State struct {
	Fingerprint fingerprint.Fingerprint
	SavedAt     time.Time
}

func (s State) Present() bool { return !s.Fingerprint.IsZero() }

// Store is the single-record persistence API used by the watcher.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, fp fingerprint.Fingerprint) error
	Close() error
}
