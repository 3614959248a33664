package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"postwatch/internal/fingerprint"
	logx "postwatch/pkg/logx"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS watch_state (
	key       TEXT PRIMARY KEY,
	algorithm TEXT NOT NULL,
	sum       TEXT NOT NULL,
	saved_at  TEXT NOT NULL
)`

const sqliteBusyRetries = 3

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	key string
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "latest"
	}
	return &sqliteStore{db: db, log: log, key: key, now: time.Now}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (State, error) {
	var algo, sum, savedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT algorithm, sum, saved_at FROM watch_state WHERE key = ?`, s.key,
	).Scan(&algo, &sum, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Info("no state record yet", logx.String("key", s.key))
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("sqlite load: %w", err)
	}

	fp := fingerprint.Fingerprint{Algorithm: fingerprint.Algorithm(algo), Sum: sum}
	if err := validateFingerprint(fp); err != nil {
		s.log.Warn("state row unusable; treating as absent", logx.String("key", s.key), logx.Err(err))
		return State{}, nil
	}
	at, _ := time.Parse(time.RFC3339Nano, savedAt)
	return State{Fingerprint: fp, SavedAt: at}, nil
}

func (s *sqliteStore) Save(ctx context.Context, fp fingerprint.Fingerprint) error {
	if err := validateFingerprint(fp); err != nil {
		return err
	}
	at := s.now().UTC().Format(time.RFC3339Nano)
	return s.runTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO watch_state(key, algorithm, sum, saved_at) VALUES(?,?,?,?)
			 ON CONFLICT(key) DO UPDATE SET algorithm=excluded.algorithm, sum=excluded.sum, saved_at=excluded.saved_at`,
			s.key, string(fp.Algorithm), fp.Sum, at,
		)
		return err
	})
}

// runTx retries on SQLITE_BUSY with 100/200/300ms pauses.
func (s *sqliteStore) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	var err error
	for i := range sqliteBusyRetries {
		err = s.txOnce(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		s.log.Debug("sqlite busy; retrying", logx.Int("attempt", i+1))
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (s *sqliteStore) txOnce(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
