package storage

import (
	"context"
	"sync"
	"time"

	"postwatch/internal/fingerprint"
)

// Memory is a process-local Store. Tests use it directly.
type Memory struct {
	mu    sync.Mutex
	state State
	saves int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *Memory) Save(ctx context.Context, fp fingerprint.Fingerprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateFingerprint(fp); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = State{Fingerprint: fp, SavedAt: time.Now().UTC()}
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves reports how many successful Save calls were made.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
