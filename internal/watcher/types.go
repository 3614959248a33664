package watcher

import (
	"context"
	"time"

	"postwatch/internal/fingerprint"
	"postwatch/internal/retry"
	"postwatch/internal/schedule"
)

// Decision is the outcome of one cycle.
type Decision string

const (
	DecisionNotified     Decision = "notified"
	DecisionUnchanged    Decision = "unchanged"
	DecisionSaveFailed   Decision = "save_failed"
	DecisionFetchFailed  Decision = "fetch_failed"
	DecisionNotifyFailed Decision = "notify_failed"
	DecisionAborted      Decision = "aborted"
)

// Notifier delivers one message; nil means delivered.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Recorder receives per-attempt and per-cycle events (metrics).
type Recorder interface {
	Attempt(op string, err error)
	Cycle(r CycleResult)
}

type Config struct {
	Schedule schedule.Schedule
	Fetch    retry.Policy
	Notify   retry.Policy
	Load     retry.Policy
	Save     retry.Policy
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	Started  time.Time
	Finished time.Time
	Decision Decision
	Current  fingerprint.Fingerprint // zero if the fetch never succeeded
	Previous fingerprint.Fingerprint // zero if no state was persisted
	Err      error
}

func (r CycleResult) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	Running       bool      `json:"running"`
	Cycles        int       `json:"cycles"`
	Notifications int       `json:"notifications"`
	LastChecked   time.Time `json:"last_checked"`
	LastDecision  Decision  `json:"last_decision,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	NextRun       time.Time `json:"next_run"`
	Schedule      string    `json:"schedule"`
}
