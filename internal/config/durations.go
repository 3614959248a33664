package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations holds the config's duration strings, parsed. An empty or zero
// value takes the one from Default(); source.settle may be zero.
type Durations struct {
	TelegramTimeout time.Duration
	SourceTimeout   time.Duration
	SourceSettle    time.Duration
	BusyTimeout     time.Duration
	RetryDelay      time.Duration
	StateRetryDelay time.Duration
}

type durationField struct {
	path   string
	raw    func(*Config) string
	dst    func(*Durations) *time.Duration
	zeroOK bool
}

var durationFields = []durationField{
	{"telegram.timeout", func(c *Config) string { return c.Telegram.Timeout }, func(d *Durations) *time.Duration { return &d.TelegramTimeout }, false},
	{"source.timeout", func(c *Config) string { return c.Source.Timeout }, func(d *Durations) *time.Duration { return &d.SourceTimeout }, false},
	{"source.settle", func(c *Config) string { return c.Source.Settle }, func(d *Durations) *time.Duration { return &d.SourceSettle }, true},
	{"state.busy_timeout", func(c *Config) string { return c.State.BusyTimeout }, func(d *Durations) *time.Duration { return &d.BusyTimeout }, false},
	{"loop.retry_delay", func(c *Config) string { return c.Loop.RetryDelay }, func(d *Durations) *time.Duration { return &d.RetryDelay }, false},
	{"loop.state_retry_delay", func(c *Config) string { return c.Loop.StateRetryDelay }, func(d *Durations) *time.Duration { return &d.StateRetryDelay }, false},
}

// Durations parses every duration field. Errors name the offending key.
func (c *Config) Durations() (Durations, error) {
	d, problems := c.parseDurations()
	if len(problems) > 0 {
		return Durations{}, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return d, nil
}

func (c *Config) parseDurations() (Durations, []string) {
	def := Default()
	var (
		out      Durations
		problems []string
	)
	for _, f := range durationFields {
		v, err := parseDuration(f.raw(c))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", f.path, err))
			continue
		}
		if v == 0 && !f.zeroOK {
			v, _ = parseDuration(f.raw(&def))
		}
		*f.dst(&out) = v
	}
	return out, problems
}

func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must be >= 0", raw)
	}
	return d, nil
}
