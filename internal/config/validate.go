package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"postwatch/internal/fingerprint"
	"postwatch/internal/schedule"
	logx "postwatch/pkg/logx"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks everything that can be checked without I/O and reports all
// problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }
	_, durProblems := cfg.parseDurations()
	problems = append(problems, durProblems...)

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if strings.TrimSpace(cfg.Telegram.ChatID) == "" {
		add("telegram.chat_id is required (or set %s)", EnvTelegramChat)
	}
	if cfg.Telegram.RatePerSec < 0 {
		add("telegram.rate_per_sec must be >= 0")
	}

	if raw := strings.TrimSpace(cfg.Source.URL); raw == "" {
		add("source.url is required (or set %s)", EnvSourceURL)
	} else if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("source.url %q must be an absolute http(s) URL", raw)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Source.Kind)) {
	case "", "browser", "http":
	default:
		add("source.kind %q must be browser or http", cfg.Source.Kind)
	}
	if strings.TrimSpace(cfg.Source.Selector) == "" {
		add("source.selector is required")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.State.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.State.Path) == "" {
			add("state.path is required for driver %q", cfg.State.Driver)
		}
	case "redis":
		if strings.TrimSpace(cfg.State.Redis.Addr) == "" {
			add("state.redis.addr is required for driver redis")
		}
	case "memory":
	default:
		add("state.driver %q must be file, sqlite, redis or memory", cfg.State.Driver)
	}
	if _, err := fingerprint.ParseAlgorithm(cfg.State.Algorithm); err != nil {
		add("state.algorithm: %v", err)
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Loop.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			add("loop.timezone %q: %v", tz, err)
		} else {
			loc = l
		}
	}
	if _, err := schedule.Parse(cfg.Loop.Schedule, loc); err != nil {
		add("loop.schedule: %v", err)
	}
	for name, n := range map[string]int{
		"loop.fetch_max_attempts":  cfg.Loop.FetchMaxAttempts,
		"loop.notify_max_attempts": cfg.Loop.NotifyMaxAttempts,
		"loop.load_max_attempts":   cfg.Loop.LoadMaxAttempts,
		"loop.save_max_attempts":   cfg.Loop.SaveMaxAttempts,
	} {
		if n < 0 {
			add("%s must be >= 0", name)
		}
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" && !logx.ValidLevel(lv) {
		add("logging.level %q is not a valid level", lv)
	}
	if lv := strings.TrimSpace(cfg.Logging.Telegram.MinLevel); lv != "" && !logx.ValidLevel(lv) {
		add("logging.telegram.min_level %q is not a valid level", lv)
	}

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Addr) == "" {
		add("metrics.addr is required when metrics.enabled")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
