package app

import (
	"fmt"
	"strings"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/notifier"
	"postwatch/internal/retry"
	"postwatch/internal/schedule"
	"postwatch/internal/source"
	"postwatch/internal/storage"
	kit "postwatch/internal/transport"
	"postwatch/internal/transport/telegram"
	"postwatch/internal/watcher"
	logx "postwatch/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.State
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	d, err := cfg.Durations()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		Key:         strings.TrimSpace(sc.Key),
		BusyTimeout: d.BusyTimeout,
		Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(sc.Redis.Addr),
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		},
	}, nil
}

func mapSourceConfig(cfg *config.Config) (source.Config, error) {
	sc := cfg.Source
	d, err := cfg.Durations()
	if err != nil {
		return source.Config{}, err
	}
	return source.Config{
		Kind:      sc.Kind,
		URL:       strings.TrimSpace(sc.URL),
		Selector:  sc.Selector,
		Timeout:   d.SourceTimeout,
		Settle:    d.SourceSettle,
		UserAgent: sc.UserAgent,
		Browser: source.BrowserConfig{
			Bin:           sc.Browser.Bin,
			Headless:      sc.Browser.Headless,
			NoSandbox:     sc.Browser.NoSandbox,
			DisableImages: sc.Browser.DisableImages,
			WindowSize:    sc.Browser.WindowSize,
		},
	}, nil
}

func mapWatcherConfig(cfg *config.Config) (watcher.Config, error) {
	lc := cfg.Loop
	loc := time.Local
	if tz := strings.TrimSpace(lc.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return watcher.Config{}, fmt.Errorf("loop.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	sch, err := schedule.Parse(lc.Schedule, loc)
	if err != nil {
		return watcher.Config{}, fmt.Errorf("loop.schedule: %w", err)
	}
	d, err := cfg.Durations()
	if err != nil {
		return watcher.Config{}, err
	}
	return watcher.Config{
		Schedule: sch,
		Fetch:    retry.Policy{Delay: d.RetryDelay, MaxAttempts: lc.FetchMaxAttempts},
		Notify:   retry.Policy{Delay: d.RetryDelay, MaxAttempts: lc.NotifyMaxAttempts},
		Load:     retry.Policy{Delay: d.StateRetryDelay, MaxAttempts: lc.LoadMaxAttempts},
		Save:     retry.Policy{Delay: d.StateRetryDelay, MaxAttempts: lc.SaveMaxAttempts},
	}, nil
}

// mapTelegramConfig bounds each Bot API request by telegram.timeout, the
// same budget the notifier gives a delivery; no request outlives the attempt
// that made it.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		APIURL:      cfg.Telegram.APIURL,
		HTTPTimeout: d.TelegramTimeout,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:         kit.ChatTarget{Chat: strings.TrimSpace(cfg.Telegram.ChatID), ThreadID: cfg.Telegram.ThreadID},
		DisablePreview: cfg.Telegram.DisablePreview,
		RatePerSec:     cfg.Telegram.RatePerSec,
		Timeout:        d.TelegramTimeout,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chat := strings.TrimSpace(lc.Telegram.ChatID)
	if chat == "" {
		chat = strings.TrimSpace(cfg.Telegram.ChatID)
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			Target:     kit.ChatTarget{Chat: chat, ThreadID: lc.Telegram.ThreadID},
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}
