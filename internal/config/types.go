package config

// Config is the whole process configuration. Durations are Go duration
// strings ("30s", "5m"); they are parsed when components are built.
//
// Omitted fields keep the values from Default().
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	State    StateConfig    `json:"state"`
	Loop     LoopConfig     `json:"loop"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// TelegramConfig is the notification destination.
//
// ChatID is a numeric id ("-1001234567890") or a channel username ("@news").
type TelegramConfig struct {
	Token          string  `json:"token"`
	ChatID         string  `json:"chat_id"`
	ThreadID       int     `json:"thread_id,omitempty"`
	APIURL         string  `json:"api_url,omitempty"`
	Timeout        string  `json:"timeout,omitempty"` // per send
	DisablePreview bool    `json:"disable_preview"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
}

type SourceConfig struct {
	Kind      string        `json:"kind"` // "browser" | "http"
	URL       string        `json:"url"`
	Selector  string        `json:"selector"`
	Timeout   string        `json:"timeout"` // per fetch attempt
	Settle    string        `json:"settle"`  // browser: wait after load
	UserAgent string        `json:"user_agent,omitempty"`
	Browser   BrowserConfig `json:"browser"`
}

type BrowserConfig struct {
	Bin           string `json:"bin,omitempty"`
	Headless      bool   `json:"headless"`
	NoSandbox     bool   `json:"no_sandbox"`
	DisableImages bool   `json:"disable_images"`
	WindowSize    string `json:"window_size"`
}

// StateConfig selects where the last notified fingerprint lives.
//
// Example:
//
//	"state": { "driver": "sqlite", "path": "./data/postwatch.db" }
type StateConfig struct {
	Driver      string      `json:"driver"` // file | sqlite | redis | memory
	Path        string      `json:"path,omitempty"`
	Key         string      `json:"key,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
	// Algorithm is the fingerprint digest: "sha256" or "md5".
	Algorithm string `json:"algorithm"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// LoopConfig controls the polling cycle.
//
// Schedule accepts a duration ("5m"), HH:MM ("00:05") or a cron expression
// ("*/5 * * * *"). Fetch and notify max attempts of 0 retry until
// shutdown; load and save fall back to 3.
type LoopConfig struct {
	Schedule          string `json:"schedule"`
	Timezone          string `json:"timezone,omitempty"`
	RetryDelay        string `json:"retry_delay"`
	FetchMaxAttempts  int    `json:"fetch_max_attempts"`
	NotifyMaxAttempts int    `json:"notify_max_attempts"`
	LoadMaxAttempts   int    `json:"load_max_attempts"`
	SaveMaxAttempts   int    `json:"save_max_attempts"`
	StateRetryDelay   string `json:"state_retry_delay"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors into a chat. ChatID defaults
// to telegram.chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MetricsConfig serves /metrics and /health. Pprof adds /debug/pprof/ on
// the same listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Pprof   bool   `json:"pprof"`
}

// Default returns the configuration used for every omitted field.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{
			Timeout:        "10s",
			DisablePreview: false,
			RatePerSec:     1,
		},
		Source: SourceConfig{
			Kind:     "browser",
			Selector: `div[data-ad-preview="message"]`,
			Timeout:  "60s",
			Settle:   "10s",
			Browser: BrowserConfig{
				Headless:      true,
				NoSandbox:     true,
				DisableImages: true,
				WindowSize:    "1920,1080",
			},
		},
		State: StateConfig{
			Driver:      "file",
			Path:        "./latest_post_hash.json",
			BusyTimeout: "1s",
			Algorithm:   "sha256",
		},
		Loop: LoopConfig{
			Schedule:        "5m",
			RetryDelay:      "30s",
			LoadMaxAttempts: 3,
			SaveMaxAttempts: 3,
			StateRetryDelay: "1s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./postwatch.log"},
			Telegram: LoggingTelegram{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9090"},
	}
}
