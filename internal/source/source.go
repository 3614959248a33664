// Package source fetches the latest item from the watched page.
//
// Fetchers are single-shot: they never retry. A failed call of any kind
// (network, timeout, browser crash, selector matched nothing) is returned as
// an error and the caller decides whether to try again.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "postwatch/pkg/logx"
)

// ErrNoItem means the page loaded but no item could be extracted from it.
var ErrNoItem = errors.New("no item found")

const (
	DefaultSelector = `div[data-ad-preview="message"]`
	DefaultTimeout  = 60 * time.Second
	DefaultSettle   = 10 * time.Second
)

// Item is the latest observed post.
type Item struct {
	Text string
	URL  string
}

type Fetcher interface {
	Fetch(ctx context.Context) (Item, error)
}

// Config selects and configures a fetcher.
type Config struct {
	Kind      string // "browser" (default) or "http"
	URL       string
	Selector  string
	Timeout   time.Duration // per Fetch call
	Settle    time.Duration // browser only
	UserAgent string

	Browser BrowserConfig
}

type BrowserConfig struct {
	Bin           string // empty: let rod locate or download Chromium
	Headless      bool
	NoSandbox     bool
	WindowSize    string
	DisableImages bool
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Selector) == "" {
		c.Selector = DefaultSelector
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.Browser.WindowSize == "" {
		c.Browser.WindowSize = "1920,1080"
	}
	return c
}

// New builds the fetcher named by cfg.Kind.
func New(cfg Config, log logx.Logger) (Fetcher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("source url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "browser":
		return NewBrowser(cfg, log), nil
	case "http":
		return NewHTTP(cfg, nil, log), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
