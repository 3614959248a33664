package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	logx "postwatch/pkg/logx"
)

// BrowserFetcher renders the page in headless Chromium.
//
// Every Fetch launches a fresh browser and tears it down afterwards, so a
// wedged renderer never outlives one attempt.
type BrowserFetcher struct {
	cfg Config
	log logx.Logger
}

func NewBrowser(cfg Config, log logx.Logger) *BrowserFetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &BrowserFetcher{cfg: cfg.withDefaults(), log: log.With(logx.String("fetcher", "browser"))}
}

func (f *BrowserFetcher) Fetch(ctx context.Context) (Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	l, err := f.launcher()
	if err != nil {
		return Item{}, err
	}
	l = l.Context(ctx)

	wsURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return Item{}, fmt.Errorf("launch browser: %w", err)
	}
	defer l.Cleanup()
	defer l.Kill()
	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return Item{}, fmt.Errorf("connect browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	page, err := stealth.Page(browser)
	if err != nil {
		return Item{}, fmt.Errorf("open page: %w", err)
	}
	if ua := strings.TrimSpace(f.cfg.UserAgent); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			return Item{}, fmt.Errorf("set user agent: %w", err)
		}
	}
	if err := page.Navigate(f.cfg.URL); err != nil {
		return Item{}, fmt.Errorf("navigate %s: %w", f.cfg.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return Item{}, fmt.Errorf("wait load: %w", err)
	}

	// Posts hydrate after the load event.
	if f.cfg.Settle > 0 {
		t := time.NewTimer(f.cfg.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return Item{}, ctx.Err()
		case <-t.C:
		}
	}

	raw, err := page.HTML()
	if err != nil {
		return Item{}, fmt.Errorf("read page html: %w", err)
	}
	text, err := Extract(strings.NewReader(raw), f.cfg.Selector)
	if err != nil {
		return Item{}, err
	}
	f.log.Debug("page rendered",
		logx.String("url", f.cfg.URL),
		logx.Duration("took", time.Since(start)),
		logx.Int("chars", len(text)),
	)
	return Item{Text: text, URL: f.cfg.URL}, nil
}

func (f *BrowserFetcher) launcher() (*launcher.Launcher, error) {
	b := f.cfg.Browser
	bin := strings.TrimSpace(b.Bin)
	if bin == "" {
		if path, ok := launcher.LookPath(); ok {
			bin = path
		} else {
			f.log.Info("no browser binary found, downloading default")
			path, err := launcher.NewBrowser().Get()
			if err != nil {
				return nil, fmt.Errorf("download browser: %w", err)
			}
			bin = path
		}
	}
	return buildLauncher(bin, b), nil
}

func buildLauncher(bin string, b BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Bin(bin).
		Headless(b.Headless).
		NoSandbox(b.NoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("window-size", b.WindowSize)
	if b.DisableImages {
		l = l.Set("blink-settings", "imagesEnabled=false")
	}
	return l
}
