package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	logx "postwatch/pkg/logx"
)

const maxBodySize = 10 * 1024 * 1024

// HTTPFetcher GETs the page and extracts the item from the raw response.
// Works only for pages that render the item server-side.
type HTTPFetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func NewHTTP(cfg Config, client *http.Client, log logx.Logger) *HTTPFetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPFetcher{cfg: cfg, client: client, log: log.With(logx.String("fetcher", "http"))}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return Item{}, fmt.Errorf("create request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Item{}, fmt.Errorf("http get: unexpected status %s", resp.Status)
	}

	text, err := Extract(io.LimitReader(resp.Body, maxBodySize), f.cfg.Selector)
	if err != nil {
		return Item{}, err
	}
	f.log.Debug("page fetched", logx.String("url", f.cfg.URL), logx.Duration("took", time.Since(start)), logx.Int("chars", len(text)))
	return Item{Text: text, URL: f.cfg.URL}, nil
}
