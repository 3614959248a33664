package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "postwatch/internal/transport"
)

const (
	chatQueueSize  = 256
	chatSendBudget = 10 * time.Second
	chatValueLimit = 600
	chatTextLimit  = 3500
)

// chatSink is a zerolog.LevelWriter that forwards records to a Telegram
// chat from a single worker. Writes never block: when the queue is full or
// the rate limit is hit the record is dropped.
type chatSink struct {
	sender kit.Sender
	queue  chan chatLine

	mu      sync.Mutex
	to      kit.ChatTarget
	min     zerolog.Level
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender kit.Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan chatLine, chatQueueSize)}
}

// configure swaps target, level and rate, and starts the worker the first
// time the sink is enabled.
func (c *chatSink) configure(tc TelegramConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = tc.Target
	c.min = parseLevel(tc.MinLevel, zerolog.WarnLevel)
	rps := max(1, tc.RatePerSec)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)

	if !tc.Enabled || c.done != nil {
		return
	}
	if tc.Target.IsZero() {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but no log chat is set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-c.queue:
			if c.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendBudget)
			_, _ = c.sender.SendText(sctx, ln.to, ln.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, lim, ok := c.to, c.limiter, level >= c.min
	c.mu.Unlock()
	if !ok || c.sender == nil || to.IsZero() || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	text := chatText(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{to: to, text: text}:
	default:
	}
	return len(p), nil
}

// chatText renders one JSON record as "[LEVEL] message" followed by a
// "- key=value" line per field, sorted by key. Non-JSON input is sent as is.
func chatText(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var rec map[string]any
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return clip(raw, chatTextLimit)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), chatValueLimit))
	}
	return clip(b.String(), chatTextLimit)
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	if n <= 3 {
		return string(rs[:n])
	}
	return string(rs[:n-3]) + "..."
}
