package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "postwatch/internal/transport"
	logx "postwatch/pkg/logx"
)

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (default https://api.telegram.org).
	APIURL string
	// HTTPTimeout bounds a single Bot API request.
	HTTPTimeout time.Duration
}

// Adapter is a send-only Telegram client. It never long-polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// chatRecipient lets a numeric id or an @username be used as a telebot recipient.
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	// Offline: no getMe call at startup.
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		URL:     strings.TrimSpace(cfg.APIURL),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

const telegramTextLimit = 4000

// splitTelegramText cuts s into chunks of at most limit runes, preferring
// newline boundaries. Text is sent as plain text, so any rune is a valid cut.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		// Prefer a newline near the end of the window, but not one that
		// leaves a tiny chunk behind.
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// SendText delivers text, split into as many messages as needed.
// The returned ref points at the first message. A failure on a later chunk
// is still an error: the caller retries the whole text.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if to.IsZero() {
		return kit.MessageRef{}, errors.New("telegram: empty chat target")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitTelegramText(text, telegramTextLimit)
	rcpt := chatRecipient(strings.TrimSpace(to.Chat))

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}

		msg, err := a.sendChunk(ctx, rcpt, chunk, &tele.SendOptions{
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			var flood tele.FloodError
			if errors.As(err, &flood) {
				a.log.Warn("telegram flood control", logx.Int("retry_after_s", flood.RetryAfter))
			}
			return first, fmt.Errorf("telegram send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i == 0 {
			first = kit.MessageRef{Chat: to.Chat, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// sendChunk runs the blocking telebot call so ctx cancellation is honoured
// even though telebot itself is not context-aware.
func (a *Adapter) sendChunk(ctx context.Context, to tele.Recipient, text string, opt *tele.SendOptions) (*tele.Message, error) {
	type result struct {
		msg *tele.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := a.bot.Send(to, text, opt)
		ch <- result{msg: m, err: err}
	}()
	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
