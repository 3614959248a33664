package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "postwatch/internal/transport"
	logx "postwatch/pkg/logx"
)

var (
	ErrNoTarget  = errors.New("notifier has no target chat")
	ErrEmptyText = errors.New("notification text is empty")
)

const (
	defaultTimeout     = 10 * time.Second
	defaultRatePerSec  = 1
	defaultHistorySize = 50
)

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	sender  kit.Sender
	log     logx.Logger
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "notifier"))}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.cfg = cfg
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// Send delivers text to the configured chat. A nil error means the
// transport confirmed delivery.
func (s *Service) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil {
		return errors.New("notifier has no transport")
	}
	if cfg.Target.IsZero() {
		return ErrNoTarget
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	opt := &kit.SendOptions{DisablePreview: cfg.DisablePreview}
	ref, err := sender.SendText(callCtx, cfg.Target, text, opt)
	if err != nil {
		return fmt.Errorf("notify %s: %w", cfg.Target.Chat, err)
	}
	s.appendHistory(HistoryItem{At: time.Now(), Chat: ref.Chat, MessageID: ref.MessageID, Text: text}, cfg.HistorySize)
	s.log.Debug("notification delivered", logx.String("chat", ref.Chat), logx.Int("message_id", ref.MessageID))
	return nil
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}
