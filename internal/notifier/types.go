package notifier

import (
	"time"

	kit "postwatch/internal/transport"
)

type Config struct {
	Target         kit.ChatTarget
	DisablePreview bool
	RatePerSec     float64
	Timeout        time.Duration // per Send
	HistorySize    int
}

// HistoryItem is one confirmed delivery, reported on /health.
type HistoryItem struct {
	At        time.Time `json:"at"`
	Chat      string    `json:"chat"`
	MessageID int       `json:"message_id"`
	Text      string    `json:"text"`
}
