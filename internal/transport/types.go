package transport

import "context"

// ChatTarget addresses a single chat (and optionally a forum topic).
//
// Chat is either a numeric chat id ("-1001234567890") or a public
// channel username ("@mychannel").
type ChatTarget struct {
	Chat     string
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.Chat == "" }

type MessageRef struct {
	Chat      string
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	DisablePreview bool
}

// Sender delivers text to a chat. Implementations must be safe for
// concurrent use: the log sink and the notifier share one sender.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
