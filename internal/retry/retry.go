// Package retry runs an operation until it succeeds, sleeping a constant
// delay between attempts. MaxAttempts <= 0 retries until the context is
// cancelled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "postwatch/pkg/logx"
)

// ErrExhausted wraps the last error once MaxAttempts is reached.
var ErrExhausted = errors.New("retry attempts exhausted")

type Policy struct {
	Delay       time.Duration
	MaxAttempts int
}

// Unbounded reports whether the policy retries forever.
func (p Policy) Unbounded() bool { return p.MaxAttempts <= 0 }

// Attempt describes one failed try, passed to OnFailure hooks.
type Attempt struct {
	N     int
	Max   int // 0 when unbounded
	Err   error
	Delay time.Duration // wait before the next try; 0 on the final attempt
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	log       logx.Logger
	op        string
	sleep     SleepFunc
	onFailure []func(Attempt)
	onSuccess []func(n int)
}

type Option func(*options)

// WithLogger logs every attempt under the given operation name.
func WithLogger(log logx.Logger, op string) Option {
	return func(o *options) { o.log, o.op = log, op }
}

// WithSleep replaces the context-aware timer wait (tests).
func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func OnFailure(fn func(Attempt)) Option {
	return func(o *options) { o.onFailure = append(o.onFailure, fn) }
}

func OnSuccess(fn func(attempts int)) Option {
	return func(o *options) { o.onSuccess = append(o.onSuccess, fn) }
}

// Do calls op until it returns a nil error, the policy is exhausted, or ctx
// is done. Each call gets the caller's ctx; per-attempt deadlines are the
// operation's business.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{sleep: Sleep}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	maxN := 0
	if !p.Unbounded() {
		maxN = p.MaxAttempts
	}

	var zero T
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		o.log.Debug("attempt", logx.String("op", o.op), logx.Int("attempt", n))

		v, err := op(ctx)
		if err == nil {
			if n > 1 {
				o.log.Info("succeeded after retry", logx.String("op", o.op), logx.Int("attempt", n))
			}
			for _, fn := range o.onSuccess {
				fn(n)
			}
			return v, nil
		}

		// The caller is shutting down; not the operation's fault.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		last := !p.Unbounded() && n >= maxN
		a := Attempt{N: n, Max: maxN, Err: err}
		if !last {
			a.Delay = p.Delay
		}
		for _, fn := range o.onFailure {
			fn(a)
		}
		if last {
			o.log.Error("giving up", logx.String("op", o.op), logx.Int("attempt", n), logx.Err(err))
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", o.op, ErrExhausted, n, err)
		}
		o.log.Warn("attempt failed; retrying",
			logx.String("op", o.op),
			logx.Int("attempt", n),
			logx.Int("max", maxN),
			logx.Duration("delay", p.Delay),
			logx.Err(err),
		)
		if err := o.sleep(ctx, p.Delay); err != nil {
			return zero, err
		}
	}
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
