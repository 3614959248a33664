package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"postwatch/internal/fingerprint"
	"postwatch/internal/retry"
	"postwatch/internal/schedule"
	"postwatch/internal/source"
	"postwatch/internal/storage"
	logx "postwatch/pkg/logx"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultRetryDelay  = 30 * time.Second
	DefaultSaveRetries = 3
	DefaultLoadRetries = 3
)

type Loop struct {
	cfg      Config
	fetcher  source.Fetcher
	hasher   fingerprint.Hasher
	store    storage.Store
	notifier Notifier
	log      logx.Logger
	rec      Recorder
	sleep    retry.SleepFunc
	now      func() time.Time

	// mu serialises cycles and guards the cached state.
	mu     sync.Mutex
	loaded bool
	state  storage.State

	smu    sync.RWMutex
	status Status
}

type Option func(*Loop)

func WithLogger(log logx.Logger) Option { return func(l *Loop) { l.log = log } }

// WithRecorder adds r; every added recorder sees every attempt and cycle.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) {
		if l.rec == nil {
			l.rec = r
			return
		}
		l.rec = recorders{l.rec, r}
	}
}

type recorders []Recorder

func (rs recorders) Attempt(op string, err error) {
	for _, r := range rs {
		r.Attempt(op, err)
	}
}

func (rs recorders) Cycle(res CycleResult) {
	for _, r := range rs {
		r.Cycle(res)
	}
}

func WithHasher(h fingerprint.Hasher) Option { return func(l *Loop) { l.hasher = h } }

// WithSleep replaces every wait (retry delays and the schedule).
func WithSleep(fn retry.SleepFunc) Option { return func(l *Loop) { l.sleep = fn } }

func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

func New(cfg Config, f source.Fetcher, st storage.Store, n Notifier, opts ...Option) *Loop {
	if cfg.Schedule.Kind == schedule.Interval && cfg.Schedule.Every <= 0 {
		cfg.Schedule = schedule.Every(DefaultInterval)
	}
	if cfg.Save.MaxAttempts <= 0 {
		cfg.Save.MaxAttempts = DefaultSaveRetries
	}
	if cfg.Load.MaxAttempts <= 0 {
		cfg.Load.MaxAttempts = DefaultLoadRetries
	}

	l := &Loop{
		cfg:      cfg,
		fetcher:  f,
		store:    st,
		notifier: n,
		sleep:    retry.Sleep,
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("comp", "watcher"))
	l.status.Schedule = cfg.Schedule.String()
	return l
}

// Run executes one cycle immediately, then one per schedule tick, until ctx
// is cancelled. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)
	l.log.Info("watcher started", logx.String("schedule", l.cfg.Schedule.String()))

	for {
		res, err := l.RunCycle(ctx)
		if ctx.Err() != nil {
			l.log.Info("watcher stopped")
			return nil
		}
		if err != nil {
			l.log.Error("cycle failed", logx.String("decision", string(res.Decision)), logx.Err(err))
		}

		finished := l.now()
		next := l.cfg.Schedule.Next(finished)
		l.smu.Lock()
		l.status.NextRun = next
		l.smu.Unlock()
		l.log.Debug("sleeping until next cycle", logx.Time("next_run", next))

		if err := l.sleep(ctx, next.Sub(finished)); err != nil {
			l.log.Info("watcher stopped")
			return nil
		}
	}
}

// RunCycle performs one full cycle. The error is non-nil only when the
// cycle was aborted (ctx) or a bounded fetch/notify policy gave up.
func (l *Loop) RunCycle(ctx context.Context) (CycleResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := CycleResult{Started: l.now()}
	res.Decision, res.Err = l.cycle(ctx, &res)
	res.Finished = l.now()

	l.record(res)
	return res, res.Err
}

func (l *Loop) cycle(ctx context.Context, res *CycleResult) (Decision, error) {
	// Fetching
	item, err := retry.Do(ctx, l.cfg.Fetch, l.fetcher.Fetch, l.retryOpts("fetch")...)
	if err != nil {
		return l.failed(ctx, DecisionFetchFailed), err
	}

	// Comparing
	cur := l.hasher.Fingerprint(item.Text)
	res.Current = cur
	prev := l.persisted(ctx)
	if ctx.Err() != nil {
		return DecisionAborted, ctx.Err()
	}
	res.Previous = prev.Fingerprint

	if prev.Present() && (cur.Equal(prev.Fingerprint) || l.sameInOldDigest(ctx, item.Text, cur, prev)) {
		l.log.Info("no new post",
			logx.String("fingerprint", cur.Short()),
			logx.Time("last_saved", prev.SavedAt),
		)
		return DecisionUnchanged, nil
	}
	l.log.Info("new post detected",
		logx.String("fingerprint", cur.Short()),
		logx.String("previous", prev.Fingerprint.Short()),
		logx.Bool("first", !prev.Present()),
	)

	// Notifying
	text := Render(item)
	_, err = retry.Do(ctx, l.cfg.Notify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.notifier.Send(ctx, text)
	}, l.retryOpts("notify")...)
	if err != nil {
		return l.failed(ctx, DecisionNotifyFailed), err
	}
	l.log.Info("notification sent", logx.String("fingerprint", cur.Short()))

	// Persisting
	_, err = retry.Do(ctx, l.cfg.Save, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.store.Save(ctx, cur)
	}, l.retryOpts("save")...)
	if err != nil {
		if ctx.Err() != nil {
			return DecisionAborted, ctx.Err()
		}
		l.log.Error("state not saved; next cycle will notify again",
			logx.String("fingerprint", cur.Short()),
			logx.Err(err),
		)
		return DecisionSaveFailed, nil
	}
	l.state = storage.State{Fingerprint: cur, SavedAt: l.now()}
	l.loaded = true
	return DecisionNotified, nil
}

// persisted returns the cached state, loading it on first use. A load that
// keeps failing degrades to "absent" and is retried on the next cycle.
func (l *Loop) persisted(ctx context.Context) storage.State {
	if l.loaded {
		return l.state
	}
	st, err := retry.Do(ctx, l.cfg.Load, l.store.Load, l.retryOpts("load")...)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("state unavailable; treating as absent", logx.Err(err))
		}
		return storage.State{}
	}
	l.state, l.loaded = st, true
	if st.Present() {
		l.log.Info("state loaded", logx.String("fingerprint", st.Fingerprint.Short()), logx.Time("saved_at", st.SavedAt))
	} else {
		l.log.Info("no previous state; next post will be notified")
	}
	return st
}

// sameInOldDigest handles a record written with another algorithm (the
// legacy MD5 file): the text is hashed with that algorithm for the
// comparison and, on a match, the record is rewritten with cur.
func (l *Loop) sameInOldDigest(ctx context.Context, text string, cur fingerprint.Fingerprint, prev storage.State) bool {
	if prev.Fingerprint.Algorithm == cur.Algorithm {
		return false
	}
	old, err := fingerprint.New(string(prev.Fingerprint.Algorithm))
	if err != nil || !old.Fingerprint(text).Equal(prev.Fingerprint) {
		return false
	}
	_, err = retry.Do(ctx, l.cfg.Save, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, l.store.Save(ctx, cur)
	}, l.retryOpts("save")...)
	if err != nil {
		l.log.Warn("state not migrated; keeping old digest", logx.String("algorithm", string(prev.Fingerprint.Algorithm)), logx.Err(err))
		return true
	}
	l.log.Info("state migrated",
		logx.String("from", string(prev.Fingerprint.Algorithm)),
		logx.String("to", string(cur.Algorithm)),
	)
	l.state = storage.State{Fingerprint: cur, SavedAt: l.now()}
	return true
}

func (l *Loop) failed(ctx context.Context, d Decision) Decision {
	if ctx.Err() != nil {
		return DecisionAborted
	}
	return d
}

func (l *Loop) retryOpts(op string) []retry.Option {
	opts := []retry.Option{
		retry.WithLogger(l.log, op),
		retry.WithSleep(l.sleep),
	}
	if l.rec != nil {
		rec := l.rec
		opts = append(opts,
			retry.OnFailure(func(a retry.Attempt) { rec.Attempt(op, a.Err) }),
			retry.OnSuccess(func(int) { rec.Attempt(op, nil) }),
		)
	}
	return opts
}

func (l *Loop) record(res CycleResult) {
	l.smu.Lock()
	l.status.Cycles++
	l.status.LastChecked = res.Finished
	l.status.LastDecision = res.Decision
	if res.Decision == DecisionNotified || res.Decision == DecisionSaveFailed {
		l.status.Notifications++
	}
	if !res.Current.IsZero() {
		l.status.Fingerprint = res.Current.String()
	}
	l.status.LastError = ""
	if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
		l.status.LastError = res.Err.Error()
	}
	l.smu.Unlock()

	if l.rec != nil {
		l.rec.Cycle(res)
	}
	l.log.Info("cycle finished",
		logx.String("decision", string(res.Decision)),
		logx.Duration("took", res.Duration()),
		logx.Time("last_checked", res.Finished),
	)
}

func (l *Loop) setRunning(v bool) {
	l.smu.Lock()
	l.status.Running = v
	l.smu.Unlock()
}

func (l *Loop) Status() Status {
	l.smu.RLock()
	defer l.smu.RUnlock()
	return l.status
}
