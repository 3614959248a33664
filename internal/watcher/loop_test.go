package watcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwatch/internal/fingerprint"
	"postwatch/internal/retry"
	"postwatch/internal/schedule"
	"postwatch/internal/source"
	"postwatch/internal/storage"
)

const pageURL = "https://www.facebook.com/example"

// scriptedFetcher returns texts in order; the last one repeats. An empty
// entry is a failed fetch.
type scriptedFetcher struct {
	mu    sync.Mutex
	texts []string
	calls int
}

func (f *scriptedFetcher) Fetch(ctx context.Context) (source.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.texts)-1)
	f.calls++
	if f.texts[i] == "" {
		return source.Item{}, errors.New("page unavailable")
	}
	return source.Item{Text: f.texts[i], URL: pageURL}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	fail int
	sent []string
	n    int
}

func (r *recordingNotifier) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	if r.n <= r.fail {
		return errors.New("telegram: bad gateway")
	}
	r.sent = append(r.sent, text)
	return nil
}

// flakyStore fails the first saveFails saves and loadFails loads.
type flakyStore struct {
	*storage.Memory
	saveFails int
	loadFails int
	saves     int
	loads     int
}

func (s *flakyStore) Save(ctx context.Context, fp fingerprint.Fingerprint) error {
	s.saves++
	if s.saves <= s.saveFails {
		return errors.New("disk full")
	}
	return s.Memory.Save(ctx, fp)
}

func (s *flakyStore) Load(ctx context.Context) (storage.State, error) {
	s.loads++
	if s.loads <= s.loadFails {
		return storage.State{}, errors.New("database is locked")
	}
	return s.Memory.Load(ctx)
}

type sleepLog struct {
	mu  sync.Mutex
	got []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testConfig() Config {
	return Config{
		Schedule: schedule.Every(5 * time.Minute),
		Fetch:    retry.Policy{Delay: 30 * time.Second},
		Notify:   retry.Policy{Delay: 30 * time.Second},
		Load:     retry.Policy{Delay: time.Second, MaxAttempts: 3},
		Save:     retry.Policy{Delay: time.Second, MaxAttempts: 3},
	}
}

func newLoop(f source.Fetcher, st storage.Store, n Notifier, sl *sleepLog) *Loop {
	return New(testConfig(), f, st, n, WithSleep(sl.sleep))
}

func fp(text string) fingerprint.Fingerprint { return fingerprint.Hasher{}.Fingerprint(text) }

func TestAbsentStateBootstrap(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	n := &recordingNotifier{}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, st, n, &sleepLog{})

	res, err := l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.True(t, res.Previous.IsZero())
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, st.Saves())

	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Fingerprint.Equal(fp("Hello")))
}

func TestUnchangedContentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	n := &recordingNotifier{}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, st, n, &sleepLog{})

	for i := 0; i < 5; i++ {
		res, err := l.RunCycle(ctx)
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, DecisionNotified, res.Decision)
		} else {
			assert.Equal(t, DecisionUnchanged, res.Decision)
		}
	}
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, st.Saves())
}

func TestHelloWorldScenario(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.Save(ctx, fp("Hello")))

	n := &recordingNotifier{}
	f := &scriptedFetcher{texts: []string{"Hello", "World"}}
	l := newLoop(f, st, n, &sleepLog{})

	res, err := l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionUnchanged, res.Decision)
	assert.Empty(t, n.sent)
	got, _ := st.Load(ctx)
	assert.True(t, got.Fingerprint.Equal(fp("Hello")))

	res, err = l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	require.Len(t, n.sent, 1)
	assert.Contains(t, n.sent[0], "World")
	assert.Contains(t, n.sent[0], pageURL)
	got, _ = st.Load(ctx)
	assert.True(t, got.Fingerprint.Equal(fp("World")))
	assert.Equal(t, 2, st.Saves())
}

func TestFetchRetriesWithConstantDelay(t *testing.T) {
	sl := &sleepLog{}
	f := &scriptedFetcher{texts: []string{"", "", "Hello"}}
	n := &recordingNotifier{}
	l := newLoop(f, storage.NewMemory(), n, sl)

	res, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sl.got)
	assert.Len(t, n.sent, 1)
}

func TestNotifyRetriesThenPersists(t *testing.T) {
	sl := &sleepLog{}
	st := storage.NewMemory()
	n := &recordingNotifier{fail: 2}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, st, n, sl)

	res, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.Equal(t, 3, n.n)
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, st.Saves())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sl.got)
}

func TestStateNotSavedBeforeDelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Notify.MaxAttempts = 2
	st := storage.NewMemory()
	n := &recordingNotifier{fail: 10}
	sl := &sleepLog{}
	l := New(cfg, &scriptedFetcher{texts: []string{"Hello"}}, st, n, WithSleep(sl.sleep))

	res, err := l.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, DecisionNotifyFailed, res.Decision)
	assert.Equal(t, 0, st.Saves())
}

func TestCrashAfterNotifyRenotifiesOnce(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()

	// First run: delivered, but every save fails.
	n1 := &recordingNotifier{}
	l1 := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, &flakyStore{Memory: mem, saveFails: 100}, n1, &sleepLog{})
	res, err := l1.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionSaveFailed, res.Decision)
	assert.Len(t, n1.sent, 1)

	// Restart with a healthy store.
	n2 := &recordingNotifier{}
	l2 := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, mem, n2, &sleepLog{})
	for i := 0; i < 3; i++ {
		_, err := l2.RunCycle(ctx)
		require.NoError(t, err)
	}
	assert.Len(t, n2.sent, 1)
	assert.Equal(t, 1, mem.Saves())
}

func TestSaveRetryIsBounded(t *testing.T) {
	sl := &sleepLog{}
	fs := &flakyStore{Memory: storage.NewMemory(), saveFails: 100}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, fs, &recordingNotifier{}, sl)

	res, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionSaveFailed, res.Decision)
	assert.Equal(t, 3, fs.saves)
}

func TestSaveSucceedsOnRetry(t *testing.T) {
	fs := &flakyStore{Memory: storage.NewMemory(), saveFails: 2}
	n := &recordingNotifier{}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, fs, n, &sleepLog{})

	res, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)

	res, err = l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DecisionUnchanged, res.Decision)
	assert.Len(t, n.sent, 1)
}

func TestLoadFailureDegradesToAbsent(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Save(ctx, fp("Hello")))
	fs := &flakyStore{Memory: mem, loadFails: 100}
	n := &recordingNotifier{}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, fs, n, &sleepLog{})

	res, err := l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.Equal(t, 3, fs.loads)
	assert.Len(t, n.sent, 1)

	// The save refreshed the cache; no further loads or notifications.
	res, err = l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionUnchanged, res.Decision)
	assert.Equal(t, 3, fs.loads)
}

func TestLoadHappensLazilyOnce(t *testing.T) {
	fs := &flakyStore{Memory: storage.NewMemory()}
	l := newLoop(&scriptedFetcher{texts: []string{"Hello"}}, fs, &recordingNotifier{}, &sleepLog{})
	assert.Equal(t, 0, fs.loads)

	for i := 0; i < 3; i++ {
		_, err := l.RunCycle(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fs.loads)
}

func TestCancelledCycleLeavesStateUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := storage.NewMemory()
	f := &scriptedFetcher{texts: []string{""}}
	calls := 0
	l := New(testConfig(), f, st, &recordingNotifier{}, WithSleep(func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}))

	res, err := l.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DecisionAborted, res.Decision)
	assert.Equal(t, 0, st.Saves())
}

func TestRunFirstCycleImmediatelyThenSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}
	f := &scriptedFetcher{texts: []string{"Hello", "Hello", "World"}}
	l := New(testConfig(), f, storage.NewMemory(), n,
		WithClock(func() time.Time { return clock }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			if len(waits) == 3 {
				cancel()
			}
			return ctx.Err()
		}),
	)

	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, []time.Duration{5 * time.Minute, 5 * time.Minute, 5 * time.Minute}, waits)
	require.Len(t, n.sent, 2)
	assert.True(t, strings.Contains(n.sent[1], "World"))

	s := l.Status()
	assert.False(t, s.Running)
	assert.Equal(t, 3, s.Cycles)
	assert.Equal(t, 2, s.Notifications)
	assert.Equal(t, DecisionNotified, s.LastDecision)
	assert.Equal(t, clock.Add(5*time.Minute), s.NextRun)
}

type countingRecorder struct {
	mu       sync.Mutex
	attempts map[string][2]int // op -> {ok, failed}
	cycles   []Decision
}

func (r *countingRecorder) Attempt(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts == nil {
		r.attempts = map[string][2]int{}
	}
	c := r.attempts[op]
	if err == nil {
		c[0]++
	} else {
		c[1]++
	}
	r.attempts[op] = c
}

func (r *countingRecorder) Cycle(res CycleResult) {
	r.mu.Lock()
	r.cycles = append(r.cycles, res.Decision)
	r.mu.Unlock()
}

func TestRecorderSeesAttemptsAndCycles(t *testing.T) {
	rec := &countingRecorder{}
	f := &scriptedFetcher{texts: []string{"", "Hello"}}
	l := New(testConfig(), f, storage.NewMemory(), &recordingNotifier{}, WithSleep((&sleepLog{}).sleep), WithRecorder(rec))

	_, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 1}, rec.attempts["fetch"])
	assert.Equal(t, [2]int{1, 0}, rec.attempts["notify"])
	assert.Equal(t, [2]int{1, 0}, rec.attempts["save"])
	assert.Equal(t, [2]int{1, 0}, rec.attempts["load"])
	assert.Equal(t, []Decision{DecisionNotified}, rec.cycles)
}

func TestRender(t *testing.T) {
	got := Render(source.Item{Text: "World", URL: pageURL})
	assert.Equal(t, "New post detected: \n \nWorld \n \n"+pageURL, got)
}

type itemFetcher struct{ item source.Item }

func (f itemFetcher) Fetch(ctx context.Context) (source.Item, error) { return f.item, nil }

func TestImageOnlyPostNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	n := &recordingNotifier{}
	l := newLoop(itemFetcher{source.Item{Text: "", URL: pageURL}}, st, n, &sleepLog{})

	res, err := l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.Equal(t, fp(""), res.Current)

	res, err = l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionUnchanged, res.Decision)

	assert.Equal(t, []string{"New post detected: \n \n \n \n" + pageURL}, n.sent)
	assert.Equal(t, 1, st.Saves())
}

func TestLegacyDigestMatchIsMigratedWithoutNotifying(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	md5, err := fingerprint.New("md5")
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, md5.Fingerprint("Hello")))

	n := &recordingNotifier{}
	f := &scriptedFetcher{texts: []string{"Hello", "Hello", "World"}}
	l := newLoop(f, st, n, &sleepLog{})

	res, err := l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionUnchanged, res.Decision)
	assert.Empty(t, n.sent)

	saved, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, fp("Hello"), saved.Fingerprint, "record rewritten in the current digest")

	res, err = l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionUnchanged, res.Decision)

	res, err = l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.Len(t, n.sent, 1)
}

func TestLegacyDigestMismatchNotifies(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	md5, err := fingerprint.New("md5")
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, md5.Fingerprint("Hello")))

	n := &recordingNotifier{}
	l := newLoop(&scriptedFetcher{texts: []string{"World"}}, st, n, &sleepLog{})

	res, err := l.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotified, res.Decision)
	assert.Len(t, n.sent, 1)
}

func TestRecordersFanOut(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	l := New(testConfig(), &scriptedFetcher{texts: []string{"Hello"}}, storage.NewMemory(), &recordingNotifier{},
		WithSleep((&sleepLog{}).sleep), WithRecorder(a), WithRecorder(b))

	_, err := l.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Decision{DecisionNotified}, a.cycles)
	assert.Equal(t, a.cycles, b.cycles)
	assert.Equal(t, a.attempts, b.attempts)
}
