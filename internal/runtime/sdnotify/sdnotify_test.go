package sdnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "postwatch/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(rec *recorder, every time.Duration, err error) *Notifier {
	n := New(logx.Nop())
	n.notify = rec.notify
	n.watchdog = func() (time.Duration, error) { return every, err }
	return n
}

func TestLifecycleStates(t *testing.T) {
	rec := &recorder{}
	n := newTestNotifier(rec, 0, nil)

	n.Ready()
	n.Status("checking")
	n.Stopping()

	assert.Equal(t, []string{"READY=1", "STATUS=checking", "STOPPING=1"}, rec.states)
}

func TestWatchdogDisabledReturnsImmediately(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"not configured", nil},
		{"unreadable", errors.New("bad WATCHDOG_USEC")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			n := newTestNotifier(rec, 0, tc.err)

			done := make(chan struct{})
			go func() {
				n.Watchdog(context.Background(), nil)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("Watchdog blocked with watchdog disabled")
			}
			assert.Empty(t, rec.states)
		})
	}
}

func TestWatchdogPingsUntilCancelled(t *testing.T) {
	rec := &recorder{}
	n := newTestNotifier(rec, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx, func() bool { return true })
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.count("WATCHDOG=1") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWatchdogSkipsPingWhenUnhealthy(t *testing.T) {
	rec := &recorder{}
	n := newTestNotifier(rec, 10*time.Millisecond, nil)

	var mu sync.Mutex
	checks := 0
	healthy := func() bool {
		mu.Lock()
		defer mu.Unlock()
		checks++
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx, healthy)
		close(done)
	}()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return checks >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, rec.count("WATCHDOG=1"))
}
