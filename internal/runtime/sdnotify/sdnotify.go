// Package sdnotify reports service state to systemd for Type=notify units.
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "postwatch/pkg/logx"
)

type Notifier struct {
	log      logx.Logger
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log.With(logx.String("comp", "systemd")),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form line shown by systemctl status.
func (n *Notifier) Status(line string) { n.send("STATUS=" + line) }

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

// Watchdog pings systemd at half the unit's WatchdogSec until ctx is done.
// It returns at once when the watchdog is not enabled. healthy may be nil;
// when it reports false the ping is skipped so systemd restarts the unit.
func (n *Notifier) Watchdog(ctx context.Context, healthy func() bool) {
	every, err := n.watchdog()
	if err != nil {
		n.log.Warn("systemd watchdog config unreadable", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	every /= 2
	n.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("skipping watchdog ping; watcher unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
