package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/fingerprint"
	"postwatch/internal/metrics"
	"postwatch/internal/notifier"
	"postwatch/internal/runtime/sdnotify"
	"postwatch/internal/runtime/supervisor"
	"postwatch/internal/source"
	"postwatch/internal/storage"
	"postwatch/internal/transport/telegram"
	"postwatch/internal/watcher"
	logx "postwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter *telegram.Adapter
	fetcher source.Fetcher
	notif   *notifier.Service
	loop    *watcher.Loop

	col   *metrics.Collectors
	mserv *metrics.Server
	sd    *sdnotify.Notifier
}

// NewApp loads the config at cfgPath (empty means environment only) and
// builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))
	if p := cfgm.Path(); p != "" {
		log.Info("config loaded", logx.String("path", p))
	} else {
		log.Info("config loaded from environment")
	}

	a, err := open(cfg, log, ad)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// open opens the state store and builds the rest on top of it. On error
// nothing it opened is left open.
func open(cfg *config.Config, log logx.Logger, ad *telegram.Adapter) (*App, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("state store opened", logx.String("driver", sc.Driver))

	a, err := build(cfg, log, ad, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, log logx.Logger, ad *telegram.Adapter, store storage.Store) (*App, error) {
	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	fetcher, err := source.New(srcCfg, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log)

	hasher, err := fingerprint.New(cfg.State.Algorithm)
	if err != nil {
		return nil, err
	}
	wcfg, err := mapWatcherConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		log:     log,
		store:   store,
		adapter: ad,
		fetcher: fetcher,
		notif:   notif,
		sd:      sdnotify.New(log),
	}

	opts := []watcher.Option{
		watcher.WithLogger(log),
		watcher.WithHasher(hasher),
		watcher.WithRecorder(systemdStatus{a.sd}),
	}
	if cfg.Metrics.Enabled {
		a.col = metrics.New()
		opts = append(opts, watcher.WithRecorder(a.col))
	}
	a.loop = watcher.New(wcfg, fetcher, store, notif, opts...)
	if a.col != nil {
		a.mserv = metrics.NewServer(cfg.Metrics.Addr, a.col, a.health, log)
		if cfg.Metrics.Pprof {
			a.mserv.EnableProfiling()
		}
	}
	return a, nil
}

// Status reports the watcher state.
func (a *App) Status() watcher.Status { return a.loop.Status() }

// health is the /health body: loop status, recent deliveries and the
// supervised goroutines.
func (a *App) health() map[string]any {
	out := map[string]any{
		"watcher":    a.loop.Status(),
		"deliveries": a.notif.Snapshot(),
	}
	if a.sup != nil {
		out["workers"] = a.sup.Snapshot()
	}
	return out
}

// systemdStatus shows the last cycle in `systemctl status`.
type systemdStatus struct{ sd *sdnotify.Notifier }

func (systemdStatus) Attempt(string, error) {}

func (s systemdStatus) Cycle(res watcher.CycleResult) {
	s.sd.Status(fmt.Sprintf("last check %s: %s", res.Finished.Format(time.RFC3339), res.Decision))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.Go("watcher", a.loop.Run)
	if a.mserv != nil {
		a.sup.Go("metrics", a.mserv.Run)
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, func() bool { return a.loop.Status().Running })
	})
	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// reloadLoop applies logging and notifier settings live. Everything else is
// fixed at startup and only produces a warning.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, newCfg)
			last = newCfg
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed := changedSections(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if fixed := restartSections(prev, next); len(fixed) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(fixed, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLogConfig(next))
	}
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping")
	a.sd.Stopping()

	// The watcher may be mid-save; wait for it before closing the store.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.sup.Stop(waitCtx); err != nil && waitCtx.Err() != nil {
		a.log.Warn("supervisor did not stop in time", logx.Err(err))
	}
	return a.close()
}

func (a *App) close() error {
	var err error
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			err = fmt.Errorf("close state store: %w", cerr)
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
