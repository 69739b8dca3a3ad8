package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"proxywatch/internal/config"
	"proxywatch/internal/deviceapi"
	"proxywatch/internal/eventbus"
	"proxywatch/internal/monitor"
	"proxywatch/internal/notifier"
	"proxywatch/internal/observability/metrics"
	"proxywatch/internal/observability/ops"
	"proxywatch/internal/report"
	"proxywatch/internal/router"
	rtsup "proxywatch/internal/runtime/supervisor"
	"proxywatch/internal/storage"
	kit "proxywatch/internal/transport"
	"proxywatch/internal/transport/telegram"
	logx "proxywatch/pkg/logx"
)

const startupMessage = "Bot is ready for work!\nRun command: /start"

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter kit.Adapter
	api     *deviceapi.Client
	notif   *notifier.Service
	metrics *metrics.Metrics
	ops     *ops.Service

	loops  *monitor.Registry
	report *report.Scheduler
	router *router.Manager

	updates   chan kit.Update
	startedAt time.Time
}

// New builds every component from the committed config of cfgm. Nothing
// runs until Start.
func New(cfgm *config.ConfigManager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(checkReload)

	api, err := deviceapi.New(mapAPIConfig(cfg), log.With(logx.String("comp", "deviceapi")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	notif := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), bus, store)
	m := metrics.New()

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		api:     api,
		notif:   notif,
		metrics: m,
		updates: make(chan kit.Update, 64),
	}
	a.ops = ops.New(mapOpsConfig(cfg), m.Handler(), a.health, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) loopFactory(name string, strategy func() monitor.Strategy) monitor.Factory {
	return func(interval time.Duration) (*monitor.Loop, error) {
		cfg := a.cfgm.Get()
		if interval <= 0 {
			interval = cfg.MonitorInterval(name)
		}
		mc, _ := cfg.Monitor(name)
		return monitor.NewLoop(monitor.LoopConfig{
			Strategy: strategy(),
			Fetcher:  a.api,
			Sender:   a.notif,
			Interval: interval,
			Silent:   mc.Silent,
			Bus:      a.bus,
			Log:      a.log,
		})
	}
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.loops = monitor.NewRegistry(runCtx, a.log, a.bus)
	a.loops.Register(monitor.NameDevices, a.loopFactory(monitor.NameDevices, func() monitor.Strategy { return monitor.StatusDiff{} }))
	a.loops.Register(monitor.NameRotation, a.loopFactory(monitor.NameRotation, func() monitor.Strategy { return monitor.NewRotationDiff() }))

	a.report = report.New(mapReportConfig(cfg), a.api, a.loops, a.notif, a.log)
	a.router = router.New(mapRouterConfig(cfg), a.adapter, router.Deps{
		Loops:   a.loops,
		Fetcher: a.api,
		Store:   a.store,
		Bus:     a.bus,
		LogPath: a.logs.FilePath,
	}, a.log)

	a.sup.Go0("metrics.consume", func(c context.Context) { a.metrics.Consume(c, a.bus) })

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		if err := a.router.UpdateMenu(c); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	if err := a.ops.Start(runCtx); err != nil {
		a.log.Warn("ops server not started", logx.Err(err))
	}
	if err := a.report.Start(runCtx); err != nil {
		a.log.Warn("report schedule not started", logx.Err(err))
	}

	if cfg.StartupMessageEnabled() {
		if err := a.notif.Send(runCtx, startupMessage, notifier.Options{Source: "app"}); err != nil {
			a.log.Warn("startup message failed", logx.Err(err))
		}
	}
	for _, name := range a.loops.Names() {
		if mc, ok := cfg.Monitor(name); ok && mc.Autostart {
			if _, err := a.loops.Start(name, 0); err != nil {
				a.log.Warn("autostart failed", logx.String("loop", name), logx.Err(err))
			}
		}
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.Strings("loops", a.loops.Names()))
	return nil
}

// reloadLoop applies committed configs published by the config manager.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
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
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// checkReload rejects a reloaded config that a running component would
// refuse, so the previous config stays committed.
func checkReload(_ context.Context, cfg *config.Config) error {
	if _, err := deviceapi.New(mapAPIConfig(cfg), logx.Nop()); err != nil {
		return err
	}
	return report.Check(mapReportConfig(cfg))
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range []string{"api", "storage"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
		a.log.Warn("log sinks partially applied", logx.Err(err))
	}
	a.notif.Apply(mapNotifierConfig(newCfg))
	a.router.Apply(mapRouterConfig(newCfg))
	if err := a.report.Apply(mapReportConfig(newCfg)); err != nil {
		a.log.Warn("invalid report config; schedule disabled", logx.Err(err))
	}
	if err := a.ops.Reconfigure(c, mapOpsConfig(newCfg)); err != nil {
		a.log.Warn("ops reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

type healthBody struct {
	OK         bool                   `json:"ok"`
	Uptime     string                 `json:"uptime"`
	Loops      []loopHealth           `json:"loops"`
	Supervisor rtsup.Counters         `json:"supervisor"`
	Dropped    uint64                 `json:"events_dropped"`
	LogDropped uint64                 `json:"log_telegram_dropped"`
	NextReport *time.Time             `json:"next_report,omitempty"`
	Recent     []notifier.HistoryItem `json:"recent_notifications,omitempty"`
}

type loopHealth struct {
	Name     string `json:"name"`
	Running  bool   `json:"running"`
	Interval string `json:"interval,omitempty"`
	State    string `json:"state,omitempty"`
	Ticks    uint64 `json:"ticks"`
}

func (a *App) health() any {
	b := healthBody{
		OK:         a.sup != nil && a.sup.Context().Err() == nil,
		Uptime:     time.Since(a.startedAt).Truncate(time.Second).String(),
		Supervisor: a.sup.Counters(),
		Dropped:    a.bus.Dropped(),
		LogDropped: a.logs.TelegramDropped(),
	}
	if a.loops != nil {
		for _, st := range a.loops.Status() {
			lh := loopHealth{Name: st.Name, Running: st.Running, Ticks: st.Ticks}
			if st.Running {
				lh.Interval = st.Interval.String()
				lh.State = st.State.String()
			}
			b.Loops = append(b.Loops, lh)
		}
	}
	if a.report != nil {
		if next := a.report.Next(); !next.IsZero() {
			b.NextReport = &next
		}
	}
	if recent := a.notif.Snapshot(); len(recent) > 0 {
		b.Recent = recent[max(0, len(recent)-5):]
	}
	return b
}

// Stop shuts components down in reverse dependency order. Every step is
// bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var errs []error
	step := func(name string, fn func(context.Context) error) {
		start := time.Now()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("loops", a.loops.StopAll)
	step("report", func(context.Context) error { a.report.Stop(); return nil })
	step("ops", func(c context.Context) error { a.ops.Stop(c); return nil })
	a.sup.Cancel()
	step("adapter", a.adapter.Stop)
	step("supervisor", a.sup.Wait)
	step("storage", func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("logs: %w", err))
	}
	return errors.Join(errs...)
}
