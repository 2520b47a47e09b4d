// Package app wires the daily check-in service together and owns its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"dailytask/internal/classifier"
	"dailytask/internal/command"
	"dailytask/internal/config"
	"dailytask/internal/device"
	"dailytask/internal/eventbus"
	"dailytask/internal/inbound"
	"dailytask/internal/notifier"
	rtsup "dailytask/internal/runtime/supervisor"
	"dailytask/internal/scheduler"
	"dailytask/internal/settings"
	"dailytask/internal/storage"
	kit "dailytask/internal/transport"
	"dailytask/internal/transport/sensor"
	"dailytask/internal/transport/telegram"
	logx "dailytask/pkg/logx"
)

const inboxSize = 256

type App struct {
	version string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	// tg is nil when no bot token is configured.
	tg     *telegram.Adapter
	sensor *sensor.Service

	settings   *settings.Settings
	cal        *calendarHolder
	dev        *device.Controller
	sched      *scheduler.Service
	notif      *notifier.Service
	reporter   *notifier.Reporter
	router     *command.Router
	dispatcher *inbound.Dispatcher
	bridge     *device.Bridge

	inbox chan kit.Inbound

	restartOnce sync.Once
	restartCh   chan struct{}
}

func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var (
		tg     *telegram.Adapter
		sender kit.Sender
	)
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		if tg, err = telegram.New(tcfg, bootLog); err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	logSvc.SetTelegramTarget(logTarget(cfg))
	log = log.With(logx.String("comp", "app"))
	if tg == nil {
		log.Warn("telegram token not set; reports and chat commands are disabled")
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	st, err := settings.New(store, cfg.Defaults, log.With(logx.String("comp", "settings")))
	if err != nil {
		return fail(err)
	}

	resolver, pruned, err := cfg.Resolver(time.Now())
	if err != nil {
		return fail(err)
	}
	if pruned > 0 {
		log.Info("expired calendar overrides skipped", logx.Int("count", pruned))
	}
	cal := newCalendarHolder(resolver)

	dcfg, err := mapDeviceConfig(cfg)
	if err != nil {
		return fail(err)
	}
	dev := device.New(dcfg)

	settle, err := config.ParseDurationField("scheduler.settle_delay", cfg.Scheduler.SettleDelay)
	if err != nil {
		return fail(err)
	}
	launchTimeout, err := config.ParseDurationField("scheduler.launch_timeout", cfg.Scheduler.LaunchTimeout)
	if err != nil {
		return fail(err)
	}
	sched, err := scheduler.New(scheduler.Options{
		Bus:           bus,
		Tasks:         store,
		Settings:      st,
		Calendar:      cal,
		Launcher:      dev,
		Log:           log.With(logx.String("comp", "scheduler")),
		AutoStartSpec: cfg.Scheduler.AutoStart,
		ResetSpec:     cfg.Scheduler.Reset,
		Timezone:      cfg.Scheduler.Timezone,
		SettleDelay:   settle,
		LaunchTimeout: launchTimeout,
	})
	if err != nil {
		return fail(err)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	var nsender kit.Sender
	if tg != nil {
		nsender = tg
	}
	notif := notifier.New(ncfg, nsender, reportTargets(cfg), log.With(logx.String("comp", "notifier")), notifier.WithBus(bus))

	a := &App{
		version:   version,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		tg:        tg,
		settings:  st,
		cal:       cal,
		dev:       dev,
		sched:     sched,
		notif:     notif,
		reporter:  notifier.NewReporter(bus, notif, log.With(logx.String("comp", "reports"))),
		bridge:    device.NewBridge(bus, dev, st, log.With(logx.String("comp", "device"))),
		inbox:     make(chan kit.Inbound, inboxSize),
		restartCh: make(chan struct{}),
	}

	router, err := command.New(command.Deps{
		Bus:           bus,
		Settings:      st,
		Tasks:         store,
		Notifications: store,
		Battery:       dev,
		Status:        sched,
		Calendar:      cal,
		Logs:          logSvc,
		Restarter:     a,
		Version:       version,
	}, notif, command.Options{
		Prefixes: cfg.Commands.Prefixes,
		Log:      log.With(logx.String("comp", "commands")),
	})
	if err != nil {
		return fail(err)
	}
	a.router = router
	a.dispatcher = inbound.New(bus, store, router, classifierFor(cfg), inbound.Sources{
		Target:  cfg.TargetSource(),
		Trusted: trustedSources(cfg),
	}, log.With(logx.String("comp", "inbound")))

	if cfg.Sensor.Enabled {
		scfg, err := mapSensorConfig(cfg)
		if err != nil {
			return fail(err)
		}
		a.sensor = sensor.New(scfg, log.With(logx.String("comp", "sensor")))
	}
	return a, nil
}

func classifierFor(cfg *config.Config) *classifier.Classifier {
	if cfg.Classifier == nil {
		return classifier.Default()
	}
	return classifier.New(*cfg.Classifier)
}

// Router exposes the command router, e.g. for a local console.
func (a *App) Router() *command.Router { return a.router }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapNotifierConfig(cfg)
		if err == nil {
			_, err = mapSensorConfig(cfg)
		}
		if err == nil {
			_, _, err = cfg.Resolver(time.Now())
		}
		return err
	})

	// Reports queued during shutdown are still flushed by notifier.Stop.
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(run))
	}
	if a.tg != nil {
		if err := a.tg.Start(run, a.inbox); err != nil {
			return err
		}
	}
	if a.sensor != nil {
		if err := a.sensor.Start(run, a.inbox); err != nil {
			return err
		}
	}

	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("reports", a.reporter.Run)
	a.sup.Go("device.bridge", a.bridge.Run)
	a.sup.Go("inbound.dispatch", func(c context.Context) error {
		return a.dispatcher.Run(c, a.inbox)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("notifications.prune", a.pruneLoop)
	a.sup.Go0("systemd.watchdog", a.watchdog)

	if a.tg != nil && a.cfgm.Get().Telegram.Menu {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.tg.UpdateMenuCommands(mctx, a.menu()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("version", a.version), logx.Bool("telegram", a.tg != nil), logx.Bool("sensor", a.sensor != nil))
	return nil
}

func (a *App) menu() []telegram.MenuCommand {
	cmds := a.router.Commands()
	out := make([]telegram.MenuCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, telegram.MenuCommand{Command: telegram.MenuName(c.Name), Description: c.Description})
	}
	return out
}

func (a *App) reloadLoop(c context.Context) {
	sub, unsub := a.cfgm.Subscribe(4)
	defer unsub()
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply pushes hot-reloadable sections into the running components.
func (a *App) apply(prev, next *config.Config) {
	change, attrs := config.SummarizeConfigChange(prev, next)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if change.Has("logging") || change.Has("telegram") {
		a.logs.SetTelegramTarget(logTarget(next))
		a.logs.Apply(mapLogConfig(next))
	}
	if change.Has("notifier") || change.Has("telegram") {
		if ncfg, err := mapNotifierConfig(next); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			was := a.notif.Enabled()
			a.notif.Apply(ncfg)
			a.notif.SetTargets(reportTargets(next))
			switch {
			case was && !ncfg.Enabled:
				stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !was && ncfg.Enabled:
				a.notif.Start(context.WithoutCancel(a.sup.Context()))
			}
		}
	}
	if change.Has("calendar") {
		if r, _, err := next.Resolver(time.Now()); err != nil {
			a.log.Warn("invalid calendar; keeping previous", logx.Err(err))
		} else {
			a.cal.Swap(r)
		}
	}
	if change.Has("classifier") {
		a.dispatcher.SetClassifier(classifierFor(next))
	}
	if change.Has("sources") || change.Has("telegram") {
		a.dispatcher.SetSources(inbound.Sources{Target: next.TargetSource(), Trusted: trustedSources(next)})
	}
	if change.Has("commands") {
		a.router.SetPrefixes(next.Commands.Prefixes)
	}
	if change.Has("defaults") {
		if err := a.settings.SetDefaults(next.Defaults); err != nil {
			a.log.Warn("invalid setting defaults; keeping previous", logx.Err(err))
		}
	}
	if len(change.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", change.Restart))
	}
	a.log.Info("config reloaded", attrs...)
}

// pruneLoop trims the notification log hourly when a retention is set.
func (a *App) pruneLoop(c context.Context) {
	sc, err := mapStorageConfig(a.cfgm.Get())
	if err != nil || sc.NotificationRetention <= 0 {
		return
	}
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		pctx, cancel := context.WithTimeout(c, 10*time.Second)
		n, err := a.store.PruneNotifications(pctx, time.Now().Add(-sc.NotificationRetention))
		cancel()
		switch {
		case err != nil && c.Err() == nil:
			a.log.Warn("notification prune failed", logx.Err(err))
		case n > 0:
			a.log.Debug("notifications pruned", logx.Int64("count", n))
		}
		select {
		case <-c.Done():
			return
		case <-t.C:
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "sensor", 2*time.Second, func(c context.Context) error {
		if a.sensor != nil {
			return a.sensor.Stop(c)
		}
		return nil
	})
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	// The notifier flushes through the adapter, so the adapter goes last.
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "telegram", 2*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one bounded shutdown step so a stuck component cannot stall
// the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
