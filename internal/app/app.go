package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"medtrack/internal/api"
	"medtrack/internal/config"
	"medtrack/internal/eventbus"
	"medtrack/internal/notifier"
	"medtrack/internal/reminder"
	rtsup "medtrack/internal/runtime/supervisor"
	"medtrack/internal/storage"
	logx "medtrack/pkg/logx"
)

const journalBuffer = 256

// App owns every long-lived component and the config reload fanout.
type App struct {
	cfgm *config.ConfigManager
	cur  atomic.Pointer[config.Config]
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	notif *notifier.Router
	disp  *reminder.Dispatcher
	http  *api.Server

	events      <-chan eventbus.Event
	unsubEvents func()
}

// NewApp loads cfgPath and builds the components without starting them.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}
	a.cur.Store(cfg)

	fail := func(err error) (*App, error) {
		a.closeStore()
		_ = logSvc.Close()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; reminders cannot be dispatched")
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.notif, err = notifier.NewRouter(ncfg, location(cfg), log.With(logx.String("comp", "notifier")), a.bus)
	if err != nil {
		return fail(err)
	}

	rcfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	var schedStore reminder.Store
	if a.store != nil {
		schedStore = a.store
	}
	a.disp = reminder.New(rcfg, schedStore, a.notif, log.With(logx.String("comp", "dispatcher")), a.bus)

	scfg, err := mapServerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.http = api.NewServer(scfg, a.buildHandler, log.With(logx.String("comp", "http")))

	// Subscribe before anything can publish so the journal never misses a dose.
	a.events, a.unsubEvents = a.bus.Subscribe(journalBuffer, "dose.", "tick.", "notifier.")
	return a, nil
}

func (a *App) Config() *config.Config           { return a.cur.Load() }
func (a *App) Logger() logx.Logger              { return a.log }
func (a *App) Store() storage.Store             { return a.store }
func (a *App) Dispatcher() *reminder.Dispatcher { return a.disp }
func (a *App) Notifier() *notifier.Router       { return a.notif }
func (a *App) Location() *time.Location         { return location(a.cur.Load()) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

func (a *App) buildHandler(sc api.ServerConfig) http.Handler {
	var sched api.Scheduler
	if a.disp != nil {
		sched = a.disp
	}
	var sender notifier.Sender
	if a.notif != nil {
		sender = a.notif
	}
	return api.NewRouter(api.Options{
		Store:     a.store,
		Sender:    sender,
		Scheduler: sched,
		Log:       a.log.With(logx.String("comp", "api")),
		Location:  a.Location(),
		Token:     sc.Token,
		Pprof:     sc.Pprof,
		Runtime:   a.runtimeSnapshot,
	})
}

func (a *App) runtimeSnapshot() any {
	out := map[string]any{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if a.http != nil {
		if s := a.http.Supervisor(); s != nil {
			out["http"] = s.Snapshot()
		}
	}
	return out
}

// Start runs the dispatcher, HTTP server, journal and config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateReload(cfg)
	})

	runCtx := a.sup.Context()
	if a.store == nil && a.disp.Enabled() {
		a.log.Warn("scheduler enabled without storage; dispatcher stays idle")
	} else if err := a.disp.Start(runCtx); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("dispatcher: %w", err)
	}
	a.http.Start(runCtx)

	a.sup.Go("journal", func(c context.Context) error {
		a.journal(c)
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config into every live component.
func (a *App) applyConfig(ctx context.Context, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	old := a.cur.Swap(newCfg)
	ch := config.SummarizeConfigChange(old, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := strings.Join(ch.Sections, ",")
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", changed)}, ch.Attrs...)...)
	for _, s := range ch.Restart {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else if err := a.notif.Apply(ncfg); err != nil {
		a.log.Warn("notifier apply failed; keeping previous", logx.Err(err))
	}

	if rcfg, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else if a.store != nil {
		if err := a.disp.Apply(rcfg); err != nil {
			a.log.Warn("scheduler apply failed", logx.Err(err))
		}
	}

	if scfg, err := mapServerConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, scfg)
	}

	a.log.Info("config reloaded", logx.String("changed", changed))
}

// journal appends dose.* events to the store's dose log and logs the rest
// at debug.
func (a *App) journal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-a.events:
			if !ok {
				return
			}
			a.record(ctx, e)
		}
	}
}

func (a *App) record(ctx context.Context, e eventbus.Event) {
	ev, ok := e.Data.(reminder.DoseEvent)
	if !ok || a.store == nil {
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		return
	}
	entry := storage.DoseLogEntry{
		MedicationID: ev.MedicationID,
		At:           ev.At,
		Outcome:      ev.Outcome,
		QuantityLeft: ev.QuantityLeft,
		Error:        ev.Error,
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := a.store.AppendDoseLog(wctx, entry); err != nil {
		a.log.Warn("dose journal write failed", logx.MedicationID(ev.MedicationID), logx.Err(err))
	}
}

// drainJournal records whatever is buffered without blocking.
func (a *App) drainJournal(ctx context.Context) {
	for {
		select {
		case e, ok := <-a.events:
			if !ok {
				return
			}
			a.record(ctx, e)
		default:
			return
		}
	}
}

// TickOnce runs a single dispatch pass outside the cron trigger and journals
// its outcomes before returning.
func (a *App) TickOnce(ctx context.Context) (reminder.TickReport, error) {
	if a.store == nil {
		return reminder.TickReport{}, storage.ErrDisabled
	}
	rep, err := a.disp.RunOnce(ctx)
	a.drainJournal(ctx)
	return rep, err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		if a.unsubEvents != nil {
			a.unsubEvents()
		}
		a.closeStore()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Dispatcher first so no commit races the store close.
	step("dispatcher", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("journal", time.Second, func(c context.Context) error { a.drainJournal(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.unsubEvents != nil {
			a.unsubEvents()
		}
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() {
	if a.store != nil {
		_ = a.store.Close()
	}
}
