package app

import (
	"context"
	"fmt"
	"time"

	"jobhost/internal/config"
	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/jobs"
	rtsup "jobhost/internal/runtime/supervisor"
	"jobhost/internal/storage"
	"jobhost/internal/task/scheduler"
	"jobhost/internal/transport/httpapi"
	logx "jobhost/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// retention is the history age limit; 0 disables pruning.
	retention time.Duration

	sched    *scheduler.Scheduler
	jobs     *jobs.Registry
	settings schedulerSettings

	http       *httpapi.Server
	httpCancel context.CancelFunc
}

type Option func(*options)

type options struct {
	registry *jobs.Registry
}

// WithRegistry replaces the built-in job registry.
func WithRegistry(r *jobs.Registry) Option { return func(o *options) { o.registry = r } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg.Logging))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var (
		store     storage.Store
		retention time.Duration
	)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		retention = sc.Retention
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedOpts, settings, err := mapSchedulerOptions(cfg)
	if err != nil {
		return nil, err
	}
	schedOpts.Bus = bus
	schedOpts.Log = log
	sched := scheduler.New(schedOpts)

	registry := o.registry
	if registry == nil {
		registry = jobs.Builtin(log.With(logx.String("comp", "jobs")))
	}

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		retention: retention,
		sched:     sched,
		jobs:      registry,
		settings:  settings,
	}

	hc, enabled, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		deps := httpapi.Deps{
			Scheduler:   sched,
			Credentials: a.credentials,
			Log:         log.With(logx.String("comp", "http")),
		}
		if store != nil {
			deps.History = store
		}
		srv, err := httpapi.New(hc, deps)
		if err != nil {
			return nil, err
		}
		a.http = srv
	}
	return a, nil
}

// Scheduler returns the scheduler the app hosts.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) credentials() (string, string) {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return config.AuthConfig{}.Credentials()
	}
	return cfg.Auth.Credentials()
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
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapSchedulerOptions(cfg); err != nil {
			return err
		}
		if _, _, err := mapHTTPConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return errors.Wrap(err, "start scheduler")
	}

	if a.store != nil {
		st := a.store
		a.sup.Go("history.persist", func(c context.Context) error {
			return persistHistory(c, a.bus, st, a.log.With(logx.String("comp", "history")))
		})
	}

	if a.http != nil {
		httpCtx, cancel := context.WithCancel(a.sup.Context())
		a.httpCancel = cancel
		a.sup.Go("http.server", func(context.Context) error { return a.http.Run(httpCtx) })
	}

	b := bootstrapper{
		sched:    a.sched,
		registry: a.jobs,
		misfire:  a.settings.Misfire,
		log:      a.log.With(logx.String("comp", "bootstrap")),
	}
	a.sup.Go0("bootstrap", func(c context.Context) {
		b.run(c, a.settings.StartupDelay, func() map[string]string {
			if cfg := a.cfgm.Get(); cfg != nil {
				return cfg.CronExpSettings
			}
			return nil
		})
	})

	// Debug-level event trace; components subscribe on their own for real work.
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

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// HTTP goes first so no request restarts the scheduler mid-shutdown.
	step("http", 6*time.Second, func(context.Context) error {
		if a.httpCancel != nil {
			a.httpCancel()
		}
		return nil
	})
	step("scheduler", 30*time.Second, func(c context.Context) error {
		a.sched.Stop(c, a.settings.WaitOnStop)
		return nil
	})

	// Background loops unwind after the last execution events are published.
	a.sup.Cancel()
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
