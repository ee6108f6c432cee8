package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"spudbot/internal/config"
	"spudbot/internal/eventbus"
	"spudbot/internal/observability/ops"
	"spudbot/internal/present"
	rtsup "spudbot/internal/runtime/supervisor"
	"spudbot/internal/task/scheduler"
	kit "spudbot/internal/transport"
	telegram "spudbot/internal/transport/telegram/adapter"
	logx "spudbot/pkg/logx"
	"spudbot/pkg/systemd"
)

const (
	jobPoll   = "netinfo.poll"
	jobResync = "calendar.resync"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	core    *Core
	adapter kit.Adapter
	pres    *present.Presenter
	sched   *scheduler.Service
	ops     *ops.Service

	staleAfter time.Duration
	started    time.Time

	ownMu  sync.RWMutex
	owners map[int64]struct{}
}

// Option overrides a collaborator built by New.
type Option func(*options)

type options struct {
	adapter kit.Adapter
	core    []CoreOption
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithCoreOptions forwards options to OpenCore.
func WithCoreOptions(opts ...CoreOption) Option {
	return func(o *options) { o.core = append(o.core, opts...) }
}

func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateApp)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled; the sender is attached below and the
	// final config applied once it exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg)
	log := root.With(logx.String("comp", "app"))

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, root)
		if err != nil {
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(ad)
	logSvc.Apply(logCfg)

	bus := eventbus.New()
	core, err := OpenCore(ctx, cfg, root, append([]CoreOption{WithBus(bus)}, o.core...)...)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = core.Close()
		return nil, err
	}

	pc, err := mapPresentConfig(cfg)
	if err != nil {
		return fail(err)
	}
	pres := present.New(ad, core.Store(), pc, root)

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sched := scheduler.New(sc, root.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		core:       core,
		adapter:    ad,
		pres:       pres,
		sched:      sched,
		staleAfter: staleAfter(config.PollInterval(cfg)),
	}
	a.setOwners(cfg.Telegram.OwnerUserIDs)

	if _, err := sched.AddSchedule(jobPoll, config.PollInterval(cfg), 0, func(c context.Context) error {
		_, err := core.Poller().Poll(c)
		return err
	}); err != nil {
		return fail(fmt.Errorf("source.interval: %w", err))
	}
	if spec := strings.TrimSpace(cfg.Calendar.Resync); spec != "" {
		if _, err := sched.AddSchedule(jobResync, spec, 0, func(c context.Context) error {
			_, _, err := core.Resync(c)
			return err
		}); err != nil {
			return fail(fmt.Errorf("calendar.resync: %w", err))
		}
	}

	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.ops = ops.New(oc, ops.Handlers{
		Ready: a.ready,
		Schedule: func(c context.Context) (any, error) {
			return core.View(c)
		},
		Jobs: func() any { return sched.Snapshot() },
	}, root)

	a.registerCommands()
	return a, nil
}

// validateApp runs the checks config.Validate cannot do without the
// presentation package.
func validateApp(_ context.Context, cfg *config.Config) error {
	_, err := mapPresentConfig(cfg)
	return err
}

// staleAfter bounds the age of the last successful poll before /readyz
// fails: three intervals, or one hour for cron schedules.
func staleAfter(spec string) time.Duration {
	ps, err := scheduler.ParseSchedule(spec)
	if err != nil || ps.Kind != scheduler.SpecInterval {
		return time.Hour
	}
	return 3 * ps.Every
}

func (a *App) ready(ctx context.Context) error {
	if err := a.core.Store().Ping(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	_, at, ok := a.core.Poller().Last()
	if !ok {
		if time.Since(a.started) > a.staleAfter {
			if err := a.core.Poller().LastErr(); err != nil {
				return fmt.Errorf("no successful poll yet: %w", err)
			}
			return errors.New("no successful poll yet")
		}
		return nil
	}
	if age := time.Since(at); age > a.staleAfter {
		return fmt.Errorf("last successful poll %s ago", age.Truncate(time.Second))
	}
	return nil
}

func (a *App) Core() *Core { return a.core }

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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()
	a.cfgm.SetLogger(a.log)

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.ops.Start(a.sup.Context()); err != nil {
		return err
	}

	a.startConsumers()
	a.sched.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log.With(logx.String("comp", "systemd")))
	})

	a.sup.Go0("startup", func(c context.Context) {
		if err := a.pres.SetStatus(c, true); err != nil {
			a.log.Warn("status title update failed", logx.Err(err))
		}
		if err := a.sched.RunNow(c, jobPoll); err != nil && !errors.Is(err, scheduler.ErrOverlapSkip) {
			a.log.Warn("initial poll failed", logx.Err(err))
		}
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.String("storage", a.core.Store().Driver()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.core.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// The offline title is written before the run context is cancelled so
	// the adapter can still deliver it.
	a.step(ctx, "status", 3*time.Second, func(c context.Context) error { return a.pres.SetStatus(c, false) })

	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.core.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs a shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem <= 0 {
				max = 0
			} else if rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
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

func (a *App) setOwners(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	a.ownMu.Lock()
	a.owners = m
	a.ownMu.Unlock()
}

func (a *App) isOwner(id int64) bool {
	a.ownMu.RLock()
	defer a.ownMu.RUnlock()
	_, ok := a.owners[id]
	return ok
}
