package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"spudbot/internal/calendar"
	"spudbot/internal/config"
	"spudbot/internal/eventbus"
	"spudbot/internal/events"
	"spudbot/internal/netinfo"
	"spudbot/internal/schedule"
	"spudbot/internal/storage"
	logx "spudbot/pkg/logx"
)

const stateLastEpoch = "events.last_epoch"

// Core is the headless part of the bot: fetch, series, schedule and
// calendar reconciliation. The chat surfaces and the ops server are layered
// on top by App; one-shot CLI commands use Core directly.
type Core struct {
	log   logx.Logger
	calc  *schedule.Calculator
	store storage.Store
	cal   calendar.Calendar
	rec   *events.Reconciler
	poll  *Poller
	bus   eventbus.Bus
}

// CoreOption overrides a dependency, mainly for tests and dry runs.
type CoreOption func(*coreDeps)

type coreDeps struct {
	store   storage.Store
	cal     calendar.Calendar
	fetcher Fetcher
	bus     eventbus.Bus
	now     func() time.Time
}

func WithStore(s storage.Store) CoreOption       { return func(d *coreDeps) { d.store = s } }
func WithCalendar(c calendar.Calendar) CoreOption { return func(d *coreDeps) { d.cal = c } }
func WithFetcher(f Fetcher) CoreOption            { return func(d *coreDeps) { d.fetcher = f } }
func WithBus(b eventbus.Bus) CoreOption           { return func(d *coreDeps) { d.bus = b } }
func WithClock(now func() time.Time) CoreOption   { return func(d *coreDeps) { d.now = now } }

// OpenCore builds the headless components from cfg.
func OpenCore(ctx context.Context, cfg *config.Config, log logx.Logger, opts ...CoreOption) (*Core, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var d coreDeps
	for _, o := range opts {
		o(&d)
	}

	consts, err := config.Constants(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	calc, err := schedule.New(consts)
	if err != nil {
		return nil, err
	}

	if d.fetcher == nil {
		nc, err := mapNetinfoConfig(cfg)
		if err != nil {
			return nil, err
		}
		client, err := netinfo.NewClient(nc)
		if err != nil {
			return nil, err
		}
		d.fetcher = client
	}
	if d.cal == nil {
		if d.cal, err = openCalendar(cfg, log); err != nil {
			return nil, err
		}
	}
	ownStore := false
	if d.store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		if d.store, err = storage.Open(sc, log); err != nil {
			if errors.Is(err, storage.ErrDisabled) {
				return nil, errors.New("storage is disabled but the event store is required")
			}
			return nil, err
		}
		ownStore = true
		log.Info("storage enabled", logx.String("driver", d.store.Driver()))
	}
	fail := func(err error) (*Core, error) {
		if ownStore {
			_ = d.store.Close()
		}
		return nil, err
	}

	recOpts := []events.Option{}
	if d.now != nil {
		recOpts = append(recOpts, events.WithClock(d.now))
	}
	if raw, ok, err := d.store.GetState(ctx, stateLastEpoch); err != nil {
		log.Warn("last epoch unavailable; decrease check starts fresh", logx.Err(err))
	} else if ok {
		if e, perr := strconv.ParseUint(raw, 10, 64); perr == nil {
			recOpts = append(recOpts, events.WithLastEpoch(e))
		}
	}
	rec, err := events.New(calc, d.store, d.cal, log, recOpts...)
	if err != nil {
		return fail(err)
	}

	retention, err := config.Retention(cfg)
	if err != nil {
		return fail(err)
	}
	poll := NewPoller(d.fetcher, d.store, d.bus, cfg.Source.VaultedSMH, retention, log)
	if d.now != nil {
		poll.now = d.now
	}

	if nominal := calc.NominalEpoch(time.Now()); nominal > 0 {
		log.Debug("schedule loaded",
			logx.Time("genesis", consts.Genesis),
			logx.Duration("epoch", consts.Epoch),
			logx.Uint64("nominal_epoch", nominal),
		)
	}
	return &Core{
		log:   log.With(logx.String("comp", "core")),
		calc:  calc,
		store: d.store,
		cal:   d.cal,
		rec:   rec,
		poll:  poll,
		bus:   d.bus,
	}, nil
}

func (c *Core) Calculator() *schedule.Calculator { return c.calc }
func (c *Core) Reconciler() *events.Reconciler   { return c.rec }
func (c *Core) Poller() *Poller                  { return c.poll }
func (c *Core) Store() storage.Store             { return c.store }

// Close releases the store.
func (c *Core) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Sync reconciles the calendar with epoch, exports the outcome and
// remembers the epoch for the decrease check across restarts.
func (c *Core) Sync(ctx context.Context, epoch uint64) (events.Report, error) {
	rep, err := c.rec.Reconcile(ctx, epoch)
	if err != nil {
		var iw *events.InvariantError
		switch {
		case errors.Is(err, events.ErrBusy):
			observeBusy()
		case errors.As(err, &iw):
			observeRejected(iw)
		}
		return rep, err
	}
	observeReport(rep)
	if perr := c.store.PutState(ctx, stateLastEpoch, strconv.FormatUint(epoch, 10)); perr != nil {
		c.log.Warn("persist last epoch failed", logx.Err(perr))
	}
	return rep, nil
}

// Resync drops records whose calendar entry is gone, then runs one pass
// for the latest epoch so they are recreated right away.
func (c *Core) Resync(ctx context.Context) (events.ResyncReport, *events.Report, error) {
	rr, err := c.rec.Resync(ctx)
	if err != nil {
		return rr, nil, err
	}
	epoch, ok := c.rec.LastEpoch()
	if !ok {
		u, err := c.poll.Poll(ctx)
		if err != nil {
			return rr, nil, fmt.Errorf("resync: %w", err)
		}
		epoch = u.Stats.Epoch
	}
	rep, err := c.Sync(ctx, epoch)
	if err != nil {
		return rr, nil, err
	}
	return rr, &rep, nil
}

// ScheduleView is the JSON shape of the current windows and stored records.
type ScheduleView struct {
	Epoch   uint64                `json:"epoch"`
	Known   bool                  `json:"known"`
	Windows []schedule.Window     `json:"windows,omitempty"`
	Records []storage.EventRecord `json:"records"`
}

// View describes the schedule for the last reconciled epoch.
func (c *Core) View(ctx context.Context) (ScheduleView, error) {
	var v ScheduleView
	if e, ok := c.rec.LastEpoch(); ok {
		ws, err := c.calc.Windows(e)
		if err != nil {
			return v, err
		}
		v.Epoch, v.Known, v.Windows = e, true, ws
	}
	recs, err := c.store.ListEvents(ctx)
	if err != nil {
		return v, err
	}
	v.Records = recs
	return v, nil
}

// LoadConfig reads and fully validates the config file at path.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfgm := config.NewConfigManager(path)
	cfgm.SetValidator(validateApp)
	return cfgm.Load(ctx)
}

// FetchEpoch asks the configured source for the current epoch.
func FetchEpoch(ctx context.Context, cfg *config.Config) (uint64, error) {
	nc, err := mapNetinfoConfig(cfg)
	if err != nil {
		return 0, err
	}
	client, err := netinfo.NewClient(nc)
	if err != nil {
		return 0, err
	}
	info, err := client.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch network info: %w", err)
	}
	return info.Epoch, nil
}
