package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"spudbot/internal/eventbus"
	"spudbot/internal/metrics"
	"spudbot/internal/netinfo"
	"spudbot/internal/present"
	"spudbot/internal/storage"
	"spudbot/internal/units"
	logx "spudbot/pkg/logx"
)

// Fetcher retrieves one network info snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*netinfo.Info, error)
}

// Update is the payload of eventbus.TopicNetinfoUpdated.
type Update struct {
	Stats units.Stats
	Price units.PriceView
}

// Poller turns one fetch into normalized stats, series samples and a bus
// event. The price tracker lives here so the last good price survives
// upstream outages.
type Poller struct {
	src     Fetcher
	series  storage.SeriesStore
	bus     eventbus.Bus
	log     logx.Logger
	vaulted float64
	now     func() time.Time

	tracker units.PriceTracker

	mu        sync.Mutex
	retention map[string]time.Duration
	seeded    bool
	last      Update
	lastOK    time.Time
	lastErr   error
}

func NewPoller(src Fetcher, series storage.SeriesStore, bus eventbus.Bus, vaultedSMH float64, retention map[string]time.Duration, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		src:       src,
		series:    series,
		bus:       bus,
		vaulted:   vaultedSMH,
		retention: retention,
		log:       log.With(logx.String("comp", "poller")),
		now:       time.Now,
	}
}

func (p *Poller) SetRetention(r map[string]time.Duration) {
	p.mu.Lock()
	p.retention = r
	p.mu.Unlock()
}

// Last returns the most recent successful update and when it happened.
func (p *Poller) Last() (Update, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastOK, !p.lastOK.IsZero()
}

// LastErr returns the error of the most recent poll, nil after a success.
func (p *Poller) LastErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Poll runs one fetch cycle. Series write failures are logged and do not
// fail the poll; the stats are still published.
func (p *Poller) Poll(ctx context.Context) (Update, error) {
	start := p.now()
	info, err := p.src.Fetch(ctx)
	metrics.PollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollTotal.WithLabelValues("error").Inc()
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Topic: eventbus.TopicPollFailed, Time: start, Data: err})
		}
		return Update{}, fmt.Errorf("fetch network info: %w", err)
	}

	s := units.Normalize(info, p.vaulted)
	if s.FetchedAt.IsZero() {
		s.FetchedAt = start
	}
	p.seed(ctx)
	u := Update{Stats: s, Price: p.tracker.Observe(s)}

	if err := p.record(ctx, u); err != nil {
		p.log.Warn("series update failed", logx.Err(err))
	}
	exportStats(u)

	p.mu.Lock()
	p.last, p.lastOK, p.lastErr = u, p.now(), nil
	p.mu.Unlock()
	metrics.PollTotal.WithLabelValues("ok").Inc()
	metrics.PollLastSuccess.Set(float64(p.now().Unix()))

	p.log.Debug("poll ok",
		logx.Uint64("epoch", s.Epoch),
		logx.Uint64("layer", s.Layer),
		logx.Bool("price_online", s.PriceOnline),
		logx.Duration("took", time.Since(start)),
	)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Topic: eventbus.TopicNetinfoUpdated, Time: s.FetchedAt, Data: u})
	}
	return u, nil
}

// seed restores the last good price from the stored series once per process.
func (p *Poller) seed(ctx context.Context) {
	p.mu.Lock()
	if p.seeded || p.series == nil {
		p.mu.Unlock()
		return
	}
	p.seeded = true
	window := p.retention[present.MetricPrice]
	p.mu.Unlock()
	if window <= 0 {
		window = 24 * time.Hour
	}

	pts, err := p.series.RangePoints(ctx, present.MetricPrice, p.now().Add(-window))
	if err != nil {
		p.log.Warn("price history unavailable; trend starts fresh", logx.Err(err))
		return
	}
	if n := len(pts); n > 0 {
		p.tracker.Seed(pts[n-1].Value)
		p.log.Debug("price tracker seeded", logx.Float64("price", pts[n-1].Value))
	}
}

func (p *Poller) record(ctx context.Context, u Update) error {
	if p.series == nil {
		return nil
	}
	at := u.Stats.FetchedAt
	pts := []storage.Point{{Metric: present.MetricNetspace, At: at, Value: u.Stats.NetspaceEiB}}
	if u.Stats.PriceOnline {
		pts = append(pts, storage.Point{Metric: present.MetricPrice, At: at, Value: u.Stats.Price})
	}
	if err := p.series.AppendPoints(ctx, pts...); err != nil {
		return err
	}
	for _, pt := range pts {
		metrics.SeriesPoints.WithLabelValues(pt.Metric).Inc()
	}

	p.mu.Lock()
	retention := make(map[string]time.Duration, len(p.retention))
	for k, v := range p.retention {
		retention[k] = v
	}
	p.mu.Unlock()

	names := make([]string, 0, len(retention))
	for m := range retention {
		names = append(names, m)
	}
	sort.Strings(names)

	var errs []error
	now := p.now()
	for _, m := range names {
		n, err := p.series.PrunePoints(ctx, m, now.Add(-retention[m]))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", m, err))
			continue
		}
		if n > 0 {
			metrics.SeriesPruned.WithLabelValues(m).Add(float64(n))
		}
	}
	return errors.Join(errs...)
}

func exportStats(u Update) {
	s := u.Stats
	g := metrics.NetworkValue
	g.WithLabelValues("epoch").Set(float64(s.Epoch))
	g.WithLabelValues("layer").Set(float64(s.Layer))
	g.WithLabelValues("netspace_eib").Set(s.NetspaceEiB)
	g.WithLabelValues("active_smeshers").Set(float64(s.ActiveSmeshers))
	g.WithLabelValues("circulating_smh").Set(s.CirculatingSMH)
	g.WithLabelValues("percent_total_supply").Set(s.PercentTotalSupply)
	g.WithLabelValues("total_accounts").Set(float64(s.TotalAccounts))
	if u.Price.Known {
		g.WithLabelValues("price_usd").Set(u.Price.Price)
		g.WithLabelValues("marketcap_usd").Set(units.MarketCap(s.CirculatingSMH, u.Price.Price))
	}
}
