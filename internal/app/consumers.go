package app

import (
	"context"
	"errors"
	"time"

	"spudbot/internal/eventbus"
	"spudbot/internal/events"
	"spudbot/internal/metrics"
	logx "spudbot/pkg/logx"
)

func (a *App) startConsumers() {
	recCh, recUnsub := a.bus.Subscribe(4, eventbus.TopicNetinfoUpdated)
	a.sup.Go0("events.reconcile", func(c context.Context) {
		defer recUnsub()
		consumeUpdates(c, recCh, func(u Update) { a.reconcile(c, u) })
	})

	presCh, presUnsub := a.bus.Subscribe(4, eventbus.TopicNetinfoUpdated)
	a.sup.Go0("present.update", func(c context.Context) {
		defer presUnsub()
		consumeUpdates(c, presCh, func(u Update) { a.present(c, u) })
	})

	failCh, failUnsub := a.bus.Subscribe(8, eventbus.TopicPollFailed)
	a.sup.Go0("netinfo.failures", func(c context.Context) {
		defer failUnsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-failCh:
				if !ok {
					return
				}
				if err, _ := e.Data.(error); err != nil {
					a.log.Warn("poll failed", logx.Err(err))
				}
				metrics.BusDropped.Set(float64(a.bus.Dropped()))
			}
		}
	})
}

// consumeUpdates hands fn the newest Update of every burst; older queued
// updates are superseded by it.
func consumeUpdates(ctx context.Context, ch <-chan eventbus.Event, fn func(Update)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			u, ok := e.Data.(Update)
			if !ok {
				continue
			}
		drain:
			for {
				select {
				case newer, more := <-ch:
					if !more {
						fn(u)
						return
					}
					if nu, ok := newer.Data.(Update); ok {
						u = nu
					}
				default:
					break drain
				}
			}
			fn(u)
		}
	}
}

func (a *App) reconcile(ctx context.Context, u Update) {
	metrics.BusDropped.Set(float64(a.bus.Dropped()))
	rep, err := a.core.Sync(ctx, u.Stats.Epoch)
	switch {
	case errors.Is(err, events.ErrBusy):
		a.log.Debug("reconcile skipped; pass in flight", logx.Uint64("epoch", u.Stats.Epoch))
	case err != nil:
		if ctx.Err() == nil {
			a.log.Warn("reconcile failed", logx.Err(err))
		}
	default:
		if perr := rep.Err(); perr != nil {
			a.log.Warn("reconcile incomplete", logx.String("pass", rep.Pass), logx.Err(perr))
		}
	}
}

func (a *App) present(ctx context.Context, u Update) {
	c, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := a.pres.ApplyTitles(c, u.Stats, u.Price)
	metrics.TitleUpdates.Add(float64(n))
	if err != nil {
		a.log.Warn("title update failed", logx.Err(err))
	}
	if err := a.pres.RefreshPanel(c, u.Stats, u.Price); err != nil {
		metrics.PanelUpdates.WithLabelValues("error").Inc()
		a.log.Warn("panel update failed", logx.Err(err))
		return
	}
	metrics.PanelUpdates.WithLabelValues("ok").Inc()
}
