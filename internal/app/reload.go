package app

import (
	"context"
	"strings"

	"spudbot/internal/config"
	logx "spudbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			if newCfg == nil {
				continue
			}
			ch := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if ch.Empty() {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.applyConfig(newCfg)
			a.log.Debug("config applied", logx.String("changed", strings.Join(ch.Sections, ",")))
		}
	}
}

// applyConfig pushes the hot-reloadable sections into the running
// components. The config was validated before it was published, so mapping
// errors here only keep the previous value.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	if pc, err := mapPresentConfig(cfg); err != nil {
		a.log.Warn("invalid display config; keeping previous", logx.Err(err))
	} else {
		a.pres.SetConfig(pc)
	}

	a.setOwners(cfg.Telegram.OwnerUserIDs)

	if r, err := config.Retention(cfg); err != nil {
		a.log.Warn("invalid retention config; keeping previous", logx.Err(err))
	} else {
		a.core.Poller().SetRetention(r)
	}

	if sc, err := mapSchedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
}
