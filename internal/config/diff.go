package config

import (
	"reflect"
	"sort"
	"strings"

	logx "spudbot/pkg/logx"
)

// restartSections are applied only at startup. A reload that changes them is
// still committed (live sections take effect) but the change is reported.
var restartSections = map[string]bool{
	"source":    true,
	"schedule":  true,
	"storage":   true,
	"calendar":  true,
	"telegram":  true,
	"ops":       true,
	"retention": false,
	"scheduler": false,
	"display":   false,
	"logging":   false,
}

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Restart lists the subset of Sections that only apply after a restart.
	Restart []string
	// Attrs are safe structured log fields (never secrets).
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	// Source (never log api key)
	osrc, nsrc := oldCfg.Source, newCfg.Source
	if strings.TrimSpace(osrc.Endpoint) != strings.TrimSpace(nsrc.Endpoint) ||
		strings.TrimSpace(osrc.Interval) != strings.TrimSpace(nsrc.Interval) ||
		strings.TrimSpace(osrc.Timeout) != strings.TrimSpace(nsrc.Timeout) ||
		osrc.VaultedSMH != nsrc.VaultedSMH ||
		osrc.APIKey != nsrc.APIKey {
		mark("source",
			logx.String("source.interval", strings.TrimSpace(nsrc.Interval)),
			logx.Bool("source.api_key_set", nsrc.APIKey != ""),
		)
	}

	if oldCfg.Schedule != newCfg.Schedule {
		mark("schedule",
			logx.String("schedule.genesis", newCfg.Schedule.Genesis),
			logx.String("schedule.epoch", newCfg.Schedule.Epoch),
		)
	}

	// Storage (never log password or url credentials)
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Calendar (never log token)
	if oldCfg.Calendar != newCfg.Calendar {
		mark("calendar",
			logx.String("calendar.driver", strings.TrimSpace(newCfg.Calendar.Driver)),
			logx.String("calendar.resync", strings.TrimSpace(newCfg.Calendar.Resync)),
		)
	}

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		mark("telegram",
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Display, newCfg.Display) {
		mark("display",
			logx.Int("display.titles", len(newCfg.Display.Titles)),
			logx.Bool("display.panel_set", newCfg.Display.Panel.ChatID != 0),
			logx.Bool("display.status_set", newCfg.Display.Status.ChatID != 0),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops != newCfg.Ops {
		mark("ops",
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		mark("retention", logx.Int("retention.metrics", len(newCfg.Retention)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.default_timeout", strings.TrimSpace(newCfg.Scheduler.DefaultTimeout)),
		)
	}

	sort.Strings(ch.Sections)
	for _, s := range ch.Sections {
		if restartSections[s] {
			ch.Restart = append(ch.Restart, s)
		}
	}
	return ch
}
