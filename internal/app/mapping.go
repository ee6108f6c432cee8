package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"spudbot/internal/calendar"
	"spudbot/internal/calendar/discord"
	"spudbot/internal/config"
	"spudbot/internal/netinfo"
	"spudbot/internal/observability/ops"
	"spudbot/internal/present"
	"spudbot/internal/storage"
	"spudbot/internal/task/scheduler"
	kit "spudbot/internal/transport"
	logx "spudbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./spudbot.db"
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		if path == "" {
			path = "./spudbot_store"
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "redis", "postgres", "postgresql", "pg":
		return storage.Config{
			Driver:    driver,
			URL:       strings.TrimSpace(sc.URL),
			Password:  sc.Password,
			KeyPrefix: strings.TrimSpace(sc.KeyPrefix),
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNetinfoConfig(cfg *config.Config) (netinfo.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 15*time.Second)
	if err != nil {
		return netinfo.Config{}, err
	}
	return netinfo.Config{
		Endpoint: strings.TrimSpace(cfg.Source.Endpoint),
		APIKey:   cfg.Source.APIKey,
		Timeout:  timeout,
	}, nil
}

// openCalendar builds the configured calendar driver, instrumented with
// metrics.
func openCalendar(cfg *config.Config, log logx.Logger) (calendar.Calendar, error) {
	var cal calendar.Calendar
	switch strings.ToLower(strings.TrimSpace(cfg.Calendar.Driver)) {
	case "memory":
		log.Warn("calendar driver is memory; entries are not published anywhere")
		cal = calendar.NewMemory()
	case "", "discord":
		dc := cfg.Calendar.Discord
		timeout, err := config.ParseDurationOrDefault("calendar.discord.timeout", dc.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		c, err := discord.New(discord.Config{
			Token:      dc.Token,
			GuildID:    strings.TrimSpace(dc.GuildID),
			Location:   dc.Location,
			BaseURL:    dc.BaseURL,
			Timeout:    timeout,
			RatePerSec: dc.RatePerSec,
		}, log.With(logx.String("comp", "calendar.discord")))
		if err != nil {
			return nil, err
		}
		cal = c
	default:
		return nil, fmt.Errorf("unknown calendar.driver: %s", cfg.Calendar.Driver)
	}
	return calendar.Instrument(cal, observeCalendar), nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapPresentConfig(cfg *config.Config) (present.Config, error) {
	d := cfg.Display
	out := present.Config{
		Titles:       make(map[present.Stat]int64, len(d.Titles)),
		Panel:        kit.ChatTarget{ChatID: d.Panel.ChatID, ThreadID: d.Panel.ThreadID},
		PinPanel:     d.Panel.Pin,
		ChartWidth:   d.Panel.ChartWidth,
		ChartHeight:  d.Panel.ChartHeight,
		StatusChatID: d.Status.ChatID,
		StatusName:   d.Status.Name,
	}
	names := make([]string, 0, len(d.Titles))
	for name := range d.Titles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		stat, ok := present.ParseStat(name)
		if !ok {
			return present.Config{}, fmt.Errorf("display.titles: unknown stat %q", name)
		}
		out.Titles[stat] = d.Titles[name]
	}
	var err error
	if out.ChartWindow, err = config.ParseDurationField("display.panel.chart_window", d.Panel.ChartWindow); err != nil {
		return present.Config{}, err
	}
	if out.TrendWindow, err = config.ParseDurationField("display.panel.trend_window", d.Panel.TrendWindow); err != nil {
		return present.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	def, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone), DefaultTimeout: def}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("ops.write_timeout", oc.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}
