package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spudbot/internal/schedule"
	"spudbot/internal/task/scheduler"
)

// DefaultPollInterval is used when source.interval is empty.
const DefaultPollInterval = "5m"

// DefaultRetention is the series retention applied to metrics absent from
// the retention map.
var DefaultRetention = map[string]time.Duration{
	"price":    24 * time.Hour,
	"netspace": 30 * 24 * time.Hour,
}

// Validate checks everything that can be checked without I/O. All problems
// are reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Source.Endpoint) == "" {
		add(errors.New("source.endpoint is required"))
	}
	if _, err := scheduler.ParseSchedule(PollInterval(cfg)); err != nil {
		add(fmt.Errorf("source.interval: %w", err))
	}
	_, err := ParseDurationField("source.timeout", cfg.Source.Timeout)
	add(err)
	if cfg.Source.VaultedSMH < 0 {
		add(errors.New("source.vaulted_smh must be >= 0"))
	}

	_, err = Constants(cfg.Schedule)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
	case "redis", "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.URL) == "" {
			add(fmt.Errorf("storage.url is required when storage.driver=%s", cfg.Storage.Driver))
		}
	case "none":
		add(errors.New("storage.driver=none: the event store is required"))
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Calendar.Driver)) {
	case "", "discord":
		if strings.TrimSpace(cfg.Calendar.Discord.Token) == "" {
			add(errors.New("calendar.discord.token is required"))
		}
		if strings.TrimSpace(cfg.Calendar.Discord.GuildID) == "" {
			add(errors.New("calendar.discord.guild_id is required"))
		}
	case "memory":
	default:
		add(fmt.Errorf("unknown calendar.driver: %s", cfg.Calendar.Driver))
	}
	_, err = ParseDurationField("calendar.discord.timeout", cfg.Calendar.Discord.Timeout)
	add(err)
	if raw := strings.TrimSpace(cfg.Calendar.Resync); raw != "" {
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			add(fmt.Errorf("calendar.resync: %w", err))
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required"))
	}
	_, err = ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	for stat, chatID := range cfg.Display.Titles {
		if chatID == 0 {
			add(fmt.Errorf("display.titles.%s: chat id is required", stat))
		}
	}
	_, err = ParseDurationField("display.panel.chart_window", cfg.Display.Panel.ChartWindow)
	add(err)
	_, err = ParseDurationField("display.panel.trend_window", cfg.Display.Panel.TrendWindow)
	add(err)
	if cfg.Display.Panel.ChartWidth < 0 || cfg.Display.Panel.ChartHeight < 0 {
		add(errors.New("display.panel chart size must be >= 0"))
	}

	for _, f := range []struct{ path, raw string }{
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	_, err = Retention(cfg)
	add(err)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	_, err = ParseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	add(err)

	return errors.Join(errs...)
}

// PollInterval returns source.interval or its default.
func PollInterval(cfg *Config) string {
	if raw := strings.TrimSpace(cfg.Source.Interval); raw != "" {
		return raw
	}
	return DefaultPollInterval
}

// Constants parses the schedule section.
func Constants(sc ScheduleConfig) (schedule.Constants, error) {
	var c schedule.Constants
	raw := strings.TrimSpace(sc.Genesis)
	if raw == "" {
		return c, errors.New("schedule.genesis is required")
	}
	g, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return c, fmt.Errorf("schedule.genesis: invalid RFC 3339 time %q: %w", raw, err)
	}
	c.Genesis = g.UTC()
	if c.Epoch, err = ParseDurationField("schedule.epoch", sc.Epoch); err != nil {
		return c, err
	}
	if c.Subcycle, err = ParseDurationField("schedule.subcycle", sc.Subcycle); err != nil {
		return c, err
	}
	if c.Gap, err = ParseDurationField("schedule.gap", sc.Gap); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("schedule: %w", err)
	}
	return c, nil
}

// Retention merges the retention map over DefaultRetention.
func Retention(cfg *Config) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(DefaultRetention)+len(cfg.Retention))
	for k, v := range DefaultRetention {
		out[k] = v
	}
	for metric, raw := range cfg.Retention {
		metric = strings.TrimSpace(metric)
		if metric == "" {
			return nil, errors.New("retention: empty metric name")
		}
		d, err := ParseDurationField("retention."+metric, raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("retention.%s must be > 0", metric)
		}
		out[metric] = d
	}
	return out, nil
}
