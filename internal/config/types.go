package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "336h").
type Config struct {
	Source   SourceConfig   `json:"source"`
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage"`
	Calendar CalendarConfig `json:"calendar"`
	Telegram TelegramConfig `json:"telegram"`
	Display  DisplayConfig  `json:"display"`
	Logging  LoggingConfig  `json:"logging"`
	Ops      OpsConfig      `json:"ops"`

	// Retention maps a series metric ("price", "netspace") to how long its
	// samples are kept.
	Retention map[string]string `json:"retention,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler"`
}

// SourceConfig points at the upstream network-info endpoint.
type SourceConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"` // sent as x-api-key (do not log)
	// Interval is a schedule string: "5m", "00:05", "cron:*/5 * * * *".
	Interval string `json:"interval"`
	Timeout  string `json:"timeout,omitempty"`
	// VaultedSMH is the locked supply used for the supply percentage.
	VaultedSMH float64 `json:"vaulted_smh,omitempty"`
}

// ScheduleConfig holds the protocol constants. Changes require a restart.
//
// Example:
//
//	"schedule": { "genesis": "2023-07-14T08:00:00Z", "epoch": "336h", "subcycle": "324h", "gap": "12h" }
type ScheduleConfig struct {
	Genesis  string `json:"genesis"` // RFC 3339
	Epoch    string `json:"epoch"`
	Subcycle string `json:"subcycle"`
	Gap      string `json:"gap"`
}

// StorageConfig selects the persistence driver. Changes require a restart.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./spudbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`      // redis, postgres
	Password    string `json:"password,omitempty"` // redis (do not log)
	KeyPrefix   string `json:"key_prefix,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type CalendarConfig struct {
	// Driver is "discord" or "memory".
	Driver  string        `json:"driver"`
	Discord DiscordConfig `json:"discord"`
	// Resync is an optional schedule string for dropping records whose
	// calendar entry was deleted upstream. Empty disables it.
	Resync string `json:"resync,omitempty"`
}

type DiscordConfig struct {
	Token      string  `json:"token"` // bot token (do not log)
	GuildID    string  `json:"guild_id"`
	Location   string  `json:"location,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// DisplayConfig controls the chat surfaces. Hot-reloadable.
type DisplayConfig struct {
	// Titles maps a stat name (price, epoch, layer, netspace, smeshers,
	// supply, marketcap, percent) to the chat whose title shows it.
	Titles map[string]int64 `json:"titles,omitempty"`
	Panel  PanelConfig      `json:"panel"`
	Status StatusConfig     `json:"status"`
}

type PanelConfig struct {
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	Pin         bool   `json:"pin"`
	ChartWindow string `json:"chart_window,omitempty"` // default 12h
	TrendWindow string `json:"trend_window,omitempty"` // default 24h
	ChartWidth  int    `json:"chart_width,omitempty"`
	ChartHeight int    `json:"chart_height,omitempty"`
}

type StatusConfig struct {
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// OpsConfig controls the operations HTTP server (health, metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Timezone string `json:"timezone,omitempty"`
	// DefaultTimeout is applied to jobs without their own timeout.
	// Use "0s" to disable.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}
