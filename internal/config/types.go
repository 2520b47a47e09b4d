package config

import (
	"dailytask/internal/calendar"
	"dailytask/internal/classifier"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Notifier may be omitted; it then defaults to enabled.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Sensor    SensorConfig    `json:"sensor"`
	Device    DeviceConfig    `json:"device"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Calendar  CalendarConfig  `json:"calendar"`

	// Classifier overrides the built-in vocabulary section by section.
	Classifier *classifier.Rules `json:"classifier,omitempty"`

	Commands CommandsConfig `json:"commands"`
	Sources  SourcesConfig  `json:"sources"`

	// Defaults replaces built-in defaults of runtime settings, keyed by
	// setting name (e.g. "timeout-seconds": "45"). Stored values still win.
	Defaults map[string]string `json:"defaults,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerChatIDs receive reports and may issue commands.
	OwnerChatIDs []int64 `json:"owner_chat_ids"`
	ThreadID     int     `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	APIURL      string `json:"api_url,omitempty"`
	// Menu publishes the command list as the bot's "/" menu.
	Menu bool `json:"menu,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
	// RingSize bounds the lines served by the logs command.
	RingSize int `json:"ring_size,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings to a chat. ChatID 0 means the first owner.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dailytask.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// NotificationRetention prunes the notification log, e.g. "720h".
	NotificationRetention string `json:"notification_retention,omitempty"`
}

// NotifierConfig controls the report pipeline. Durations are Go duration
// strings.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	// TitleWindow suppresses repeats of the same title; default "60s".
	TitleWindow string `json:"title_window"`
	HistorySize int    `json:"history_size,omitempty"`
}

// SensorConfig controls the HTTP listener for device notifications.
//
//   - Prefer binding to localhost (default "127.0.0.1:8787").
//   - A non-loopback address needs a token or allow_insecure.
type SensorConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
	MaxBodyBytes  int64  `json:"max_body_bytes,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// DeviceConfig holds one argv per device action.
type DeviceConfig struct {
	Launch         []string `json:"launch,omitempty"`
	Home           []string `json:"home,omitempty"`
	MaskShow       []string `json:"mask_show,omitempty"`
	MaskHide       []string `json:"mask_hide,omitempty"`
	Battery        []string `json:"battery,omitempty"`
	PowerSupplyDir string   `json:"power_supply_dir,omitempty"`
	Timeout        string   `json:"timeout,omitempty"`
}

// SchedulerConfig controls the day loop. AutoStart and Reset are cron
// specs with optional seconds.
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	AutoStart     string `json:"auto_start,omitempty"`
	Reset         string `json:"reset,omitempty"`
	SettleDelay   string `json:"settle_delay,omitempty"`
	LaunchTimeout string `json:"launch_timeout,omitempty"`
}

type CalendarConfig struct {
	Overrides []calendar.Override `json:"overrides,omitempty"`
	// Retention drops overrides older than this on load; default one year.
	Retention string `json:"retention,omitempty"`
}

type CommandsConfig struct {
	// Prefixes strip a leading marker such as "cmd:" before matching.
	Prefixes []string `json:"prefixes,omitempty"`
}

// SourcesConfig names the monitored app and who may issue commands.
// Telegram owners are always trusted.
type SourcesConfig struct {
	Target  string   `json:"target"`
	Trusted []string `json:"trusted,omitempty"`
}
