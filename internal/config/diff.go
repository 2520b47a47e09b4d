package config

import (
	"reflect"
	"strings"

	logx "dailytask/pkg/logx"
)

// Change lists the sections that differ between two configs.
type Change struct {
	Sections []string
	// Restart names sections that only take effect after a restart.
	Restart []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// hot are the sections applied on reload.
var hot = map[string]bool{
	"logging":    true,
	"notifier":   true,
	"calendar":   true,
	"classifier": true,
	"commands":   true,
	"sources":    true,
	"defaults":   true,
}

// SummarizeConfigChange compares two configs. The returned attrs are safe to
// log: secrets are reduced to "is set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	attrs := make([]logx.Field, 0, 16)
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !hot[section] {
			ch.Restart = append(ch.Restart, section)
		}
		attrs = append(attrs, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || !reflect.DeepEqual(ot.OwnerChatIDs, nt.OwnerChatIDs) ||
		ot.ThreadID != nt.ThreadID || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.APIURL != nt.APIURL || ot.Menu != nt.Menu {
		mark("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerChatIDs)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}

	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if on != nn {
		mark("notifier",
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.String("notifier.title_window", nn.TitleWindow),
		)
	}

	if oldCfg.Sensor != newCfg.Sensor {
		mark("sensor",
			logx.Bool("sensor.enabled", newCfg.Sensor.Enabled),
			logx.String("sensor.addr", newCfg.Sensor.Addr),
			logx.Bool("sensor.token_set", newCfg.Sensor.Token != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Device, newCfg.Device) {
		mark("device")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.auto_start", newCfg.Scheduler.AutoStart),
		)
	}
	if !reflect.DeepEqual(oldCfg.Calendar, newCfg.Calendar) {
		mark("calendar", logx.Int("calendar.overrides", len(newCfg.Calendar.Overrides)))
	}
	if !reflect.DeepEqual(oldCfg.Classifier, newCfg.Classifier) {
		mark("classifier", logx.Bool("classifier.custom", newCfg.Classifier != nil))
	}
	if !reflect.DeepEqual(oldCfg.Commands, newCfg.Commands) {
		mark("commands", logx.Strings("commands.prefixes", newCfg.Commands.Prefixes))
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		mark("sources",
			logx.String("sources.target", newCfg.TargetSource()),
			logx.Int("sources.trusted", len(newCfg.Sources.Trusted)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Defaults, newCfg.Defaults) {
		mark("defaults", logx.Int("defaults.count", len(newCfg.Defaults)))
	}

	if len(ch.Sections) > 0 {
		attrs = append(attrs, logx.Strings("changed", ch.Sections))
	}
	if len(ch.Restart) > 0 {
		attrs = append(attrs, logx.Strings("restart_required", ch.Restart))
	}
	return ch, attrs
}

// DefaultNotifier is the effective notifier section when it is omitted.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:       true,
		Workers:       2,
		QueueSize:     256,
		RatePerSec:    3,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
		TitleWindow:   "60s",
		HistorySize:   100,
	}
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return DefaultNotifier()
	}
	return *n
}
