package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dailytask/internal/calendar"
	"dailytask/internal/settings"
)

const (
	DefaultTarget            = "com.alibaba.android.rimet"
	DefaultCalendarRetention = 365 * 24 * time.Hour
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports every problem it finds, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	argv := func(path string, v []string) {
		if len(v) > 0 && strings.TrimSpace(v[0]) == "" {
			add(fmt.Errorf("%s: empty executable", path))
		}
	}

	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	if c.Logging.Telegram.RatePerSec < 0 {
		add(errors.New("logging.telegram.rate_per_sec: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)
	dur("storage.notification_retention", c.Storage.NotificationRetention)

	if n := c.Notifier; n != nil {
		dur("notifier.retry_base", n.RetryBase)
		dur("notifier.retry_max_delay", n.RetryMaxDelay)
		dur("notifier.title_window", n.TitleWindow)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: counts must be >= 0"))
		}
	}

	dur("sensor.read_timeout", c.Sensor.ReadTimeout)
	dur("sensor.write_timeout", c.Sensor.WriteTimeout)
	dur("sensor.idle_timeout", c.Sensor.IdleTimeout)

	argv("device.launch", c.Device.Launch)
	argv("device.home", c.Device.Home)
	argv("device.mask_show", c.Device.MaskShow)
	argv("device.mask_hide", c.Device.MaskHide)
	argv("device.battery", c.Device.Battery)
	dur("device.timeout", c.Device.Timeout)

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for path, spec := range map[string]string{"scheduler.auto_start": c.Scheduler.AutoStart, "scheduler.reset": c.Scheduler.Reset} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}
	dur("scheduler.settle_delay", c.Scheduler.SettleDelay)
	dur("scheduler.launch_timeout", c.Scheduler.LaunchTimeout)

	if _, err := calendar.New(c.Calendar.Overrides); err != nil {
		add(err)
	}
	dur("calendar.retention", c.Calendar.Retention)

	for i, p := range c.Commands.Prefixes {
		if strings.TrimSpace(p) == "" {
			add(fmt.Errorf("commands.prefixes[%d]: empty", i))
		}
	}
	add(settings.ValidateDefaults(c.Defaults))

	return errors.Join(errs...)
}

// TargetSource returns the monitored app id.
func (c *Config) TargetSource() string {
	if t := strings.TrimSpace(c.Sources.Target); t != "" {
		return t
	}
	return DefaultTarget
}

// Resolver builds the calendar, dropping overrides older than the
// retention relative to now.
func (c *Config) Resolver(now time.Time) (*calendar.Resolver, int, error) {
	r, err := calendar.New(c.Calendar.Overrides)
	if err != nil {
		return nil, 0, err
	}
	keep, err := ParseDurationOrDefault("calendar.retention", c.Calendar.Retention, DefaultCalendarRetention)
	if err != nil {
		return nil, 0, err
	}
	r, removed := r.Prune(now.Add(-keep))
	return r, removed, nil
}
