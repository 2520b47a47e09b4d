package app

import (
	"strings"
	"time"

	"dailytask/internal/config"
	"dailytask/internal/device"
	"dailytask/internal/notifier"
	"dailytask/internal/storage"
	"dailytask/internal/transport/sensor"
	"dailytask/internal/transport/telegram"
	kit "dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" && driver == "sqlite" {
		path = "./dailytask.db"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	keep, err := config.ParseDurationField("storage.notification_retention", sc.NotificationRetention)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, NotificationRetention: keep}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := config.DefaultNotifier()
	if cfg.Notifier != nil {
		nc = *cfg.Notifier
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("notifier.title_window", nc.TitleWindow, notifier.DefaultTitleWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       nc.Enabled && strings.TrimSpace(cfg.Telegram.Token) != "",
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		TitleWindow:   window,
		HistorySize:   nc.HistorySize,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll, APIURL: cfg.Telegram.APIURL}, nil
}

func mapSensorConfig(cfg *config.Config) (sensor.Config, error) {
	sc := cfg.Sensor
	rt, err := config.ParseDurationOrDefault("sensor.read_timeout", sc.ReadTimeout, 10*time.Second)
	if err != nil {
		return sensor.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("sensor.write_timeout", sc.WriteTimeout, 10*time.Second)
	if err != nil {
		return sensor.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("sensor.idle_timeout", sc.IdleTimeout, 60*time.Second)
	if err != nil {
		return sensor.Config{}, err
	}
	return sensor.Config{
		Addr:          sc.Addr,
		Token:         sc.Token,
		AllowInsecure: sc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
		MaxBodyBytes:  sc.MaxBodyBytes,
		Pprof:         sc.Pprof,
	}, nil
}

func mapDeviceConfig(cfg *config.Config) (device.Config, error) {
	dc := cfg.Device
	timeout, err := config.ParseDurationField("device.timeout", dc.Timeout)
	if err != nil {
		return device.Config{}, err
	}
	return device.Config{
		Launch:         dc.Launch,
		Home:           dc.Home,
		MaskShow:       dc.MaskShow,
		MaskHide:       dc.MaskHide,
		Battery:        dc.Battery,
		PowerSupplyDir: dc.PowerSupplyDir,
		Timeout:        timeout,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
		RingSize: lc.RingSize,
	}
}

// logTarget is the chat warnings are mirrored to: the configured chat, else
// the first owner.
func logTarget(cfg *config.Config) kit.ChatTarget {
	lt := cfg.Logging.Telegram
	if lt.ChatID != 0 {
		return kit.ChatTarget{ChatID: lt.ChatID, ThreadID: lt.ThreadID}
	}
	if len(cfg.Telegram.OwnerChatIDs) > 0 {
		return kit.ChatTarget{ChatID: cfg.Telegram.OwnerChatIDs[0], ThreadID: lt.ThreadID}
	}
	return kit.ChatTarget{}
}

// reportTargets are the owner chats.
func reportTargets(cfg *config.Config) []kit.ChatTarget {
	out := make([]kit.ChatTarget, 0, len(cfg.Telegram.OwnerChatIDs))
	for _, id := range cfg.Telegram.OwnerChatIDs {
		out = append(out, kit.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.ThreadID})
	}
	return out
}

// trustedSources are the configured sources plus every owner chat.
func trustedSources(cfg *config.Config) []string {
	out := append([]string(nil), cfg.Sources.Trusted...)
	for _, id := range cfg.Telegram.OwnerChatIDs {
		out = append(out, kit.TelegramSourceID(id))
	}
	return out
}
