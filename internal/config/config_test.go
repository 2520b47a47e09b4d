package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/calendar"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_chat_ids: [42]
  poll_timeout: 15s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./dailytask.db
device:
  launch: ["adb", "shell", "monkey", "-p", "com.alibaba.android.rimet", "1"]
scheduler:
  timezone: Asia/Shanghai
  auto_start: "@every 5m"
calendar:
  overrides:
    - {date: "2026-10-01", name: 国庆节, type: 0}
    - {date: "2026-10-11", name: 国庆调休, type: 1}
classifier:
  success: ["打卡成功"]
sources:
  target: com.alibaba.android.rimet
  trusted: [com.tencent.mm]
defaults:
  timeout-seconds: "45"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerChatIDs)
	assert.Equal(t, "Asia/Shanghai", cfg.Scheduler.Timezone)
	require.Len(t, cfg.Calendar.Overrides, 2)
	assert.Equal(t, "国庆调休", cfg.Calendar.Overrides[1].Name)
	require.NotNil(t, cfg.Classifier)
	assert.Equal(t, []string{"打卡成功"}, cfg.Classifier.Success)
	assert.Equal(t, "45", cfg.Defaults["timeout-seconds"])
	assert.Same(t, cfg, m.Get())
}

func TestDecodeStrict(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.Error(t, err, "trailing data is rejected")

	cfg, err := Decode("c.json", []byte(`{"sources":{"target":""}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTarget, cfg.TargetSource())
}

func TestYAMLNonStringKeys(t *testing.T) {
	cfg, err := Decode("c.yml", []byte("defaults:\n  1: x\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Defaults["1"])

	_, err = Decode("c.yaml", []byte("telegram: [unclosed"))
	assert.ErrorContains(t, err, "parse c.yaml")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", " 2m ", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = ParseDurationField("device.timeout", "-1s")
	assert.ErrorContains(t, err, "device.timeout")
	_, err = ParseDurationOrDefault("device.timeout", "soon", time.Second)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"bad duration", Config{Telegram: TelegramConfig{PollTimeout: "soon"}}, false},
		{"negative duration", Config{Scheduler: SchedulerConfig{SettleDelay: "-1s"}}, false},
		{"bad driver", Config{Storage: StorageConfig{Driver: "mongo"}}, false},
		{"bad cron", Config{Scheduler: SchedulerConfig{AutoStart: "every day"}}, false},
		{"bad timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, false},
		{"bad override", Config{Calendar: CalendarConfig{Overrides: []calendar.Override{{Date: "10/01"}}}}, false},
		{"empty argv", Config{Device: DeviceConfig{Launch: []string{""}}}, false},
		{"bad default", Config{Defaults: map[string]string{"timeout-seconds": "5"}}, false},
		{"unknown default", Config{Defaults: map[string]string{"nope": "1"}}, false},
		{"empty prefix", Config{Commands: CommandsConfig{Prefixes: []string{" "}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResolverPrunesOldOverrides(t *testing.T) {
	cfg := Config{Calendar: CalendarConfig{Overrides: []calendar.Override{
		{Date: "2024-10-01", Name: "国庆节"},
		{Date: "2026-10-01", Name: "国庆节"},
	}}}
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.Local)
	r, removed, err := cfg.Resolver(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Len(t, r.Overrides(), 1)
	assert.Equal(t, "2026-10-01", r.Overrides()[0].Date)
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "old"}, Sources: SourcesConfig{Target: "x"}}
	b := &Config{Telegram: TelegramConfig{Token: "new"}, Sources: SourcesConfig{Target: "y"}}

	ch, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"telegram", "sources"}, ch.Sections)
	assert.Equal(t, []string{"telegram"}, ch.Restart)
	assert.True(t, ch.Has("sources"))
	assert.NotEmpty(t, attrs)

	ch, _ = SummarizeConfigChange(a, a)
	assert.True(t, ch.Empty())

	ch, _ = SummarizeConfigChange(&Config{}, &Config{Notifier: ptr(DefaultNotifier())})
	assert.True(t, ch.Empty(), "an omitted notifier equals the defaults")
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	updates, unsub := m.Subscribe(1)
	defer unsub()

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
	m.SetValidator(func(context.Context, *Config) error { return nil })
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "debug", (<-updates).Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte(`{"device":{"timeout":"x"}}`), 0o600))
	_, err = m.Reload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "debug", m.Get().Logging.Level, "rejected reload keeps the committed config")
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "config.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	updates, unsub := m.Subscribe(1)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = m.Watch(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	// The watcher may register after the first write, so rewrite with gaps
	// longer than the debounce until the change is picked up.
	write := func() { require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600)) }
	write()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(4 * reloadDebounce)
	defer tick.Stop()
	for {
		select {
		case cfg := <-updates:
			assert.Equal(t, "warn", cfg.Logging.Level)
			return
		case <-tick.C:
			write()
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func ptr[T any](v T) *T { return &v }
