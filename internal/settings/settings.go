// Package settings is the typed view over the runtime settings KV.
//
// Commands mutate these values while the service runs; the static YAML
// config only seeds their defaults.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"dailytask/internal/errs"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

const (
	KeyTimeoutSeconds    = "timeout-seconds"
	KeyAutoStart         = "auto-start"
	KeyTaskKeyword       = "task-keyword"
	KeyResetHour         = "reset-hour"
	KeyRandomJitter      = "random-jitter"
	KeyJitterRange       = "random-jitter-range"
	KeyWeekendEnabled    = "weekend-enabled"
	KeyHolidayEnabled    = "holiday-enabled"
	KeyMaskDelaySeconds  = "mask-delay-seconds"
	KeyBackToHome        = "back-to-home"
	KeyAttendanceKeyword = "attendance-keyword"
)

type kind int

const (
	kindInt kind = iota
	kindBool
	kindString
)

type spec struct {
	kind     kind
	def      string
	min, max int
}

var specs = map[string]spec{
	KeyTimeoutSeconds:    {kind: kindInt, def: "30", min: 10, max: 300},
	KeyAutoStart:         {kind: kindBool, def: "true"},
	KeyTaskKeyword:       {kind: kindString, def: "打卡"},
	KeyResetHour:         {kind: kindInt, def: "0", min: 0, max: 23},
	KeyRandomJitter:      {kind: kindBool, def: "true"},
	KeyJitterRange:       {kind: kindInt, def: "5", min: 1, max: 30},
	KeyWeekendEnabled:    {kind: kindBool, def: "false"},
	KeyHolidayEnabled:    {kind: kindBool, def: "false"},
	KeyMaskDelaySeconds:  {kind: kindInt, def: "5", min: 1, max: 60},
	KeyBackToHome:        {kind: kindBool, def: "false"},
	KeyAttendanceKeyword: {kind: kindString, def: "考勤打卡"},
}

// Keys returns every known key, sorted.
func Keys() []string {
	out := make([]string, 0, len(specs))
	for k := range specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Range returns the allowed bounds of an integer key.
func Range(key string) (min, max int, ok bool) {
	sp, ok := specs[key]
	if !ok || sp.kind != kindInt {
		return 0, 0, false
	}
	return sp.min, sp.max, true
}

// Values is a decoded snapshot of every setting.
type Values struct {
	TimeoutSeconds    int    `json:"timeout_seconds"`
	AutoStart         bool   `json:"auto_start"`
	TaskKeyword       string `json:"task_keyword"`
	ResetHour         int    `json:"reset_hour"`
	RandomJitter      bool   `json:"random_jitter"`
	JitterRange       int    `json:"random_jitter_range"`
	WeekendEnabled    bool   `json:"weekend_enabled"`
	HolidayEnabled    bool   `json:"holiday_enabled"`
	MaskDelaySeconds  int    `json:"mask_delay_seconds"`
	BackToHome        bool   `json:"back_to_home"`
	AttendanceKeyword string `json:"attendance_keyword"`
}

// DayKey returns the service day now belongs to. Before resetHour the
// previous calendar date is still current.
func DayKey(now time.Time, resetHour int) string {
	if now.Hour() < resetHour {
		now = now.AddDate(0, 0, -1)
	}
	return now.Format("2006-01-02")
}

func (v Values) DayKey(now time.Time) string { return DayKey(now, v.ResetHour) }

// Settings reads through to the KV on every call; the store is the source of
// truth so concurrent writers converge.
type Settings struct {
	kv  storage.KV
	log logx.Logger

	mu       sync.RWMutex
	defaults map[string]string
}

// New builds the facade. overrides replace built-in defaults; unknown keys
// and values that do not validate are rejected.
func New(kv storage.KV, overrides map[string]string, log logx.Logger) (*Settings, error) {
	s := &Settings{kv: kv, log: log}
	if err := s.SetDefaults(overrides); err != nil {
		return nil, err
	}
	return s, nil
}

// SetDefaults swaps the default table, e.g. after a config reload.
func (s *Settings) SetDefaults(overrides map[string]string) error {
	defs := make(map[string]string, len(specs))
	for k, sp := range specs {
		defs[k] = sp.def
	}
	for k, v := range overrides {
		k = strings.TrimSpace(k)
		norm, err := normalize(k, v)
		if err != nil {
			return fmt.Errorf("settings default %s: %w", k, err)
		}
		defs[k] = norm
	}
	s.mu.Lock()
	s.defaults = defs
	s.mu.Unlock()
	return nil
}

// ValidateDefaults checks an override table without applying it.
func ValidateDefaults(overrides map[string]string) error {
	for k, v := range overrides {
		k = strings.TrimSpace(k)
		if _, err := normalize(k, v); err != nil {
			return fmt.Errorf("settings default %s: %w", k, err)
		}
	}
	return nil
}

func (s *Settings) defaultOf(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults[key]
}

// normalize validates raw for key and returns its canonical text form.
func normalize(key, raw string) (string, error) {
	sp, ok := specs[key]
	if !ok {
		return "", errs.NotFound("配置项", key)
	}
	raw = strings.TrimSpace(raw)
	switch sp.kind {
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", errs.Validation(key, "需要整数，收到 %q", raw)
		}
		if err := errs.CheckRange(key, n, sp.min, sp.max); err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	case kindBool:
		b, err := parseBool(raw)
		if err != nil {
			return "", errs.Validation(key, "需要 true/false，收到 %q", raw)
		}
		return strconv.FormatBool(b), nil
	default:
		if raw == "" {
			return "", errs.Validation(key, "不能为空")
		}
		return raw, nil
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "开", "开启":
		return true, nil
	case "off", "no", "关", "关闭":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// Get returns the stored value, else the default. A stored value that no
// longer validates falls back to the default and is logged.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	if _, ok := specs[key]; !ok {
		return "", errs.NotFound("配置项", key)
	}
	v, ok, err := s.kv.GetSetting(ctx, key)
	if err != nil {
		return s.defaultOf(key), errs.Transient("settings get "+key, err)
	}
	if !ok {
		return s.defaultOf(key), nil
	}
	norm, err := normalize(key, v)
	if err != nil {
		s.log.Warn("invalid stored setting; using default", logx.String("key", key), logx.String("value", v), logx.Err(err))
		return s.defaultOf(key), nil
	}
	return norm, nil
}

// Set validates and stores value.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	norm, err := normalize(key, value)
	if err != nil {
		return err
	}
	if err := s.kv.PutSetting(ctx, key, norm); err != nil {
		return errs.Transient("settings set "+key, err)
	}
	s.log.Info("setting updated", logx.String("key", key), logx.String("value", norm))
	return nil
}

func (s *Settings) SetInt(ctx context.Context, key string, v int) error {
	return s.Set(ctx, key, strconv.Itoa(v))
}

func (s *Settings) SetBool(ctx context.Context, key string, v bool) error {
	return s.Set(ctx, key, strconv.FormatBool(v))
}

func (s *Settings) Int(ctx context.Context, key string) int {
	v, _ := s.Get(ctx, key)
	n, _ := strconv.Atoi(v)
	return n
}

func (s *Settings) Bool(ctx context.Context, key string) bool {
	v, _ := s.Get(ctx, key)
	b, _ := strconv.ParseBool(v)
	return b
}

func (s *Settings) String(ctx context.Context, key string) string {
	v, _ := s.Get(ctx, key)
	return v
}

// Load decodes every key in one pass. On a store error the defaults are
// returned along with the error.
func (s *Settings) Load(ctx context.Context) (Values, error) {
	stored, err := s.kv.ListSettings(ctx)
	if err != nil {
		stored = nil
		err = errs.Transient("settings load", err)
	}
	raw := func(key string) string {
		if v, ok := stored[key]; ok {
			if norm, nerr := normalize(key, v); nerr == nil {
				return norm
			}
			s.log.Warn("invalid stored setting; using default", logx.String("key", key), logx.String("value", v))
		}
		return s.defaultOf(key)
	}
	atoi := func(key string) int { n, _ := strconv.Atoi(raw(key)); return n }
	flag := func(key string) bool { b, _ := strconv.ParseBool(raw(key)); return b }

	return Values{
		TimeoutSeconds:    atoi(KeyTimeoutSeconds),
		AutoStart:         flag(KeyAutoStart),
		TaskKeyword:       raw(KeyTaskKeyword),
		ResetHour:         atoi(KeyResetHour),
		RandomJitter:      flag(KeyRandomJitter),
		JitterRange:       atoi(KeyJitterRange),
		WeekendEnabled:    flag(KeyWeekendEnabled),
		HolidayEnabled:    flag(KeyHolidayEnabled),
		MaskDelaySeconds:  atoi(KeyMaskDelaySeconds),
		BackToHome:        flag(KeyBackToHome),
		AttendanceKeyword: raw(KeyAttendanceKeyword),
	}, err
}

// All returns every key with its effective value, for query-config.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(specs))
	var firstErr error
	for _, k := range Keys() {
		v, err := s.Get(ctx, k)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out[k] = v
	}
	return out, firstErr
}
