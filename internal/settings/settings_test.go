package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/errs"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

func newSettings(t *testing.T, overrides map[string]string) (*Settings, *storage.Memory) {
	t.Helper()
	kv := storage.NewMemory()
	s, err := New(kv, overrides, logx.Nop())
	require.NoError(t, err)
	return s, kv
}

func TestDefaults(t *testing.T) {
	s, _ := newSettings(t, nil)
	v, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Values{
		TimeoutSeconds:    30,
		AutoStart:         true,
		TaskKeyword:       "打卡",
		ResetHour:         0,
		RandomJitter:      true,
		JitterRange:       5,
		MaskDelaySeconds:  5,
		AttendanceKeyword: "考勤打卡",
	}, v)
}

func TestConfigOverridesDefaults(t *testing.T) {
	s, _ := newSettings(t, map[string]string{KeyTimeoutSeconds: "60", KeyWeekendEnabled: "on"})
	ctx := context.Background()
	assert.Equal(t, 60, s.Int(ctx, KeyTimeoutSeconds))
	assert.True(t, s.Bool(ctx, KeyWeekendEnabled))

	_, err := New(storage.NewMemory(), map[string]string{KeyTimeoutSeconds: "5"}, logx.Nop())
	assert.Error(t, err)
	_, err = New(storage.NewMemory(), map[string]string{"nope": "1"}, logx.Nop())
	assert.Error(t, err)
}

func TestBoolDefaultsAreCanonical(t *testing.T) {
	s, _ := newSettings(t, map[string]string{
		KeyWeekendEnabled: "on",
		KeyHolidayEnabled: "开启",
		KeyAutoStart:      "off",
		KeyBackToHome:     " yes ",
	})
	v, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, v.WeekendEnabled)
	assert.True(t, v.HolidayEnabled)
	assert.False(t, v.AutoStart)
	assert.True(t, v.BackToHome)

	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "true", all[KeyWeekendEnabled])
}

func TestSetValidatesRange(t *testing.T) {
	s, _ := newSettings(t, nil)
	ctx := context.Background()

	err := s.SetInt(ctx, KeyTimeoutSeconds, 5)
	var re *errs.RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 10, re.Min)
	assert.Equal(t, 300, re.Max)
	assert.Equal(t, 30, s.Int(ctx, KeyTimeoutSeconds), "rejected write leaves value unchanged")

	require.NoError(t, s.SetInt(ctx, KeyTimeoutSeconds, 45))
	assert.Equal(t, 45, s.Int(ctx, KeyTimeoutSeconds))

	var ve *errs.ValidationError
	assert.ErrorAs(t, s.Set(ctx, KeyAutoStart, "maybe"), &ve)
	assert.ErrorAs(t, s.Set(ctx, KeyTaskKeyword, "  "), &ve)

	var nf *errs.NotFoundError
	assert.ErrorAs(t, s.Set(ctx, "unknown-key", "1"), &nf)
}

func TestInvalidStoredValueFallsBack(t *testing.T) {
	s, kv := newSettings(t, nil)
	ctx := context.Background()
	require.NoError(t, kv.PutSetting(ctx, KeyMaskDelaySeconds, "999"))
	assert.Equal(t, 5, s.Int(ctx, KeyMaskDelaySeconds))
	v, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v.MaskDelaySeconds)
}

type brokenKV struct{}

var errDisk = errors.New("disk gone")

func (brokenKV) GetSetting(context.Context, string) (string, bool, error) { return "", false, errDisk }
func (brokenKV) PutSetting(context.Context, string, string) error         { return errDisk }
func (brokenKV) ListSettings(context.Context) (map[string]string, error)  { return nil, errDisk }

func TestStoreErrorsAreTransient(t *testing.T) {
	s, err := New(brokenKV{}, nil, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	v, err := s.Get(ctx, KeyTimeoutSeconds)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, "30", v)

	assert.True(t, errs.IsTransient(s.SetInt(ctx, KeyTimeoutSeconds, 40)))

	vals, err := s.Load(ctx)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, 30, vals.TimeoutSeconds)
}

func TestDayKey(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 10, 14, h, m, 0, 0, time.Local) }
	assert.Equal(t, "2026-10-14", DayKey(at(0, 5), 0))
	assert.Equal(t, "2026-10-13", DayKey(at(3, 59), 4))
	assert.Equal(t, "2026-10-14", DayKey(at(4, 0), 4))
	assert.Equal(t, "2026-10-14", Values{ResetHour: 23}.DayKey(at(23, 30)))
}

func TestAllListsEveryKey(t *testing.T) {
	s, _ := newSettings(t, nil)
	all, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, len(Keys()))
	assert.Equal(t, "考勤打卡", all[KeyAttendanceKeyword])
}
