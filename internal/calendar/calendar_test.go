package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		panic(err)
	}
	return d
}

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New([]Override{
		{Date: "2026-10-01", Name: "国庆节", Type: LegalHoliday},
		{Date: "2026-10-02", Type: LegalHoliday},
		{Date: "2026-10-10", Name: "国庆调休", Type: CompensatedWorkday}, // Saturday
		{Date: "2026-10-16", Name: "团建", Type: CustomRestDay},
		{Date: "2026-10-20", Name: "作废", Type: LegalHoliday, Disabled: true},
	})
	require.NoError(t, err)
	return r
}

func TestClassify(t *testing.T) {
	r := testResolver(t)
	tests := []struct {
		date string
		want DayKind
	}{
		{"2026-10-01", Holiday},
		{"2026-10-10", Workday},
		{"2026-10-16", Holiday},
		{"2026-10-17", Weekend},
		{"2026-10-18", Weekend},
		{"2026-10-14", Workday},
		{"2026-10-20", Workday},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Classify(day(tt.date)), tt.date)
	}
}

func TestShouldRun(t *testing.T) {
	r := testResolver(t)
	assert.True(t, r.ShouldRun(day("2026-10-14"), false, false))
	assert.True(t, r.ShouldRun(day("2026-10-10"), false, false), "compensated workday runs")
	assert.False(t, r.ShouldRun(day("2026-10-17"), false, true))
	assert.True(t, r.ShouldRun(day("2026-10-17"), true, false))
	assert.False(t, r.ShouldRun(day("2026-10-01"), true, false))
	assert.True(t, r.ShouldRun(day("2026-10-01"), false, true))
}

func TestDescribe(t *testing.T) {
	r := testResolver(t)
	assert.Equal(t, "工作日（调休）", r.Describe(day("2026-10-10")))
	assert.Equal(t, "工作日", r.Describe(day("2026-10-14")))
	assert.Equal(t, "周末", r.Describe(day("2026-10-18")))
	assert.Equal(t, "国庆节", r.Describe(day("2026-10-01")))
	assert.Equal(t, "节假日", r.Describe(day("2026-10-02")))
}

func TestNilResolverFallsBackToWeekdays(t *testing.T) {
	var r *Resolver
	assert.Equal(t, Weekend, r.Classify(day("2026-10-17")))
	assert.Equal(t, Workday, r.Classify(day("2026-10-19")))
}

func TestNewRejectsBadEntries(t *testing.T) {
	_, err := New([]Override{{Date: "2026/10/01"}})
	assert.Error(t, err)
	_, err = New([]Override{{Date: "2026-10-01", Type: 7}})
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	r := MustNew([]Override{
		{Date: "2025-01-01", Type: LegalHoliday},
		{Date: "2025-10-13", Type: LegalHoliday},
		{Date: "2026-01-01", Type: LegalHoliday},
	})
	next, removed := r.Prune(day("2026-10-14").AddDate(-1, 0, 0))
	assert.Equal(t, 2, removed)
	require.Len(t, next.Overrides(), 1)
	assert.Equal(t, "2026-01-01", next.Overrides()[0].Date)
	assert.Len(t, r.Overrides(), 3, "original snapshot untouched")
}
