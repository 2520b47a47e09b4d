// Package calendar classifies dates as workdays, weekends or holidays.
//
// A Resolver is an immutable snapshot of the override table; lookups are pure.
package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type DayKind int

const (
	Workday DayKind = iota
	Weekend
	Holiday
)

func (k DayKind) String() string {
	switch k {
	case Workday:
		return "workday"
	case Weekend:
		return "weekend"
	case Holiday:
		return "holiday"
	default:
		return fmt.Sprintf("daykind(%d)", int(k))
	}
}

// OverrideType matches the stored numeric codes.
type OverrideType int

const (
	LegalHoliday       OverrideType = 0
	CompensatedWorkday OverrideType = 1
	CustomRestDay      OverrideType = 2
)

const DateLayout = "2006-01-02"

// Override marks one date as a holiday or a compensated workday.
type Override struct {
	Date     string       `json:"date"`
	Name     string       `json:"name,omitempty"`
	Type     OverrideType `json:"type"`
	Disabled bool         `json:"disabled,omitempty"`
}

func (o Override) kind() DayKind {
	if o.Type == CompensatedWorkday {
		return Workday
	}
	return Holiday
}

type Resolver struct {
	byDate map[string]Override
}

// New builds a resolver. Disabled entries are skipped; when a date repeats,
// the last entry wins.
func New(overrides []Override) (*Resolver, error) {
	r := &Resolver{byDate: make(map[string]Override, len(overrides))}
	for i, o := range overrides {
		d, err := time.Parse(DateLayout, strings.TrimSpace(o.Date))
		if err != nil {
			return nil, fmt.Errorf("calendar override %d: invalid date %q", i, o.Date)
		}
		if o.Type < LegalHoliday || o.Type > CustomRestDay {
			return nil, fmt.Errorf("calendar override %s: unknown type %d", o.Date, o.Type)
		}
		if o.Disabled {
			continue
		}
		o.Date = d.Format(DateLayout)
		r.byDate[o.Date] = o
	}
	return r, nil
}

// MustNew is New for static tables known to be valid.
func MustNew(overrides []Override) *Resolver {
	r, err := New(overrides)
	if err != nil {
		panic(err)
	}
	return r
}

func key(date time.Time) string { return date.Format(DateLayout) }

// Lookup returns the override for date, if any.
func (r *Resolver) Lookup(date time.Time) (Override, bool) {
	if r == nil {
		return Override{}, false
	}
	o, ok := r.byDate[key(date)]
	return o, ok
}

func (r *Resolver) Classify(date time.Time) DayKind {
	if o, ok := r.Lookup(date); ok {
		return o.kind()
	}
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return Weekend
	default:
		return Workday
	}
}

func (r *Resolver) ShouldRun(date time.Time, allowWeekend, allowHoliday bool) bool {
	switch r.Classify(date) {
	case Weekend:
		return allowWeekend
	case Holiday:
		return allowHoliday
	default:
		return true
	}
}

func (r *Resolver) Describe(date time.Time) string {
	o, ok := r.Lookup(date)
	switch r.Classify(date) {
	case Workday:
		if ok && o.Type == CompensatedWorkday {
			return "工作日（调休）"
		}
		return "工作日"
	case Weekend:
		return "周末"
	default:
		if ok && strings.TrimSpace(o.Name) != "" {
			return o.Name
		}
		return "节假日"
	}
}

// Overrides returns the table sorted by date.
func (r *Resolver) Overrides() []Override {
	if r == nil {
		return nil
	}
	out := make([]Override, 0, len(r.byDate))
	for _, o := range r.byDate {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Prune returns a resolver without entries dated before cutoff.
func (r *Resolver) Prune(cutoff time.Time) (*Resolver, int) {
	c := key(cutoff)
	next := &Resolver{byDate: map[string]Override{}}
	removed := 0
	for d, o := range r.byDate {
		if d < c {
			removed++
			continue
		}
		next.byDate[d] = o
	}
	return next, removed
}
