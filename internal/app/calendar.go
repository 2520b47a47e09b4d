package app

import (
	"sync/atomic"

	"dailytask/internal/calendar"
)

// calendarHolder is the hot-swappable calendar shared by the scheduler and
// the command router.
type calendarHolder struct {
	r atomic.Pointer[calendar.Resolver]
}

func newCalendarHolder(r *calendar.Resolver) *calendarHolder {
	h := &calendarHolder{}
	if r == nil {
		r = calendar.MustNew(nil)
	}
	h.r.Store(r)
	return h
}

func (h *calendarHolder) Resolver() *calendar.Resolver { return h.r.Load() }

func (h *calendarHolder) Swap(r *calendar.Resolver) {
	if r != nil {
		h.r.Store(r)
	}
}
