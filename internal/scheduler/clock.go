package scheduler

import "time"

// Clock is the scheduler's only time source.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot callback. Stop on a fired or stopped
// timer is a no-op.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return realClock{} }

type zonedClock struct {
	Clock
	loc *time.Location
}

func (z zonedClock) Now() time.Time { return z.Clock.Now().In(z.loc) }
