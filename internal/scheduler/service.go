// Package scheduler drives the day's check-in tasks.
//
// A single loop goroutine owns all state. Bus events, cron triggers and
// timer callbacks are queued onto that loop, so handlers never race.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dailytask/internal/classifier"
	"dailytask/internal/eventbus"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

const (
	DefaultAutoStartSpec = "@every 5m"
	// DefaultResetSpec runs at the top of every hour; the day key decides
	// whether that hour is the reset hour.
	DefaultResetSpec = "0 0 * * * *"
)

type Options struct {
	Clock    Clock
	Bus      eventbus.Bus
	Tasks    storage.TaskStore
	Settings SettingsSource
	Calendar CalendarSource
	Launcher Launcher
	Log      logx.Logger

	// Rand returns a uniform int in [0, n). Defaults to math/rand/v2.
	Rand func(n int) int

	AutoStartSpec string
	ResetSpec     string
	Timezone      string
	SettleDelay   time.Duration
	LaunchTimeout time.Duration
}

type Service struct {
	opts Options
	m    *machine
	log  logx.Logger

	mu     sync.Mutex
	queue  []func()
	signal chan struct{}

	snap    atomic.Pointer[Snapshot]
	running atomic.Bool
}

func New(opts Options) (*Service, error) {
	if opts.Bus == nil || opts.Tasks == nil || opts.Settings == nil {
		return nil, errors.New("scheduler: bus, tasks and settings are required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.IntN
	}
	if strings.TrimSpace(opts.AutoStartSpec) == "" {
		opts.AutoStartSpec = DefaultAutoStartSpec
	}
	if strings.TrimSpace(opts.ResetSpec) == "" {
		opts.ResetSpec = DefaultResetSpec
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}

	s := &Service{opts: opts, log: opts.Log, signal: make(chan struct{}, 1)}
	if loc := s.location(); loc != time.Local {
		s.opts.Clock = zonedClock{Clock: opts.Clock, loc: loc}
	}
	s.m = &machine{
		clock:         s.opts.Clock,
		bus:           opts.Bus,
		tasks:         opts.Tasks,
		settings:      opts.Settings,
		calendar:      opts.Calendar,
		launcher:      opts.Launcher,
		log:           opts.Log,
		randInt:       opts.Rand,
		post:          s.post,
		spawn:         func(f func()) { go f() },
		ctx:           context.Background(),
		settleDelay:   opts.SettleDelay,
		launchTimeout: opts.LaunchTimeout,
		jitter:        map[string]time.Duration{},
		run:           newDayRun(""),
	}
	s.storeSnapshot()
	return s, nil
}

func (s *Service) post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.opts.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Run owns the loop until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler: already running")
	}
	defer s.running.Store(false)

	s.m.ctx = ctx
	events, unsub := s.opts.Bus.SubscribeTopics(
		eventbus.TopicStartRequested,
		eventbus.TopicStopRequested,
		eventbus.TopicRetryRequested,
		eventbus.TopicTasksChanged,
		eventbus.TopicOutcome,
	)
	defer unsub()

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(s.location()))
	if _, err := c.AddFunc(s.opts.AutoStartSpec, func() {
		s.post(func() { s.m.checkAutoStart(s.m.now()) })
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc(s.opts.ResetSpec, func() {
		s.post(func() {
			s.m.refreshValues()
			s.m.ensureDay(s.m.now())
		})
	}); err != nil {
		return err
	}
	c.Start()
	defer func() {
		select {
		case <-c.Stop().Done():
		case <-time.After(2 * time.Second):
		}
	}()

	s.post(func() {
		s.m.refreshValues()
		s.m.reloadTasks()
		s.m.ensureDay(s.m.now())
		s.m.checkAutoStart(s.m.now())
	})
	s.log.Info("scheduler loop started", logx.String("auto_start", s.opts.AutoStartSpec), logx.String("reset", s.opts.ResetSpec))

	for {
		select {
		case <-ctx.Done():
			s.m.shutdown()
			s.storeSnapshot()
			s.log.Info("scheduler loop stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				s.m.shutdown()
				return nil
			}
			s.exec(func() { s.dispatch(ev) })
		case <-s.signal:
			s.drain()
		}
	}
}

func (s *Service) dispatch(ev eventbus.Event) {
	source := ""
	if req, ok := ev.Data.(eventbus.ControlRequest); ok {
		source = req.Source
	}
	switch ev.Type {
	case eventbus.TopicStartRequested:
		s.m.start(source, false)
	case eventbus.TopicStopRequested:
		s.m.stop(source)
	case eventbus.TopicRetryRequested:
		s.m.retry(source)
	case eventbus.TopicTasksChanged:
		s.m.tasksChanged()
	case eventbus.TopicOutcome:
		if res, ok := ev.Data.(classifier.Result); ok {
			s.m.outcome(res)
		}
	}
}

func (s *Service) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.exec(fn)
	}
}

// exec runs one loop item; a panic is logged and the loop continues.
func (s *Service) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler loop", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		s.storeSnapshot()
	}()
	fn()
}

func (s *Service) storeSnapshot() {
	snap := s.m.snapshot()
	s.snap.Store(&snap)
}

// Snapshot is safe from any goroutine. Remaining counters are computed at
// call time.
func (s *Service) Snapshot() Snapshot {
	p := s.snap.Load()
	if p == nil {
		return Snapshot{}
	}
	snap := *p
	now := s.opts.Clock.Now()
	if !snap.NextAt.IsZero() {
		snap.Remaining = remainingSeconds(snap.NextAt, now)
	}
	if !snap.WindowDeadline.IsZero() {
		snap.WindowRemaining = remainingSeconds(snap.WindowDeadline, now)
	}
	return snap
}

// Start, Stop and Retry queue a control request on the loop.
func (s *Service) Start(source string) { s.post(func() { s.m.start(source, false) }) }
func (s *Service) Stop(source string)  { s.post(func() { s.m.stop(source) }) }
func (s *Service) Retry(source string) { s.post(func() { s.m.retry(source) }) }
