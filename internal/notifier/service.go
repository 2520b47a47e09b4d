package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"dailytask/internal/eventbus"
	rtsup "dailytask/internal/runtime/supervisor"
	kit "dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	title string
	body  string
	at    time.Time
}

// Service implements the report pipeline:
// title window + queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  kit.Sender
	bus     eventbus.Bus
	now     func() time.Time
	targets []kit.ChatTarget

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// title -> last accepted
	wmu    sync.Mutex
	recent map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	queued, sent, throttled, dropped, failed atomic.Uint64
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now for the title window.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(cfg Config, sender kit.Sender, targets []kit.ChatTarget, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		now:    time.Now,
		recent: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.targets = cleanTargets(targets)
	s.applyLocked(cfg)
	return s
}

func cleanTargets(in []kit.ChatTarget) []kit.ChatTarget {
	out := make([]kit.ChatTarget, 0, len(in))
	seen := map[kit.ChatTarget]bool{}
	for _, t := range in {
		if t.IsZero() || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps tuning at runtime. Queue size and worker count take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetTargets replaces the report recipients.
func (s *Service) SetTargets(targets []kit.ChatTarget) {
	clean := cleanTargets(targets)
	s.mu.Lock()
	s.targets = clean
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.TitleWindow == 0 {
		cfg.TitleWindow = DefaultTitleWindow
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}

	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	q := s.queue
	sup := s.sup
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Send queues a report. A title already sent within the title window is
// dropped and Send returns nil.
func (s *Service) Send(ctx context.Context, title, body string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	title = strings.TrimSpace(title)
	if title == "" && strings.TrimSpace(body) == "" {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.TitleWindow
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	now := s.now()
	if !s.titleAllow(title, now, window) {
		s.throttled.Add(1)
		s.log.Debug("report throttled", logx.String("title", title))
		s.emit(EventThrottled, ReportEvent{Title: title, At: now})
		return nil
	}

	select {
	case q <- job{title: title, body: body, at: now}:
		s.queued.Add(1)
		s.emit(EventQueued, ReportEvent{Title: title, At: now})
		return nil
	default:
		s.dropped.Add(1)
		s.emit(EventDropped, ReportEvent{Title: title, At: now, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

func (s *Service) titleAllow(title string, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if last, ok := s.recent[title]; ok && now.Sub(last) < window {
		return false
	}
	s.recent[title] = now
	for k, t := range s.recent {
		if now.Sub(t) >= window {
			delete(s.recent, k)
		}
	}
	return true
}

func (s *Service) emit(typ string, ev ReportEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:    s.queued.Load(),
		Sent:      s.sent.Load(),
		Throttled: s.throttled.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Service) appendHistory(j job, max int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: j.at, Title: j.title, Body: j.body})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

// Format renders a report as chat text.
func Format(title, body string) string {
	switch {
	case title == "":
		return body
	case body == "":
		return "【" + title + "】"
	default:
		return "【" + title + "】\n" + body
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	targets := s.targets
	s.mu.Unlock()

	if s.sender == nil || len(targets) == 0 {
		s.log.Debug("report has no recipients", logx.String("title", j.title))
		s.appendHistory(j, cfg.HistorySize)
		return
	}
	text := Format(j.title, j.body)
	ok := 0
	for _, to := range targets {
		if err := s.sendWithRetry(ctx, cfg, to, text); err != nil {
			s.failed.Add(1)
			s.log.Warn("report send failed", logx.String("title", j.title), logx.Int64("chat_id", to.ChatID), logx.Err(err))
			s.emit(EventFailed, ReportEvent{Title: j.title, ChatID: to.ChatID, At: s.now(), Error: err.Error()})
			continue
		}
		ok++
	}
	if ok > 0 {
		s.sent.Add(1)
		s.appendHistory(j, cfg.HistorySize)
		s.emit(EventSent, ReportEvent{Title: j.title, At: s.now()})
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, to kit.ChatTarget, text string) error {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.sender.SendText(callCtx, to, text, nil)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug("report send attempt failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
