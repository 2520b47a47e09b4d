package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribe (observer) channels are buffered; slow observers drop events.
//   - SubscribeTopics channels are lossless and ordered per subscriber.
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a lossy observer for every event.
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// SubscribeTopics registers an ordered, lossless subscription for the
	// given topics. A topic ending in ".*" matches every type with that prefix.
	SubscribeTopics(topics ...string) (ch <-chan Event, unsubscribe func())
}

// Stats are best-effort counters for operational visibility.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Observers   int    `json:"observers"`
	TopicSubs   int    `json:"topic_subs"`
	MaxBacklog  int    `json:"max_backlog"`
	LastEventAt time.Time
}

// New returns an in-memory fanout bus.
//
// Observer delivery owns no goroutines. Each topic subscription owns one pump
// goroutine that exits on unsubscribe.
func New() *MemBus {
	return &MemBus{
		subs:   map[uint64]chan Event{},
		topics: map[uint64]*topicSub{},
	}
}

type MemBus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	topics map[uint64]*topicSub
	seq    atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
	lastAt    atomic.Int64
}

var _ Bus = (*MemBus)(nil)

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)
	b.lastAt.Store(e.Time.UnixNano())

	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	tss := make([]*topicSub, 0, len(b.topics))
	for _, ts := range b.topics {
		if ts.matches(e.Type) {
			tss = append(tss, ts)
		}
	}
	b.mu.RUnlock()

	for _, ts := range tss {
		ts.push(e)
	}

	for _, ch := range chs {
		// A concurrent unsubscribe may close the channel; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *MemBus) SubscribeTopics(topics ...string) (<-chan Event, func()) {
	ts := newTopicSub(topics)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.topics[id] = ts
	b.mu.Unlock()

	go ts.pump()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.topics, id)
			b.mu.Unlock()
			ts.close()
		})
	}
	return ts.out, unsub
}

func (b *MemBus) Stats() Stats {
	st := Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
	if ns := b.lastAt.Load(); ns > 0 {
		st.LastEventAt = time.Unix(0, ns)
	}
	b.mu.RLock()
	st.Observers = len(b.subs)
	st.TopicSubs = len(b.topics)
	for _, ts := range b.topics {
		if n := ts.backlog(); n > st.MaxBacklog {
			st.MaxBacklog = n
		}
	}
	b.mu.RUnlock()
	return st
}

// topicSub buffers matching events in an unbounded FIFO so Publish never blocks
// and the consumer never misses an event.
type topicSub struct {
	exact    map[string]struct{}
	prefixes []string

	mu     sync.Mutex
	queue  []Event
	closed bool

	signal chan struct{}
	done   chan struct{}
	out    chan Event
}

func newTopicSub(topics []string) *topicSub {
	ts := &topicSub{
		exact:  map[string]struct{}{},
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event),
	}
	for _, t := range topics {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
			continue
		case t == "*":
			ts.prefixes = append(ts.prefixes, "")
		case strings.HasSuffix(t, ".*"):
			ts.prefixes = append(ts.prefixes, strings.TrimSuffix(t, "*"))
		default:
			ts.exact[t] = struct{}{}
		}
	}
	return ts
}

func (ts *topicSub) matches(typ string) bool {
	if _, ok := ts.exact[typ]; ok {
		return true
	}
	for _, p := range ts.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

func (ts *topicSub) push(e Event) {
	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return
	}
	ts.queue = append(ts.queue, e)
	ts.mu.Unlock()

	select {
	case ts.signal <- struct{}{}:
	default:
	}
}

func (ts *topicSub) backlog() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.queue)
}

func (ts *topicSub) close() {
	ts.mu.Lock()
	if ts.closed {
		ts.mu.Unlock()
		return
	}
	ts.closed = true
	ts.queue = nil
	ts.mu.Unlock()
	close(ts.done)
}

func (ts *topicSub) pump() {
	defer close(ts.out)
	for {
		ts.mu.Lock()
		var (
			e  Event
			ok bool
		)
		if len(ts.queue) > 0 {
			e, ok = ts.queue[0], true
			ts.queue[0] = Event{}
			ts.queue = ts.queue[1:]
		}
		ts.mu.Unlock()

		if !ok {
			select {
			case <-ts.signal:
				continue
			case <-ts.done:
				return
			}
		}

		select {
		case ts.out <- e:
		case <-ts.done:
			return
		}
	}
}
