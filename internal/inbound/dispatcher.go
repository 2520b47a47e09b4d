// Package inbound routes captured text events.
//
// Events from the target application are recorded and classified; events
// from trusted sources are recorded and handed to the command router.
// Anything else is dropped.
package inbound

import (
	"context"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"dailytask/internal/classifier"
	"dailytask/internal/eventbus"
	"dailytask/internal/storage"
	"dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

// CommandHandler is satisfied by command.Router.
type CommandHandler interface {
	Handle(ctx context.Context, in transport.Inbound) bool
}

// Sources names who is who. Target is the monitored check-in app; Trusted
// may issue commands.
type Sources struct {
	Target  string
	Trusted []string
}

type sourceSet struct {
	target  string
	trusted map[string]bool
}

type Dispatcher struct {
	bus      eventbus.Bus
	notes    storage.NotificationLog
	commands CommandHandler
	log      logx.Logger

	cls     atomic.Pointer[classifier.Classifier]
	sources atomic.Pointer[sourceSet]
}

func New(bus eventbus.Bus, notes storage.NotificationLog, commands CommandHandler, cls *classifier.Classifier, src Sources, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cls == nil {
		cls = classifier.Default()
	}
	d := &Dispatcher{bus: bus, notes: notes, commands: commands, log: log}
	d.cls.Store(cls)
	d.SetSources(src)
	return d
}

func (d *Dispatcher) SetClassifier(c *classifier.Classifier) {
	if c != nil {
		d.cls.Store(c)
	}
}

func (d *Dispatcher) SetSources(src Sources) {
	set := &sourceSet{target: strings.TrimSpace(src.Target), trusted: map[string]bool{}}
	for _, s := range src.Trusted {
		if s = strings.TrimSpace(s); s != "" {
			set.trusted[s] = true
		}
	}
	d.sources.Store(set)
}

func (d *Dispatcher) IsTrusted(source string) bool {
	return d.sources.Load().trusted[source]
}

// Run consumes in until ctx is done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan transport.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			d.safeProcess(ctx, ev)
		}
	}
}

func (d *Dispatcher) safeProcess(ctx context.Context, ev transport.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in inbound dispatch", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	d.Process(ctx, ev)
}

// Process handles one event synchronously.
func (d *Dispatcher) Process(ctx context.Context, ev transport.Inbound) {
	src := d.sources.Load()
	isTarget := src.target != "" && ev.SourceID == src.target
	trusted := src.trusted[ev.SourceID]
	if !isTarget && !trusted {
		d.log.Debug("inbound from unknown source dropped", logx.String("source", ev.SourceID))
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	d.record(ctx, ev)

	if isTarget {
		text := ev.Text
		if strings.TrimSpace(text) == "" {
			text = ev.Title
		}
		res := d.cls.Load().Classify(text)
		d.log.Debug("target notification classified", logx.String("verdict", res.Verdict.String()), logx.String("reason", string(res.Reason)))
		if res.Verdict != classifier.Ignored {
			d.bus.Publish(eventbus.Event{Type: eventbus.TopicOutcome, Time: ev.At, Data: res})
		}
	}
	if trusted && d.commands != nil {
		d.commands.Handle(ctx, ev)
	}
}

func (d *Dispatcher) record(ctx context.Context, ev transport.Inbound) {
	if d.notes == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := d.notes.AppendNotification(cctx, storage.Notification{
		Source: ev.SourceID,
		Title:  ev.Title,
		Text:   ev.Text,
		At:     ev.At,
	})
	if err != nil {
		d.log.Warn("notification not recorded", logx.String("source", ev.SourceID), logx.Err(err))
	}
}
