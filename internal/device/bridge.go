package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"dailytask/internal/eventbus"
	"dailytask/internal/settings"
	logx "dailytask/pkg/logx"
)

// Actions is the part of Controller the bridge drives.
type Actions interface {
	Home(ctx context.Context) error
	ShowMask(ctx context.Context) error
	HideMask(ctx context.Context) error
}

type SettingsSource interface {
	Load(ctx context.Context) (settings.Values, error)
}

// Bridge turns display events from the bus into device actions.
type Bridge struct {
	bus      eventbus.Bus
	act      Actions
	settings SettingsSource
	log      logx.Logger

	afterFunc func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	pending *time.Timer
}

var bridgeTopics = []string{
	eventbus.TopicMaskShow,
	eventbus.TopicMaskHide,
	eventbus.TopicMaskDelay,
	eventbus.TopicAppHome,
}

func NewBridge(bus eventbus.Bus, act Actions, st SettingsSource, log logx.Logger) *Bridge {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bridge{bus: bus, act: act, settings: st, log: log, afterFunc: time.AfterFunc}
}

func (b *Bridge) Run(ctx context.Context) error {
	events, unsub := b.bus.SubscribeTopics(bridgeTopics...)
	defer unsub()
	defer b.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TopicMaskShow:
		b.cancelPending()
		b.report("mask.show", b.act.ShowMask(ctx))
	case eventbus.TopicMaskHide:
		b.cancelPending()
		b.report("mask.hide", b.act.HideMask(ctx))
	case eventbus.TopicMaskDelay:
		d, _ := ev.Data.(eventbus.MaskDelay)
		if d.Seconds <= 0 {
			return
		}
		b.schedule(ctx, time.Duration(d.Seconds)*time.Second)
	case eventbus.TopicAppHome:
		if b.settings != nil {
			v, err := b.settings.Load(ctx)
			if err != nil {
				b.log.Warn("settings unavailable; using defaults", logx.Err(err))
			}
			if !v.BackToHome {
				return
			}
		}
		b.report("home", b.act.Home(ctx))
	}
}

// schedule restores the mask after d, replacing any pending restore.
func (b *Bridge) schedule(ctx context.Context, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		b.pending.Stop()
	}
	b.pending = b.afterFunc(d, func() {
		if ctx.Err() != nil {
			return
		}
		b.report("mask.show", b.act.ShowMask(ctx))
	})
}

func (b *Bridge) cancelPending() {
	b.mu.Lock()
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
	b.mu.Unlock()
}

func (b *Bridge) report(action string, err error) {
	switch {
	case err == nil:
		b.log.Debug("device action done", logx.String("action", action))
	case errors.Is(err, ErrNotConfigured):
		b.log.Debug("device action skipped", logx.String("action", action))
	default:
		b.log.Warn("device action failed", logx.String("action", action), logx.Err(err))
	}
}
