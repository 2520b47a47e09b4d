package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/calendar"
	"dailytask/internal/eventbus"
	"dailytask/internal/settings"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

func TestServiceLoopHandlesBusRequests(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.InsertTask(context.Background(), storage.Task{ID: "t1", TimeOfDay: "09:00:00"}))
	set, err := settings.New(store, map[string]string{settings.KeyAutoStart: "false", settings.KeyRandomJitter: "false"}, logx.Nop())
	require.NoError(t, err)

	bus := eventbus.New()
	clock := newFakeClock(at(14, 8, 0, 0))
	svc, err := New(Options{
		Clock:    clock,
		Bus:      bus,
		Tasks:    store,
		Settings: set,
		Calendar: StaticCalendar{R: calendar.MustNew(nil)},
		Launcher: &fakeLauncher{},
		Log:      logx.Nop(),
	})
	require.NoError(t, err)

	rejected, unsub := bus.SubscribeTopics(eventbus.TopicRejected)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Snapshot().Date == "2026-10-14" }, time.Second, 5*time.Millisecond)

	bus.Publish(eventbus.Event{Type: eventbus.TopicStartRequested, Data: eventbus.ControlRequest{Source: "telegram:1"}})
	require.Eventually(t, func() bool { return svc.Snapshot().State == Waiting }, time.Second, 5*time.Millisecond)

	snap := svc.Snapshot()
	assert.Equal(t, "09:00:00", snap.NextTimeOfDay)
	assert.Equal(t, 3600, snap.Remaining)

	bus.Publish(eventbus.Event{Type: eventbus.TopicStartRequested, Data: eventbus.ControlRequest{Source: "telegram:1"}})
	select {
	case ev := <-rejected:
		assert.Equal(t, MsgAlreadyRunning, ev.Data.(Rejection).Reason)
	case <-time.After(time.Second):
		t.Fatal("no rejection")
	}

	svc.Stop("test")
	require.Eventually(t, func() bool { return svc.Snapshot().State == Idle }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
