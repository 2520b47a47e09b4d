package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu       sync.Mutex
	closed   bool
	tasks    map[string]Task
	settings map[string]string
	notes    []Notification
	nextID   int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{tasks: map[string]Task{}, settings: map[string]string{}}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) LoadTasks(ctx context.Context) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeOfDay < out[j].TimeOfDay })
	return out, nil
}

func (m *Memory) timeTakenLocked(timeOfDay, exceptID string) bool {
	for id, t := range m.tasks {
		if id != exceptID && t.TimeOfDay == timeOfDay {
			return true
		}
	}
	return false
}

func (m *Memory) InsertTask(ctx context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[t.ID]; ok || m.timeTakenLocked(t.TimeOfDay, "") {
		return ErrDuplicate
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) UpdateTask(ctx context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cur, ok := m.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	if m.timeTakenLocked(t.TimeOfDay, t.ID) {
		return ErrDuplicate
	}
	cur.TimeOfDay = t.TimeOfDay
	m.tasks[t.ID] = cur
	return nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) TaskExistsByTime(ctx context.Context, timeOfDay string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.timeTakenLocked(timeOfDay, ""), nil
}

func (m *Memory) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) PutSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.settings[key] = value
	return nil
}

func (m *Memory) ListSettings(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) AppendNotification(ctx context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}
	m.nextID++
	n.ID = m.nextID
	m.notes = append(m.notes, n)
	return nil
}

func (m *Memory) ListNotificationsSince(ctx context.Context, since time.Time, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Notification
	for _, n := range m.notes {
		if n.At.Before(since) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PruneNotifications(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.notes[:0]
	var removed int64
	for _, n := range m.notes {
		if n.At.Before(before) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	m.notes = kept
	return removed, nil
}
