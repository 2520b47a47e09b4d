package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate time of day")
	ErrClosed    = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": nothing survives a restart
//
// An empty Driver means "sqlite".
type Config struct {
	Driver      string        `json:"driver,omitempty"`
	Path        string        `json:"path,omitempty"`
	BusyTimeout time.Duration `json:"-"`
	// NotificationRetention bounds the notification log; 0 keeps everything.
	NotificationRetention time.Duration `json:"-"`
}

// Task is one scheduled check-in. TimeOfDay is "HH:mm:ss" and unique.
type Task struct {
	ID        string    `json:"id"`
	TimeOfDay string    `json:"time_of_day"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is one captured line of inbound text.
type Notification struct {
	ID     int64     `json:"id"`
	Source string    `json:"source"`
	Title  string    `json:"title,omitempty"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// TaskStore holds the task set. LoadTasks returns tasks sorted by TimeOfDay.
type TaskStore interface {
	LoadTasks(ctx context.Context) ([]Task, error)
	InsertTask(ctx context.Context, t Task) error
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id string) error
	TaskExistsByTime(ctx context.Context, timeOfDay string) (bool, error)
}

// KV is the runtime settings store. Writes are last-write-wins.
type KV interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// NotificationLog records inbound text. ListNotificationsSince returns
// entries with At >= since in arrival order.
type NotificationLog interface {
	AppendNotification(ctx context.Context, n Notification) error
	ListNotificationsSince(ctx context.Context, since time.Time, limit int) ([]Notification, error)
	PruneNotifications(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence API.
type Store interface {
	TaskStore
	KV
	NotificationLog
	Close() error
}
