package command

import (
	"context"
	"time"

	"dailytask/internal/eventbus"
	"dailytask/internal/scheduler"
	"dailytask/internal/settings"
	"dailytask/internal/storage"
	logx "dailytask/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) (Reply, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Reply is sent back through the report sink. A zero Reply sends nothing.
type Reply struct {
	Title string
	Body  string
}

func (r Reply) IsZero() bool { return r.Title == "" && r.Body == "" }

type Command struct {
	// Name is the canonical name, e.g. "start-task".
	Name     string
	Synonyms []string
	// Title is used for error replies when the handler returns none.
	Title       string
	Usage       string
	Description string

	MinArgs int
	// MaxArgs < 0 means unbounded.
	MaxArgs int
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	ID     string
	Source string
	Text   string
	// Token is the word that matched, Name the canonical command.
	Token string
	Name  string
	Args  []string

	Logger logx.Logger
	Deps   *Deps
}

type BatteryReader interface {
	Level(ctx context.Context) (int, error)
}

type StatusSource interface {
	Snapshot() scheduler.Snapshot
}

type LogSource interface {
	Recent(n int) []string
}

type Restarter interface {
	Restart(reason string) error
}

// Replier is the outbound side, usually the notifier.
type Replier interface {
	Send(ctx context.Context, title, body string) error
}

type SettingsStore interface {
	Load(ctx context.Context) (settings.Values, error)
	SetInt(ctx context.Context, key string, v int) error
	SetBool(ctx context.Context, key string, v bool) error
	All(ctx context.Context) (map[string]string, error)
}

// Deps are the ports handlers reach. Nil optional ports make the matching
// commands reply with an "unavailable" error.
type Deps struct {
	Bus           eventbus.Bus
	Settings      SettingsStore
	Tasks         storage.TaskStore
	Notifications storage.NotificationLog
	Battery       BatteryReader
	Status        StatusSource
	Calendar      scheduler.CalendarSource
	Logs          LogSource
	Restarter     Restarter
	Version       string

	Now       func() time.Time
	AfterFunc func(d time.Duration, f func())
	NewID     func() string
}
