package scheduler

import (
	"context"
	"time"

	"dailytask/internal/calendar"
	"dailytask/internal/settings"
)

type State int

const (
	Idle State = iota
	Running
	Waiting    // PreTrigger armed
	Launching  // mask hidden, settle delay or launch in progress
	Confirming // ConfirmationWindow open
	Completed  // DONE for the day, or a rest day
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Launching:
		return "launching"
	case Confirming:
		return "confirming"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Label is the operator-facing state name.
func (s State) Label() string {
	switch s {
	case Idle:
		return "已停止"
	case Running:
		return "运行中"
	case Waiting:
		return "等待执行"
	case Launching:
		return "正在启动"
	case Confirming:
		return "等待打卡结果"
	case Completed:
		return "今日已完成"
	default:
		return "未知"
	}
}

type TimerKind int

const (
	PreTrigger TimerKind = iota
	ConfirmationWindow
)

func (k TimerKind) String() string {
	if k == ConfirmationWindow {
		return "confirmation-window"
	}
	return "pre-trigger"
}

type Outcome int

const (
	Confirmed Outcome = iota + 1
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed-out"
	default:
		return "pending"
	}
}

// CursorDone marks a day with no eligible task left.
const CursorDone = -1

// DayRun is the per-service-day execution record.
type DayRun struct {
	Date           string
	Cursor         int
	StartedAt      time.Time
	CompletedCount int
	Outcomes       map[string]Outcome

	completionAnnounced bool
	autoStartChecked    bool
}

func newDayRun(date string) DayRun {
	return DayRun{Date: date, Outcomes: map[string]Outcome{}}
}

// Snapshot is a read-only view for status queries.
type Snapshot struct {
	State       State     `json:"state"`
	Date        string    `json:"date"`
	Cursor      int       `json:"cursor"`
	Done        bool      `json:"done"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	RetryTarget string    `json:"retry_target,omitempty"`

	NextTaskID    string    `json:"next_task_id,omitempty"`
	NextOrdinal   int       `json:"next_ordinal,omitempty"`
	NextTimeOfDay string    `json:"next_time_of_day,omitempty"`
	NextAt        time.Time `json:"next_at,omitempty"`
	// Remaining is the PreTrigger countdown in seconds.
	Remaining int `json:"remaining"`

	WindowTaskID    string    `json:"window_task_id,omitempty"`
	WindowDeadline  time.Time `json:"window_deadline,omitempty"`
	WindowRemaining int       `json:"window_remaining"`
}

// Launcher opens the target application.
type Launcher interface {
	Launch(ctx context.Context) error
}

// SettingsSource yields the current runtime settings.
type SettingsSource interface {
	Load(ctx context.Context) (settings.Values, error)
}

// CalendarSource yields the current override snapshot.
type CalendarSource interface {
	Resolver() *calendar.Resolver
}

// StaticCalendar adapts a fixed resolver.
type StaticCalendar struct{ R *calendar.Resolver }

func (s StaticCalendar) Resolver() *calendar.Resolver { return s.R }

// Rejection explains why a control request had no effect.
type Rejection struct {
	Action string `json:"action"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason"`
}

// Started is published when a day's run begins.
type Started struct {
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Tasks       []string `json:"tasks"`
	Auto        bool     `json:"auto"`
	Source      string   `json:"source,omitempty"`
}

// Stopped is published after a stop request took effect.
type Stopped struct {
	Source string `json:"source,omitempty"`
}

// TaskEvent carries per-task lifecycle details.
type TaskEvent struct {
	Date      string    `json:"date"`
	TaskID    string    `json:"task_id,omitempty"`
	Ordinal   int       `json:"ordinal,omitempty"`
	TimeOfDay string    `json:"time_of_day,omitempty"`
	PlannedAt time.Time `json:"planned_at,omitempty"`
	Remaining int       `json:"remaining,omitempty"`
	Retry     bool      `json:"retry,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// DayCompleted is published once per service day.
type DayCompleted struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// DayReset is published on rollover.
type DayReset struct {
	Previous string `json:"previous"`
	Date     string `json:"date"`
	Resting  bool   `json:"resting,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
