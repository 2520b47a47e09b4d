package notifier

import "time"

// Config controls the async report pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// TitleWindow is the minimum spacing of two reports with one title.
	TitleWindow time.Duration
	HistorySize int
}

const DefaultTitleWindow = 60 * time.Second

type HistoryItem struct {
	At    time.Time
	Title string
	Body  string
}

// Stats are best-effort counters.
type Stats struct {
	Queued    uint64 `json:"queued"`
	Sent      uint64 `json:"sent"`
	Throttled uint64 `json:"throttled"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// ReportEvent is emitted on the event bus for report lifecycle events.
type ReportEvent struct {
	Title  string    `json:"title"`
	ChatID int64     `json:"chat_id,omitempty"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

// Bus event types.
const (
	EventQueued    = "notifier.queued"
	EventSent      = "notifier.sent"
	EventThrottled = "notifier.throttled"
	EventDropped   = "notifier.dropped"
	EventFailed    = "notifier.failed"
)
