package eventbus

// Topic names. Producers and consumers only share these strings and the small
// payload structs below; richer payloads live in the producing package.
const (
	// Control requests consumed by the scheduler loop.
	TopicStartRequested = "scheduler.start"
	TopicStopRequested  = "scheduler.stop"
	TopicRetryRequested = "scheduler.retry"
	TopicTasksChanged   = "tasks.changed"

	// Inbound text that was classified as Success or Failure.
	TopicOutcome = "outcome.classified"

	// Scheduler lifecycle.
	TopicStarted      = "scheduler.started"
	TopicStopped      = "scheduler.stopped"
	TopicRejected     = "scheduler.rejected"
	TopicAutoStarted  = "scheduler.autostarted"
	TopicTaskArmed    = "task.armed"
	TopicTick         = "task.tick"
	TopicLaunching    = "task.launching"
	TopicLaunchFailed = "task.launch_failed"
	TopicWindowOpened = "task.window_opened"
	TopicConfirmed    = "task.confirmed"
	TopicFailed       = "task.failed"
	TopicTimedOut     = "task.timeout"
	TopicDayCompleted = "day.completed"
	TopicDayReset     = "day.reset"

	// Display side effects for the UI bridge.
	TopicMaskShow  = "mask.show"
	TopicMaskHide  = "mask.hide"
	TopicMaskDelay = "mask.delay"
	TopicAppHome   = "app.home"

	// Operator reports that bypass domain mapping.
	TopicReport = "report"

	TopicRestart = "app.restart"
)

// ControlRequest asks the scheduler to start, stop or retry.
type ControlRequest struct {
	Source string `json:"source"`
}

// Report is a ready-to-send operator message.
type Report struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// MaskDelay asks the UI bridge to restore the mask after Seconds.
type MaskDelay struct {
	Seconds int `json:"seconds"`
}
