package app

// StopReason is logged on shutdown and decides whether the process re-execs.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopRestart    StopReason = "restart"
)
