// Package errs defines the error kinds surfaced to operators.
//
// Handlers return these values; the command router and the scheduler turn
// them into replies or failure reports. None of them is fatal.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed command argument.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

// NotFoundError reports a lookup that matched nothing.
type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s 不存在", e.What, e.Key) }

// RangeError reports a numeric value outside [Min, Max].
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s 取值 %d 超出范围，允许范围 %d~%d", e.Field, e.Value, e.Min, e.Max)
}

// TimeoutFailure marks a confirmation window that elapsed with no signal.
type TimeoutFailure struct {
	TaskID string
}

func (e *TimeoutFailure) Error() string { return "no confirmation received" }

// ClassifiedFailure carries a failure reason derived from inbound text.
type ClassifiedFailure struct {
	Reason string
	Text   string
}

func (e *ClassifiedFailure) Error() string { return "classified failure: " + e.Reason }

// TransientIOError wraps an external store error. The operation was abandoned.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientIOError) Unwrap() error { return e.Err }

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(what, key string) error { return &NotFoundError{What: what, Key: key} }

func OutOfRange(field string, v, min, max int) error {
	return &RangeError{Field: field, Value: v, Min: min, Max: max}
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientIOError{Op: op, Err: err}
}

// CheckRange returns a RangeError when v is outside [min, max].
func CheckRange(field string, v, min, max int) error {
	if v < min || v > max {
		return OutOfRange(field, v, min, max)
	}
	return nil
}

func IsTransient(err error) bool {
	var t *TransientIOError
	return errors.As(err, &t)
}

// Reply renders err as operator-facing text. Unknown errors get a generic
// prefix so internal details stay in the logs.
func Reply(err error) string {
	if err == nil {
		return ""
	}
	var (
		v  *ValidationError
		nf *NotFoundError
		r  *RangeError
		t  *TransientIOError
	)
	switch {
	case errors.As(err, &v):
		return "参数错误：" + v.Error()
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &r):
		return "参数错误：" + r.Error()
	case errors.As(err, &t):
		return "存储暂时不可用，请稍后重试"
	default:
		return "执行失败：" + err.Error()
	}
}
