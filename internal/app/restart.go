package app

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"dailytask/internal/eventbus"
	logx "dailytask/pkg/logx"
)

// Restart asks the run loop to stop with StopRestart. The caller re-execs
// after Stop returns; see Reexec.
func (a *App) Restart(reason string) error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	a.restartOnce.Do(func() {
		a.log.Warn("restart requested", logx.String("reason", reason))
		a.bus.Publish(eventbus.Event{Type: eventbus.TopicRestart, Data: reason})
		close(a.restartCh)
	})
	return nil
}

// RestartRequested is closed once Restart has been called.
func (a *App) RestartRequested() <-chan struct{} { return a.restartCh }

// Reexec replaces the current process with a fresh copy of the binary.
func Reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	return syscall.Exec(exe, os.Args, os.Environ())
}
