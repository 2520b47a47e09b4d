// Package device drives the phone: launching the check-in app, returning to
// the home screen, toggling the privacy mask and reading the battery level.
//
// Every action is an argv from config, typically an adb line such as
//
//	["adb", "shell", "monkey", "-p", "com.alibaba.android.rimet", "1"]
package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotConfigured is returned for an action with no command.
var ErrNotConfigured = errors.New("device: action not configured")

const defaultTimeout = 10 * time.Second

// Config holds one argv per action.
type Config struct {
	Launch   []string
	Home     []string
	MaskShow []string
	MaskHide []string

	// Battery is an optional command printing a percentage. When empty the
	// level is read from PowerSupplyDir.
	Battery        []string
	PowerSupplyDir string

	Timeout time.Duration
}

// runFunc runs argv and returns its combined output.
type runFunc func(ctx context.Context, argv []string) ([]byte, error)

func execRun(ctx context.Context, argv []string) ([]byte, error) {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
}

type runner struct {
	run     runFunc
	timeout time.Duration
}

func newRunner(timeout time.Duration) runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return runner{run: execRun, timeout: timeout}
}

func (r runner) do(ctx context.Context, name string, argv []string) (string, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotConfigured)
	}
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.run(cctx, argv)
	s := strings.TrimSpace(string(out))
	if err != nil {
		if s != "" {
			return s, fmt.Errorf("%s: %w: %s", name, err, firstLine(s))
		}
		return s, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	return s
}

// Controller runs the configured actions.
type Controller struct {
	cfg Config
	r   runner
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, r: newRunner(cfg.Timeout)}
}

// Launch brings the check-in app to the foreground.
func (c *Controller) Launch(ctx context.Context) error {
	_, err := c.r.do(ctx, "launch", c.cfg.Launch)
	return err
}

func (c *Controller) Home(ctx context.Context) error {
	_, err := c.r.do(ctx, "home", c.cfg.Home)
	return err
}

func (c *Controller) ShowMask(ctx context.Context) error {
	_, err := c.r.do(ctx, "mask.show", c.cfg.MaskShow)
	return err
}

func (c *Controller) HideMask(ctx context.Context) error {
	_, err := c.r.do(ctx, "mask.hide", c.cfg.MaskHide)
	return err
}
