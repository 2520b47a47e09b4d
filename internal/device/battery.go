package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const defaultPowerSupplyDir = "/sys/class/power_supply"

var ErrNoBattery = errors.New("device: no battery found")

// Level returns the battery percentage, 0..100.
func (c *Controller) Level(ctx context.Context) (int, error) {
	if len(c.cfg.Battery) > 0 {
		out, err := c.r.do(ctx, "battery", c.cfg.Battery)
		if err != nil {
			return 0, err
		}
		return parseLevel(out)
	}
	dir := c.cfg.PowerSupplyDir
	if dir == "" {
		dir = defaultPowerSupplyDir
	}
	return readSysfsLevel(dir)
}

// readSysfsLevel picks the first supply of type Battery, falling back to
// the first one exposing capacity at all.
func readSysfsLevel(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*", "capacity"))
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, ErrNoBattery
	}
	sort.Strings(matches)
	pick := matches[0]
	for _, m := range matches {
		typ, err := os.ReadFile(filepath.Join(filepath.Dir(m), "type"))
		if err == nil && strings.EqualFold(strings.TrimSpace(string(typ)), "battery") {
			pick = m
			break
		}
	}
	b, err := os.ReadFile(pick)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", pick, err)
	}
	return parseLevel(string(b))
}

// parseLevel accepts "87", "87%" or dumpsys output containing "level: 87".
func parseLevel(s string) (int, error) {
	s = strings.TrimSpace(s)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if k, v, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(k), "level") {
			s = v
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("battery level %q: %w", firstLine(s), err)
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("battery level %d out of range", n)
	}
	return n, nil
}
