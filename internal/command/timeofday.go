package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dailytask/internal/errs"
	"dailytask/internal/storage"
)

var (
	reHHMM   = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9])$`)
	reHHMMSS = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9]):([0-5][0-9])$`)
)

// ParseTimeOfDay accepts H:mm, HH:mm or HH:mm:ss and returns HH:mm:ss.
// Full-width colons are accepted.
func ParseTimeOfDay(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "：", ":")
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:%s:00", h, m[2]), nil
	}
	if m := reHHMMSS.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:%s:%s", h, m[2], m[3]), nil
	}
	return "", errs.Validation("time", "%q 格式错误，应为 HH:mm", s)
}

// findTask resolves a 1-based ordinal or a time of day against tasks.
func findTask(tasks []storage.Task, ref string) (storage.Task, int, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(tasks) {
			return storage.Task{}, 0, errs.NotFound("任务", "#"+ref)
		}
		return tasks[n-1], n, nil
	}
	tod, err := ParseTimeOfDay(ref)
	if err != nil {
		return storage.Task{}, 0, err
	}
	for i, t := range tasks {
		if t.TimeOfDay == tod {
			return t, i + 1, nil
		}
	}
	return storage.Task{}, 0, errs.NotFound("任务", tod)
}
