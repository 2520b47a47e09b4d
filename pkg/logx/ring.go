package logx

import (
	"strings"
	"sync"
)

const defaultRingSize = 200

// Ring is a fixed-size in-memory buffer of formatted log lines.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = defaultRingSize
	}
	return &Ring{lines: make([]string, size)}
}

// Write implements io.Writer. Each call may carry one or more newline-terminated lines.
func (r *Ring) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}
	r.mu.Lock()
	for _, line := range strings.Split(text, "\n") {
		r.lines[r.next] = line
		r.next = (r.next + 1) % len(r.lines)
		if r.next == 0 {
			r.full = true
		}
	}
	r.mu.Unlock()
	return len(p), nil
}

// Last returns up to n most recent lines, oldest first.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = len(r.lines)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]string, 0, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

// Resize changes capacity, keeping the newest lines.
func (r *Ring) Resize(size int) {
	if size <= 0 {
		size = defaultRingSize
	}
	r.mu.Lock()
	if size == len(r.lines) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	keep := r.Last(size)

	r.mu.Lock()
	r.lines = make([]string, size)
	copy(r.lines, keep)
	r.next = len(keep) % size
	r.full = len(keep) == size
	r.mu.Unlock()
}
