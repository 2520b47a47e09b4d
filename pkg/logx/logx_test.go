package logx

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "dailytask/internal/transport"
)

func TestRingKeepsNewestLines(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(r, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Last(0))
	assert.Equal(t, []string{"line 5"}, r.Last(1))
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Last(10))
}

func TestRingPartialAndResize(t *testing.T) {
	r := NewRing(4)
	_, _ = r.Write([]byte("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, r.Last(5))

	r.Resize(1)
	assert.Equal(t, []string{"b"}, r.Last(0))
	_, _ = r.Write([]byte("c\n"))
	assert.Equal(t, []string{"c"}, r.Last(0))
}

func TestLoggerWritesFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("comp", "test"))
	l.Info("hello", Int("n", 3), Err(nil))

	out := buf.String()
	assert.Contains(t, out, `"comp":"test"`)
	assert.Contains(t, out, `"n":3`)
	assert.Contains(t, out, `"caller":"logx_test.go:`)
	assert.NotContains(t, out, `"err"`)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Warn("nothing") })
	assert.False(t, Nop().IsZero())
}

type captureSender struct {
	ch chan string
}

func (c *captureSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.ch <- text
	return kit.MessageRef{}, nil
}

func TestServiceRecentAndTelegramMirror(t *testing.T) {
	sender := &captureSender{ch: make(chan string, 4)}
	svc, log := New(Config{Level: "debug", RingSize: 10, Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 5}}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(kit.ChatTarget{ChatID: 42})

	log.Info("just info")
	log.Warn("disk low", String("mount", "/data"))

	recent := svc.Recent(2)
	require.Len(t, recent, 2)
	assert.Contains(t, recent[0], "just info")
	assert.Contains(t, recent[1], "disk low")

	msg := <-sender.ch
	assert.True(t, strings.HasPrefix(msg, "[WARN] disk low"), msg)
	assert.Contains(t, msg, "mount=/data")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus", zerolog.InfoLevel))
}
