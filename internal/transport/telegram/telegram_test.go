package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

func TestNormalizeSlash(t *testing.T) {
	tests := map[string]string{
		"/start_task":          "start-task",
		"/modify_timeout@my 45": "modify-timeout 45",
		"/help@my_bot":         "help",
		"启动任务":                 "启动任务",
		"  #stop  ":            "#stop",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeSlash(in), in)
	}
}

func TestInboundFromMessage(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	m := &tele.Message{
		ID:       7,
		Unixtime: now.Add(-time.Minute).Unix(),
		Chat:     &tele.Chat{ID: -100123},
		Sender:   &tele.User{ID: 5, Username: "ops"},
		ThreadID: 3,
		Text:     "/query_status",
	}
	in, ok := inboundFromMessage(m, now)
	require.True(t, ok)
	assert.Equal(t, "telegram:-100123", in.SourceID)
	assert.Equal(t, "query-status", in.Text)
	assert.Equal(t, "ops", in.Title)
	assert.True(t, in.At.Equal(now.Add(-time.Minute)))
	assert.Equal(t, &kit.ChatTarget{ChatID: -100123, ThreadID: 3}, in.ReplyTo)

	_, ok = inboundFromMessage(&tele.Message{Chat: &tele.Chat{ID: 1}, Text: "  "}, now)
	assert.False(t, ok)
	_, ok = inboundFromMessage(nil, now)
	assert.False(t, ok)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10, ""))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(long, 10, ""))

	parts := splitText(strings.Repeat("字", 25), 10, "")
	require.Len(t, parts, 3)
	assert.Equal(t, 10, len([]rune(parts[0])))

	html := "abcdefg<b>bold</b>"
	parts = splitText(html, 9, "HTML")
	assert.Equal(t, "abcdefg", parts[0])
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	assert.Error(t, err)

	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	assert.NoError(t, a.Stop(t.Context()))
}

func TestMenuName(t *testing.T) {
	assert.Equal(t, "query_status", MenuName("query-status"))
}
