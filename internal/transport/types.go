package transport

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Inbound is one text event captured from any source. SourceID is stable per
// origin, e.g. "telegram:12345" or an application package name from the sensor.
type Inbound struct {
	SourceID string
	Title    string
	Text     string
	At       time.Time
	// ReplyTo is set when the origin can receive a direct reply.
	ReplyTo *ChatTarget
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Source produces inbound events until ctx is canceled or Stop is called.
type Source interface {
	Start(ctx context.Context, out chan<- Inbound) error
	Stop(ctx context.Context) error
}

// Adapter is a bidirectional chat transport.
type Adapter interface {
	Source
	Sender
}

// TelegramSourceID formats the source id used for Telegram chats.
func TelegramSourceID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// ParseTelegramSourceID extracts the chat id from "telegram:<id>".
func ParseTelegramSourceID(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), "telegram:")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
