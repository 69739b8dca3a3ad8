// Package transport defines the chat-platform boundary. The bot core only
// sees these types; internal/transport/telegram implements them.
package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

// UpdateMessage is a plain text message. It is the only kind the bot
// consumes.
const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound text message. ThreadID is the forum topic, 0 outside
// forum chats.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget addresses a chat, optionally a topic inside it. Username is a
// public "@channel" handle, used when ChatID is 0.
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int
}

// IsZero reports whether the target names no chat.
func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

func (t ChatTarget) String() string {
	if t.ChatID == 0 {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" or "HTML"
	DisablePreview bool
	Silent         bool // no notification sound
}

// Adapter receives updates and sends text. It is shared by the command
// router, the notifier and the log forwarder.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu to the platform.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
