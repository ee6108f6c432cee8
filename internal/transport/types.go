package transport

import (
	"context"
	"errors"
)

var (
	// ErrMessageNotFound reports that a message to edit or pin no longer exists.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotModified reports an edit whose content equals the current content.
	ErrNotModified = errors.New("message not modified")
	// ErrForbidden reports a missing chat permission (rename, pin, post).
	ErrForbidden = errors.New("forbidden")
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.ChatID == 0 || r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Command is a parsed slash command addressed to the bot.
type Command struct {
	Name         string
	Args         []string
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
}

// CommandFunc returns the reply text for a command. An empty reply sends nothing.
type CommandFunc func(ctx context.Context, cmd Command) (string, error)

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// Sender posts new messages.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Display is the set of chat surfaces the presenter writes to.
type Display interface {
	Sender
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	SetTitle(ctx context.Context, chatID int64, title string) error
	Pin(ctx context.Context, ref MessageRef) error
}

type Adapter interface {
	Display
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Handle(cmd BotCommand, fn CommandFunc)
}
