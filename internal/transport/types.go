package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	// ReplyToText is the text (or caption) of the message this one replies to.
	ReplyToText string
	IsGroup     bool
}

// Callback is an inline button press on a message the bot sent.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// URLButton is an inline button that opens a link.
type URLButton struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        []URLButton
	// ReplyMarkupAdapter is adapter-specific markup (Telegram: *telebot.ReplyMarkup)
	// and wins over Buttons.
	ReplyMarkupAdapter any
}

// Photo is an in-memory image upload.
type Photo struct {
	Name    string // file name hint, e.g. "nasa_profile.png"
	Data    []byte
	Caption string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo, opt *SendOptions) (MessageRef, error)
}

// Editor is implemented by adapters that can rewrite sent messages and answer
// button presses.
type Editor interface {
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
