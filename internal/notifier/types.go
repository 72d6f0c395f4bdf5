package notifier

import (
	"context"
	"time"

	kit "igmonitor/internal/transport"
)

// Config controls one client's recovery notifications.
type Config struct {
	Client   string
	ChatID   int64
	ThreadID int

	Screenshots bool
	// Retries is the number of re-attempts after the first failed delivery.
	Retries       int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RatePerSec    int
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay < c.RetryBase {
		c.RetryMaxDelay = 16 * c.RetryBase
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Sender is the slice of the transport adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendPhoto(ctx context.Context, to kit.ChatTarget, photo kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error)
}

// ImageFetcher downloads profile pictures.
type ImageFetcher interface {
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

type HistoryItem struct {
	At      time.Time
	Account string
	Text    string
}

// NotificationEvent is the payload of notifier.sent / notifier.failed.
type NotificationEvent struct {
	Client  string    `json:"client"`
	Account string    `json:"account"`
	ChatID  int64     `json:"chat_id"`
	Photo   bool      `json:"photo"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
