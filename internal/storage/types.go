package storage

import (
	"context"
	"errors"
	"time"

	"igmonitor/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store closed")
)

// Config configures a per-client store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Store is the durable account-record mapping used by the monitor engine.
type Store interface {
	Upsert(ctx context.Context, rec domain.MonitoredAccount) error
	Get(ctx context.Context, id string) (domain.MonitoredAccount, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]domain.MonitoredAccount, error)
	// Compact reclaims space; it never changes the visible record set.
	Compact(ctx context.Context) error
	Close() error
}
