package monitor

import (
	"context"
	"errors"
	"time"

	"igmonitor/internal/domain"
	"igmonitor/internal/runtime/supervisor"
)

var (
	ErrStopped       = errors.New("monitor engine stopped")
	ErrUnknownClient = errors.New("unknown client")
)

// Fetcher performs one profile request. err is non-nil only when no HTTP
// response was received.
type Fetcher interface {
	Fetch(ctx context.Context, cred Credential, accountID string) (status int, body []byte, err error)
}

// Pacer is implemented by fetchers that throttle requests. The engine waits
// on the account loop context before the request timeout starts.
type Pacer interface {
	Pace(ctx context.Context) error
}

// Recovery describes a classified suspended -> active transition.
type Recovery struct {
	Client     string
	Account    domain.MonitoredAccount
	Profile    *domain.Profile
	DetectedAt time.Time
	// Elapsed is DetectedAt minus the record's CreatedAt.
	Elapsed time.Duration
}

// Notifier delivers recovery notifications. It is called once per event.
type Notifier interface {
	NotifyRecovery(ctx context.Context, r Recovery) error
}

type NotifierFunc func(ctx context.Context, r Recovery) error

func (f NotifierFunc) NotifyRecovery(ctx context.Context, r Recovery) error { return f(ctx, r) }

// Observer receives engine measurements (implemented by internal/metrics).
type Observer interface {
	CheckDone(client string, outcome Outcome, took time.Duration)
	Transition(client string, from, to domain.AccountState)
	Recovered(client string)
	NotifyFailed(client string)
	Accounts(client string, n int)
	CredentialStreak(client, fingerprint string, streak int)
}

type nopObserver struct{}

func (nopObserver) CheckDone(string, Outcome, time.Duration)                    {}
func (nopObserver) Transition(string, domain.AccountState, domain.AccountState) {}
func (nopObserver) Recovered(string)                                            {}
func (nopObserver) NotifyFailed(string)                                         {}
func (nopObserver) Accounts(string, int)                                        {}
func (nopObserver) CredentialStreak(string, string, int)                        {}

// AddResult reports what Add did.
type AddResult struct {
	ID    string
	Added bool
}

type AddOption func(*domain.MonitoredAccount)

// WithRequester records the chat that asked for monitoring.
func WithRequester(chatID int64) AddOption {
	return func(r *domain.MonitoredAccount) { r.AddedBy = chatID }
}

// EngineStats is a point-in-time view for /status.
type EngineStats struct {
	Client      string
	Running     int
	Paused      bool
	MinInterval time.Duration
	MaxInterval time.Duration
	ByState     map[domain.AccountState]int
	Credentials []CredentialStatus
	Goroutines  supervisor.Counters
}
