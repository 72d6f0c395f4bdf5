package config

type Config struct {
	Telegram     TelegramConfig          `json:"telegram"`
	Logging      LoggingConfig           `json:"logging"`
	Ops          OpsConfig               `json:"ops,omitempty"`
	Housekeeping HousekeepingConfig      `json:"housekeeping,omitempty"`
	Clients      map[string]ClientConfig `json:"clients"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving the operator log sink.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// OpsConfig controls the operations HTTP server (/metrics, /healthz, pprof).
//
// Prefer a loopback address; a non-loopback bind requires a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9310"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// HousekeepingConfig holds cron specs ("@every 30m", "0 9 * * *"); empty disables the job.
type HousekeepingConfig struct {
	Compact string `json:"compact,omitempty"`
	Digest  string `json:"digest,omitempty"`
}

// ClientConfig is one isolated monitoring client.
type ClientConfig struct {
	ChatID       int64   `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`

	// Credentials are Instagram sessionid values; CredentialsFile adds the
	// sessions of a {"sessions": [...]} file.
	Credentials     []string `json:"credentials,omitempty"`
	CredentialsFile string   `json:"credentials_file,omitempty"`
	ProxyURL        string   `json:"proxy_url,omitempty"`

	MinCheckInterval  string `json:"min_check_interval,omitempty"`
	MaxCheckInterval  string `json:"max_check_interval,omitempty"`
	RequestTimeout    string `json:"request_timeout,omitempty"`
	RequestsPerMinute int    `json:"requests_per_minute,omitempty"`
	ResumeSpread      string `json:"resume_spread,omitempty"`

	Screenshots    bool `json:"screenshots"`
	NotifyRetries  *int `json:"notify_retries,omitempty"`
	PersistRetries *int `json:"persist_retries,omitempty"`

	Storage StorageConfig `json:"storage"`
}

// StorageConfig selects the account store.
//
//	"storage": { "driver": "sqlite", "path": "./clients/keo/monitor.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
