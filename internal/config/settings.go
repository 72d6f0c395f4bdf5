package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "igmonitor/pkg/logx"
)

const (
	DefaultMinInterval    = 5 * time.Minute
	DefaultMaxInterval    = 10 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
	DefaultResumeSpread   = 5 * time.Second
	DefaultNotifyRetries  = 2
	DefaultPersistRetries = 3
	DefaultOpsAddr        = "127.0.0.1:9310"
)

// CronParser accepts 5-field specs, an optional leading seconds field and descriptors.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ClientSettings is a ClientConfig with durations parsed and defaults applied.
type ClientSettings struct {
	Name              string
	ChatID            int64
	ThreadID          int
	Owners            []int64
	MinInterval       time.Duration
	MaxInterval       time.Duration
	RequestTimeout    time.Duration
	ResumeSpread      time.Duration
	RequestsPerMinute int
	Screenshots       bool
	NotifyRetries     int
	PersistRetries    int
	ProxyURL          string
	StorageDriver     string
	StoragePath       string
	BusyTimeout       time.Duration
}

// Settings resolves the named client. Owners are the global owners plus the client's own.
func (c *Config) Settings(name string) (ClientSettings, error) {
	cc, ok := c.Clients[name]
	if !ok {
		return ClientSettings{}, fmt.Errorf("client %q not configured", name)
	}
	p := "clients." + name
	s := ClientSettings{
		Name:              name,
		ChatID:            cc.ChatID,
		ThreadID:          cc.ThreadID,
		RequestsPerMinute: cc.RequestsPerMinute,
		Screenshots:       cc.Screenshots,
		NotifyRetries:     DefaultNotifyRetries,
		PersistRetries:    DefaultPersistRetries,
		ProxyURL:          strings.TrimSpace(cc.ProxyURL),
		StorageDriver:     strings.ToLower(strings.TrimSpace(cc.Storage.Driver)),
		StoragePath:       strings.TrimSpace(cc.Storage.Path),
	}
	s.Owners = mergeIDs(c.Telegram.OwnerUserIDs, cc.OwnerUserIDs)
	if cc.NotifyRetries != nil {
		s.NotifyRetries = *cc.NotifyRetries
	}
	if cc.PersistRetries != nil {
		s.PersistRetries = *cc.PersistRetries
	}

	var err error
	if s.MinInterval, err = ParseDurationOrDefault(p+".min_check_interval", cc.MinCheckInterval, DefaultMinInterval); err != nil {
		return s, err
	}
	if s.MaxInterval, err = ParseDurationOrDefault(p+".max_check_interval", cc.MaxCheckInterval, DefaultMaxInterval); err != nil {
		return s, err
	}
	if s.RequestTimeout, err = ParseDurationOrDefault(p+".request_timeout", cc.RequestTimeout, DefaultRequestTimeout); err != nil {
		return s, err
	}
	if s.ResumeSpread, err = ParseDurationOrDefault(p+".resume_spread", cc.ResumeSpread, DefaultResumeSpread); err != nil {
		return s, err
	}
	if s.BusyTimeout, err = ParseDurationField(p+".storage.busy_timeout", cc.Storage.BusyTimeout); err != nil {
		return s, err
	}
	if s.MaxInterval < s.MinInterval {
		return s, fmt.Errorf("%s: max_check_interval %s is below min_check_interval %s", p, s.MaxInterval, s.MinInterval)
	}
	if s.NotifyRetries < 0 || s.PersistRetries < 0 {
		return s, fmt.Errorf("%s: retries must be >= 0", p)
	}
	if s.RequestsPerMinute < 0 {
		return s, fmt.Errorf("%s: requests_per_minute must be >= 0", p)
	}
	if s.ProxyURL != "" {
		// the url may carry credentials; keep it out of the error
		if u, err := url.Parse(s.ProxyURL); err != nil || u.Host == "" {
			return s, fmt.Errorf("%s.proxy_url: invalid url", p)
		}
	}
	return s, nil
}

// ClientNames returns the configured clients, sorted.
func (c *Config) ClientNames() []string {
	out := make([]string, 0, len(c.Clients))
	for name := range c.Clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ClientForChat finds the client linked to chatID.
func (c *Config) ClientForChat(chatID int64) (string, bool) {
	for name, cc := range c.Clients {
		if cc.ChatID == chatID {
			return name, true
		}
	}
	return "", false
}

func (c *Config) PollTimeout() time.Duration {
	d, err := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GroupLogChat parses telegram.group_log; 0 means unset.
func (c *Config) GroupLogChat() (int64, error) {
	s := strings.TrimSpace(c.Telegram.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: %w", err)
	}
	return id, nil
}

func (c *Config) OpsAddr() string {
	if a := strings.TrimSpace(c.Ops.Addr); a != "" {
		return a
	}
	return DefaultOpsAddr
}

// Validate reports every problem found, joined.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.GroupLogChat(); err != nil {
		errs = append(errs, err)
	}
	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}
	if c.Ops.Enabled {
		if err := validateOpsAddr(c.OpsAddr(), c.Ops.Token, c.Ops.AllowInsecure); err != nil {
			errs = append(errs, err)
		}
	}
	for key, spec := range map[string]string{"housekeeping.compact": c.Housekeeping.Compact, "housekeeping.digest": c.Housekeeping.Digest} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := CronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	if len(c.Clients) == 0 {
		errs = append(errs, errors.New("clients: at least one client is required"))
	}
	chats := map[int64]string{}
	for _, name := range c.ClientNames() {
		cc := c.Clients[name]
		p := "clients." + name
		if cc.ChatID == 0 {
			errs = append(errs, fmt.Errorf("%s.chat_id is required", p))
		} else if other, dup := chats[cc.ChatID]; dup {
			errs = append(errs, fmt.Errorf("%s.chat_id is already used by %s", p, other))
		} else {
			chats[cc.ChatID] = name
		}
		if len(cc.Credentials) == 0 && strings.TrimSpace(cc.CredentialsFile) == "" {
			errs = append(errs, fmt.Errorf("%s: credentials or credentials_file is required", p))
		}
		switch strings.ToLower(strings.TrimSpace(cc.Storage.Driver)) {
		case "", "file", "sqlite", "sqlite3", "memory", "mem":
		default:
			errs = append(errs, fmt.Errorf("%s.storage.driver: unknown driver %q", p, cc.Storage.Driver))
		}
		if _, err := c.Settings(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateOpsAddr(addr, token string, allowInsecure bool) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if strings.TrimSpace(token) != "" || allowInsecure {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("ops.addr %q is not loopback; set ops.token or ops.allow_insecure", addr)
}

func mergeIDs(a, b []int64) []int64 {
	seen := map[int64]struct{}{}
	out := make([]int64, 0, len(a)+len(b))
	for _, id := range append(append([]int64(nil), a...), b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
