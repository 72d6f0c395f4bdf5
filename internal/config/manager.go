package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	logx "igmonitor/pkg/logx"
)

// EnvFile is read from the config directory when present.
const EnvFile = ".env"

const reloadDebounce = 250 * time.Millisecond

// Manager loads the config file, expands ${VAR} references and publishes
// validated reloads to subscribers.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu is held while sending so Unsubscribe never closes a channel mid-send.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	// editMu serializes SetClient and Reload read-modify-write cycles.
	editMu sync.Mutex
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), validator: func(_ context.Context, c *Config) error { return Validate(c) }}
}

func (m *Manager) Path() string { return m.path }

// Dir is the config directory; relative paths in the config resolve against it.
func (m *Manager) Dir() string { return filepath.Dir(m.path) }

// ResolvePath makes p absolute relative to the config directory.
func (m *Manager) ResolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir(), p)
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator replaces the default Validate hook used before commit.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. Values from the .env file
// win over the process environment. Unset variables without a default are errors.
func expandEnv(raw []byte, dotenv map[string]string) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		sm := envRef.FindSubmatch(ref)
		name := string(sm[1])
		if v, ok := dotenv[name]; ok {
			return []byte(v)
		}
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		if len(sm[2]) > 0 {
			return sm[3]
		}
		missing = append(missing, name)
		return ref
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("config references unset variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (m *Manager) readEnv() (map[string]string, error) {
	vars, err := godotenv.Read(filepath.Join(m.Dir(), EnvFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", EnvFile, err)
	}
	return vars, nil
}

// Parse reads and decodes the file without committing it. Unknown fields
// and trailing data are rejected.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return m.parseBytes(raw)
}

func (m *Manager) parseBytes(raw []byte) (*Config, error) {
	vars, err := m.readEnv()
	if err != nil {
		return nil, err
	}
	if raw, err = expandEnv(raw, vars); err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(m.path, raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses, validates and commits the config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if m.validator != nil {
		if err := m.validator(context.Background(), cfg); err != nil {
			return nil, err
		}
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *Manager) Commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		last := len(m.subs) - 1
		m.subs[i] = m.subs[last]
		m.subs[last] = nil
		m.subs = m.subs[:last]
		close(ch)
		return
	}
}

// publish delivers the newest config, dropping the oldest queued one for slow subscribers.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload is one debounced reload attempt.
func (m *Manager) reload(ctx context.Context) {
	if _, err := m.Reload(ctx); err != nil {
		m.log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
	}
}

// Reload re-reads the file and publishes it when it changed. An unchanged
// file is not republished; changed reports which case happened.
func (m *Manager) Reload(ctx context.Context) (changed bool, err error) {
	m.editMu.Lock()
	defer m.editMu.Unlock()

	cfg, err := m.Parse()
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	prev := m.cfg
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return false, nil
	}
	if err := m.validate(ctx, cfg); err != nil {
		return false, err
	}
	m.commitAndPublish(prev, cfg, h)
	return true, nil
}

func (m *Manager) validate(ctx context.Context, cfg *Config) error {
	if m.validator == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.validator(vctx, cfg)
}

func (m *Manager) commitAndPublish(prev, cfg *Config, h uint64) {
	m.Commit(cfg)
	changed, fields, restart := SummarizeChange(prev, cfg)
	fields = append(fields, logx.Any("changed", changed), logx.String("hash", fmt.Sprintf("%x", h)))
	m.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		m.log.Warn("config change requires restart", logx.Any("keys", restart))
	}
	m.publish(cfg)
}

// Refresh republishes the current config so subscribers re-read the files
// it references, such as credentials files.
func (m *Manager) Refresh() {
	if cfg := m.Get(); cfg != nil {
		m.publish(cfg)
	}
}

type backoff struct {
	cur, base, max time.Duration
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	}
	wait := b.cur + rand.N(b.cur/2+1)
	b.cur = min(b.cur*2, b.max)
	return wait
}

func (b *backoff) reset() { b.cur = b.base }

// Watch reloads on changes to the config file or the .env next to it. The
// fsnotify watcher is recreated with backoff when it breaks.
func (m *Manager) Watch(ctx context.Context) error {
	dir := m.Dir()
	names := []string{filepath.Base(m.path), EnvFile}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() { m.reload(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	bo := backoff{base: 250 * time.Millisecond, max: 5 * time.Second}
	for ctx.Err() == nil {
		if err := m.watchOnce(ctx, dir, names, schedule, bo.reset); err != nil {
			m.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Err(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(bo.next()):
		}
	}
	return nil
}

func (m *Manager) watchOnce(ctx context.Context, dir string, names []string, changed, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir))

	const mask = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("events channel closed")
			}
			if ev.Op&mask == 0 {
				continue
			}
			base := filepath.Base(ev.Name)
			for _, n := range names {
				if strings.EqualFold(base, n) {
					changed()
					break
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("errors channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.String("dir", dir))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
