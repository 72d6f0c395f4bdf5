package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "igmonitor/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Sender is the slice of the transport adapter the Telegram sink needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service owns the active sinks. Apply swaps them at runtime; loggers derived
// from New() pick up the new root on their next call.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	file   *os.File
	recent *ringWriter

	sender   Sender
	tgQueue  chan string
	tgOnce   sync.Once
	tgCancel context.CancelFunc
	tgWG     sync.WaitGroup

	// guarded by mu
	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

// New creates the service, applies cfg immediately and returns the root Logger.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{
		sender:   sender,
		tgQueue:  make(chan string, 256),
		threadID: cfg.Telegram.ThreadID,
		recent:   newRingWriter(recentLines),
	}
	s.root.Store(zerolog.New(newConsoleWriter(Stdout())).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

// SetTelegramTarget sets the operator chat used by the Telegram sink.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.mu.Lock()
	s.chatID = chatID
	if threadID != 0 {
		s.threadID = threadID
	}
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.tgCancel
	s.tgCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.tgWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply rebuilds the writer set. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.ErrorLevel)
	rps := cfg.Telegram.RatePerSec
	if rps < 1 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Telegram.ThreadID != 0 {
		s.threadID = cfg.Telegram.ThreadID
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./igmonitor.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled && s.sender != nil {
		s.tgOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.tgCancel = cancel
			s.tgWG.Add(1)
			go func() {
				defer s.tgWG.Done()
				s.telegramWorker(ctx)
			}()
		})
		writers = append(writers, &telegramWriter{svc: s})
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	writers = append(writers, zerolog.ConsoleWriter{Out: s.recent, NoColor: true, TimeFormat: consoleTimeFormat})

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(zl)
}

// Recent returns up to n of the newest log lines, oldest first. A non-empty
// filter keeps only lines containing it.
func (s *Service) Recent(n int, filter string) []string {
	return s.recent.tail(n, filter)
}

const recentLines = 500

// ringWriter keeps the last formatted lines in memory for the chat log viewer.
type ringWriter struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRingWriter(size int) *ringWriter {
	return &ringWriter{lines: make([]string, size)}
}

func (r *ringWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *ringWriter) tail(n int, filter string) []string {
	r.mu.Lock()
	ordered := make([]string, 0, len(r.lines))
	if r.full {
		ordered = append(ordered, r.lines[r.next:]...)
	}
	ordered = append(ordered, r.lines[:r.next]...)
	r.mu.Unlock()

	out := make([]string, 0, n)
	for i := len(ordered) - 1; i >= 0 && len(out) < n; i-- {
		if filter == "" || strings.Contains(ordered[i], filter) {
			out = append(out, ordered[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
}

func (s *Service) telegramWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.tgQueue:
			s.mu.Lock()
			to := kit.ChatTarget{ChatID: s.chatID, ThreadID: s.threadID}
			s.mu.Unlock()
			if to.ChatID == 0 {
				continue
			}
			_, _ = s.sender.SendText(ctx, to, msg, &kit.SendOptions{DisablePreview: true})
		}
	}
}

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	chatID := s.chatID
	lim := s.limiter
	minLevel := s.minLevel
	s.mu.Unlock()

	if chatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	msg := formatTelegramLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case s.tgQueue <- msg:
	default:
	}
	return len(p), nil
}

// formatTelegramLine turns a zerolog JSON line into a compact chat message.
func formatTelegramLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}

// Stdout returns the stdout sink.
func Stdout() io.Writer { return os.Stdout }

// Stderr returns the stderr sink.
func Stderr() io.Writer { return os.Stderr }
