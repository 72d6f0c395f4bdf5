// Package housekeeping runs periodic maintenance on a cron schedule: store
// compaction and the optional per-client digest.
package housekeeping

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "igmonitor/pkg/logx"
)

// Job is one named periodic task. An empty Spec disables it.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// RunStat is the last outcome of a job.
type RunStat struct {
	Name    string
	Spec    string
	Runs    uint64
	LastRun time.Time
	LastErr string
	Next    time.Time
}

type entry struct {
	job  Job
	id   cron.EntryID
	stat RunStat
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	parser  cron.Parser
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]*entry
}

func New(parser cron.Parser, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log.With(logx.String("comp", "housekeeping")),
		parser:  parser,
		entries: map[string]*entry{},
	}
}

// Add registers job; it starts firing once Start has been called.
func (s *Service) Add(job Job) error {
	if strings.TrimSpace(job.Spec) == "" {
		s.log.Debug("job disabled", logx.String("job", job.Name))
		return nil
	}
	if job.Run == nil {
		return fmt.Errorf("housekeeping: job %q has no func", job.Name)
	}
	if _, err := s.parser.Parse(job.Spec); err != nil {
		return fmt.Errorf("housekeeping: job %q: %w", job.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("housekeeping: job %q already registered", job.Name)
	}
	e := &entry{job: job, stat: RunStat{Name: job.Name, Spec: job.Spec}}
	s.entries[job.Name] = e
	if s.c != nil {
		return s.scheduleLocked(e)
	}
	return nil
}

func (s *Service) scheduleLocked(e *entry) error {
	id, err := s.c.AddJob(e.job.Spec, cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(cron.FuncJob(func() { s.runJob(e) })))
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// Trigger runs the named job now, synchronously.
func (s *Service) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("housekeeping: unknown job %q", name)
	}
	return s.exec(ctx, e)
}

func (s *Service) runJob(e *entry) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = s.exec(ctx, e)
}

func (s *Service) exec(ctx context.Context, e *entry) (err error) {
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		s.mu.Lock()
		e.stat.Runs++
		e.stat.LastRun = start
		e.stat.LastErr = ""
		if err != nil {
			e.stat.LastErr = err.Error()
		}
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("job failed", logx.String("job", e.job.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Debug("job done", logx.String("job", e.job.Name), logx.Duration("took", time.Since(start)))
	}()
	return e.job.Run(ctx)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLogger(cronLogger{s.log}))
	for _, e := range s.entries {
		if err := s.scheduleLocked(e); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", e.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("housekeeping started", logx.Int("jobs", len(s.entries)))
}

// Stop waits for running jobs or for ctx, whichever comes first.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
	s.log.Info("housekeeping stopped")
}

// Snapshot lists jobs sorted by name.
func (s *Service) Snapshot() []RunStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunStat, 0, len(s.entries))
	for _, e := range s.entries {
		st := e.stat
		if s.c != nil && e.id != 0 {
			st.Next = s.c.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
