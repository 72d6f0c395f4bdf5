// Package supervisor runs named goroutines under a shared context with panic
// recovery, first-error capture and optional restart loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "igmonitor/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Uint64
	active  atomic.Int64
	panics  atomic.Uint64

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu     sync.Mutex
	byName map[string]*nameStats
}

type Option func(*Supervisor)

// Counters are operational signals only, not a synchronization primitive.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
	Panics  uint64 `json:"panics"`
}

// NameStats aggregates goroutines sharing a name.
type NameStats struct {
	Name      string    `json:"name"`
	Active    int64     `json:"active"`
	Started   uint64    `json:"started"`
	Restarts  uint64    `json:"restarts"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at"`
}

type nameStats struct {
	active    int64
	started   uint64
	restarts  uint64
	lastErr   string
	lastErrAt time.Time
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		byName: map[string]*nameStats{},
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load(), Panics: s.panics.Load()}
}

// Names returns per-name stats, busiest first.
func (s *Supervisor) Names() []NameStats {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]NameStats, 0, len(s.byName))
	for name, st := range s.byName {
		out = append(out, NameStats{
			Name:      name,
			Active:    st.active,
			Started:   st.started,
			Restarts:  st.restarts,
			LastErr:   st.lastErr,
			LastErrAt: st.lastErrAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active > out[j].Active
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Supervisor) stats(name string) *nameStats {
	st := s.byName[name]
	if st == nil {
		st = &nameStats{}
		s.byName[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) {
	s.mu.Lock()
	st := s.stats(name)
	st.active++
	st.started++
	if restart {
		st.restarts++
	}
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	st := s.stats(name)
	if st.active > 0 {
		st.active--
	}
	if err != nil {
		st.lastErr = err.Error()
		st.lastErrAt = time.Now()
	}
	// drop idle entries for short-lived per-item names
	if st.active == 0 && st.lastErr == "" {
		delete(s.byName, name)
	}
	s.mu.Unlock()
}

// Go runs fn in a panic-safe goroutine. context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.noteStart(name, false)

		err := s.run(name, fn)
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			s.setErr(err)
			if s.cancelOnErr {
				s.cancel()
			}
		}
		s.noteStop(name, err)
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// run calls fn once and converts a panic into an error.
func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	err = fn(s.ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	maxRestarts     int // <=0 unlimited
	stopOnCleanExit bool
	publishFirstErr bool
}

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts limits restarts; the initial run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// WithPublishFirstError records the first failure in Err() while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// WithStopOnCleanExit stops instead of restarting when fn returns nil. Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(c *restartCfg) { c.stopOnCleanExit = enabled }
}

// GoRestart runs fn and restarts it after errors or panics with jittered
// exponential backoff until the supervisor context ends.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff:      250 * time.Millisecond,
		maxBackoff:      30 * time.Second,
		stopOnCleanExit: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			if ctx.Err() != nil {
				return
			}
			startedAt := time.Now()
			s.noteStart(name, restarts > 0)
			err := s.run(name, fn)
			if ctx.Err() != nil {
				s.noteStop(name, nil)
				return
			}
			if err == nil {
				if cfg.stopOnCleanExit {
					s.noteStop(name, nil)
					return
				}
				err = errors.New("exited")
			}
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)
			if cfg.publishFirstErr {
				s.setErr(err)
			}
			if cfg.maxRestarts > 0 && restarts >= cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return
			}
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			wait := backoff + time.Duration(rand.Int64N(int64(backoff)/5+1))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	})
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
