package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"igmonitor/internal/domain"
	"igmonitor/internal/eventbus"
	"igmonitor/internal/runtime/supervisor"
	"igmonitor/internal/storage"
	logx "igmonitor/pkg/logx"
)

// Config holds the per-client engine knobs.
type Config struct {
	Client         string
	MinInterval    time.Duration
	MaxInterval    time.Duration
	RequestTimeout time.Duration
	NotifyTimeout  time.Duration
	// ResumeSpread bounds the random first delay of resumed accounts.
	ResumeSpread   time.Duration
	PersistRetries int
	PersistBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Minute
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = c.MinInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 2 * time.Minute
	}
	if c.ResumeSpread < 0 {
		c.ResumeSpread = 0
	}
	if c.PersistRetries < 0 {
		c.PersistRetries = 0
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 100 * time.Millisecond
	}
	return c
}

// Deps are the collaborators of one engine. Store, Pool and Fetcher are required.
type Deps struct {
	Store      storage.Store
	Pool       *CredentialPool
	Fetcher    Fetcher
	Notifier   Notifier
	Classifier Classifier
	Bus        eventbus.Bus
	Observer   Observer
	Log        logx.Logger

	// test hooks
	Now    func() time.Time
	Int64N func(n int64) int64
}

type task struct {
	gen    uint64
	cancel context.CancelFunc
	// notified is set when the recovery went out but the record could not be deleted.
	notified bool
}

// Engine monitors the accounts of one client.
type Engine struct {
	log    logx.Logger
	deps   Deps
	client string

	cfgMu sync.RWMutex
	cfg   Config

	sup     *supervisor.Supervisor
	persist retrypolicy.RetryPolicy[any]

	// mu serializes membership changes with the persistence of check
	// results, so a removed account is never written back.
	mu      sync.Mutex
	tasks   map[string]*task
	gen     uint64
	stopped bool
	paused  bool
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Pool == nil || deps.Fetcher == nil {
		return nil, errors.New("monitor: store, credential pool and fetcher are required")
	}
	cfg = cfg.withDefaults()
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NotifierFunc(func(context.Context, Recovery) error { return nil })
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log.With(logx.String("comp", "monitor"), logx.String("client", cfg.Client))

	e := &Engine{
		log:    log,
		deps:   deps,
		client: cfg.Client,
		cfg:    cfg,
		sup:    supervisor.New(context.Background(), supervisor.WithLogger(log)),
		tasks:  map[string]*task{},
	}
	e.persist = retrypolicy.NewBuilder[any]().
		WithMaxRetries(cfg.PersistRetries).
		WithBackoff(cfg.PersistBackoff, cfg.PersistBackoff*16).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		OnRetry(func(ev failsafe.ExecutionEvent[any]) {
			log.Warn("store write retry", logx.Int("attempt", ev.Attempts()), logx.Err(ev.LastError()))
		}).
		Build()
	return e, nil
}

func (e *Engine) Client() string { return e.client }

func (e *Engine) Pool() *CredentialPool { return e.deps.Pool }

func (e *Engine) config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// SetIntervals changes the jitter window; running loops pick it up on their next reschedule.
func (e *Engine) SetIntervals(min, max time.Duration) {
	e.cfgMu.Lock()
	e.cfg.MinInterval = min
	e.cfg.MaxInterval = max
	e.cfg = e.cfg.withDefaults()
	e.cfgMu.Unlock()
}

func (e *Engine) nextDelay() time.Duration {
	cfg := e.config()
	return NextDelay(cfg.MinInterval, cfg.MaxInterval, e.deps.Int64N)
}

func (e *Engine) write(ctx context.Context, fn func(ctx context.Context) error) error {
	return failsafe.With[any](e.persist).WithContext(ctx).Run(func() error { return fn(ctx) })
}

// ioContext detaches from task cancellation so an in-flight check can finish
// after Remove or Stop.
func (e *Engine) ioContext(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(e.sup.Context()), d)
}

// Add starts monitoring id. An account already monitored is left untouched.
func (e *Engine) Add(ctx context.Context, raw string, opts ...AddOption) (AddResult, error) {
	id, err := domain.NormalizeID(raw)
	if err != nil {
		return AddResult{}, fmt.Errorf("%q: %w", raw, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return AddResult{ID: id}, ErrStopped
	}
	if _, ok := e.tasks[id]; ok {
		return AddResult{ID: id}, nil
	}
	// A stored record is either waiting for Resume or an announced recovery
	// whose delete is still pending; the latter is replaced by a fresh one.
	if cur, err := e.deps.Store.Get(ctx, id); err == nil && cur.NotifiedAt.IsZero() {
		if !e.paused {
			e.startLocked(id, 0)
		}
		return AddResult{ID: id}, nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return AddResult{ID: id}, fmt.Errorf("load %s: %w", id, err)
	}

	now := e.deps.Now()
	rec := domain.MonitoredAccount{ID: id, State: domain.StateUnknown, CreatedAt: now, NextCheckAt: now}
	for _, o := range opts {
		o(&rec)
	}
	if err := e.write(ctx, func(ctx context.Context) error { return e.deps.Store.Upsert(ctx, rec) }); err != nil {
		return AddResult{ID: id}, fmt.Errorf("persist %s: %w", id, err)
	}
	if !e.paused {
		e.startLocked(id, 0)
	}
	e.log.Info("monitoring started", logx.String("account", id))
	e.deps.Bus.Publish(eventbus.Event{Type: eventbus.AccountAdded, Data: e.client + "/" + id})
	e.deps.Observer.Accounts(e.client, len(e.tasks))
	return AddResult{ID: id, Added: true}, nil
}

// Remove stops monitoring id and deletes its record. An in-flight check
// completes but its result is discarded.
func (e *Engine) Remove(ctx context.Context, raw string) (bool, error) {
	id, err := domain.NormalizeID(raw)
	if err != nil {
		return false, fmt.Errorf("%q: %w", raw, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	removed, err := e.removeLocked(ctx, id)
	if removed {
		e.deps.Observer.Accounts(e.client, len(e.tasks))
	}
	return removed, err
}

func (e *Engine) removeLocked(ctx context.Context, id string) (bool, error) {
	t, running := e.tasks[id]
	if !running {
		if _, err := e.deps.Store.Get(ctx, id); errors.Is(err, storage.ErrNotFound) {
			return false, nil
		} else if err != nil {
			return false, fmt.Errorf("load %s: %w", id, err)
		}
	}
	if err := e.write(ctx, func(ctx context.Context) error { return e.deps.Store.Delete(ctx, id) }); err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	if running {
		t.cancel()
		delete(e.tasks, id)
	}
	e.log.Info("monitoring stopped", logx.String("account", id))
	e.deps.Bus.Publish(eventbus.Event{Type: eventbus.AccountRemoved, Data: e.client + "/" + id})
	return true, nil
}

// RemoveAll removes every account. List never observes a partial state.
func (e *Engine) RemoveAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	recs, err := e.deps.Store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list: %w", err)
	}
	ids := make([]string, 0, len(recs)+len(e.tasks))
	seen := map[string]struct{}{}
	for _, r := range recs {
		seen[r.ID] = struct{}{}
		ids = append(ids, r.ID)
	}
	for id := range e.tasks {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}

	n := 0
	defer func() { e.deps.Observer.Accounts(e.client, len(e.tasks)) }()
	for _, id := range ids {
		ok, err := e.removeLocked(ctx, id)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// List returns the stored records in insertion order.
func (e *Engine) List(ctx context.Context) ([]domain.MonitoredAccount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deps.Store.ListAll(ctx)
}

// Resume starts a loop for every stored record not already running and
// ends a pause. The first check of each is spread over ResumeSpread.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return 0, ErrStopped
	}
	recs, err := e.deps.Store.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list: %w", err)
	}
	e.paused = false
	spread := e.config().ResumeSpread
	n := 0
	for _, r := range recs {
		if _, ok := e.tasks[r.ID]; ok {
			continue
		}
		e.startLocked(r.ID, NextDelay(0, spread, e.deps.Int64N))
		n++
	}
	e.deps.Observer.Accounts(e.client, len(e.tasks))
	if n > 0 {
		e.log.Info("monitoring resumed", logx.Int("accounts", n))
	}
	return n, nil
}

// Pause stops every loop and keeps the records. Accounts added while paused
// are stored without being checked until Resume.
func (e *Engine) Pause() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.tasks)
	for id, t := range e.tasks {
		t.cancel()
		delete(e.tasks, id)
	}
	e.paused = true
	e.log.Info("monitoring paused", logx.Int("accounts", n))
	return n
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stop cancels every loop and waits for in-flight checks until ctx ends.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	for _, t := range e.tasks {
		t.cancel()
	}
	e.mu.Unlock()
	return e.sup.Stop(ctx)
}

func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	e.mu.Lock()
	running, paused := len(e.tasks), e.paused
	recs, err := e.deps.Store.ListAll(ctx)
	e.mu.Unlock()
	if err != nil {
		return EngineStats{}, err
	}
	cfg := e.config()
	st := EngineStats{
		Client:      e.client,
		Running:     running,
		Paused:      paused,
		MinInterval: cfg.MinInterval,
		MaxInterval: cfg.MaxInterval,
		ByState:     map[domain.AccountState]int{},
		Credentials: e.deps.Pool.Snapshot(),
		Goroutines:  e.sup.Counters(),
	}
	for _, r := range recs {
		st.ByState[r.State]++
	}
	return st, nil
}

// Goroutines reports the loops currently hosted by the engine supervisor.
func (e *Engine) Goroutines() supervisor.Counters { return e.sup.Counters() }

func (e *Engine) startLocked(id string, delay time.Duration) {
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(e.sup.Context())
	e.tasks[id] = &task{gen: gen, cancel: cancel}
	e.sup.Go("account:"+id, func(context.Context) error {
		defer cancel()
		e.loop(ctx, id, gen, delay)
		return nil
	})
}

func (e *Engine) currentLocked(id string, gen uint64) bool {
	t, ok := e.tasks[id]
	return ok && t.gen == gen
}

func (e *Engine) forgetLocked(id string, gen uint64) {
	if e.currentLocked(id, gen) {
		e.tasks[id].cancel()
		delete(e.tasks, id)
	}
}

func (e *Engine) current(id string, gen uint64) (notified, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(id, gen) {
		return false, false
	}
	return e.tasks[id].notified, true
}

func (e *Engine) forget(id string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forgetLocked(id, gen)
}

func (e *Engine) loop(ctx context.Context, id string, gen uint64, delay time.Duration) {
	log := e.log.With(logx.String("account", id))
	t := time.NewTimer(delay)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		next, done := e.guardedCheck(ctx, id, gen, log)
		if done {
			return
		}
		t.Reset(next)
	}
}

// guardedCheck keeps the account scheduled when a check panics.
func (e *Engine) guardedCheck(ctx context.Context, id string, gen uint64, log logx.Logger) (next time.Duration, done bool) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("check panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			next, done = e.nextDelay(), false
		}
	}()
	return e.check(ctx, id, gen, log)
}

// check runs one check and returns the delay until the next one, or done
// when the loop must end. ctx is the account loop context.
func (e *Engine) check(ctx context.Context, id string, gen uint64, log logx.Logger) (time.Duration, bool) {
	cfg := e.config()

	notified, ok := e.current(id, gen)
	if !ok {
		return 0, true
	}

	sctx, scancel := e.ioContext(cfg.RequestTimeout)
	rec, err := e.deps.Store.Get(sctx, id)
	scancel()
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("record missing, loop stopped")
		e.forget(id, gen)
		return 0, true
	}
	if err != nil {
		log.Error("load record failed", logx.Err(err))
		return e.nextDelay(), false
	}
	if notified || !rec.NotifiedAt.IsZero() {
		return e.finishRecovery(rec, gen, log)
	}

	// Queueing for the client rate limit happens before the request timeout
	// starts and is never reported against a credential.
	if p, ok := e.deps.Fetcher.(Pacer); ok {
		if err := p.Pace(ctx); err != nil {
			if ctx.Err() != nil {
				return 0, true
			}
			log.Warn("request pacing failed", logx.Err(err))
			return e.nextDelay(), false
		}
	}

	cred, degraded := e.deps.Pool.Acquire()
	if degraded {
		e.deps.Bus.Publish(eventbus.Event{Type: eventbus.PoolDegraded, Data: e.client})
	}
	started := time.Now()
	status, body, ferr := e.fetch(cfg.RequestTimeout, cred, id)
	took := time.Since(started)
	now := e.deps.Now()

	var cls Classification
	if ferr != nil {
		cls = Classification{State: domain.StateUnknown, Outcome: OutcomeTransportError, Reason: ferr.Error()}
	} else {
		cls = e.deps.Classifier.Classify(id, status, body)
	}
	e.deps.Pool.Report(cred, cls.Outcome)
	e.observeCheck(cls.Outcome, took)
	log.Debug("check done",
		logx.Int("status", status),
		logx.String("outcome", cls.Outcome.String()),
		logx.String("classified", string(cls.State)),
		logx.String("reason", cls.Reason),
		logx.String("cred", cred.Fingerprint()),
		logx.Duration("took", took),
	)

	updated := rec
	updated.LastCheckedAt = now
	if ferr == nil {
		updated.CheckCount++
		updated.LastStatus = status
	}
	if cls.State != domain.StateUnknown {
		updated.State = cls.State
	}

	if rec.State == domain.StateSuspended && updated.State == domain.StateActive {
		if _, ok := e.current(id, gen); !ok {
			log.Debug("result discarded, account removed during check")
			return 0, true
		}
		return e.recovered(updated, cls.Profile, now, gen, log)
	}

	delay := e.nextDelay()
	updated.NextCheckAt = now.Add(delay)
	current, err := e.commit(id, gen, updated, cfg.RequestTimeout)
	if !current {
		log.Debug("result discarded, account removed during check")
		return 0, true
	}
	if err != nil {
		log.Error("persist check result failed", logx.Err(err))
		e.deps.Bus.Publish(eventbus.Event{Type: eventbus.PersistFailed, Data: e.client + "/" + id})
		return delay, false
	}

	if rec.State != updated.State {
		log.Info("state changed", logx.String("from", string(rec.State)), logx.String("to", string(updated.State)))
		e.deps.Observer.Transition(e.client, rec.State, updated.State)
		e.deps.Bus.Publish(eventbus.Event{Type: eventbus.AccountTransition, Data: e.client + "/" + id + ":" + string(updated.State)})
	}
	return delay, false
}

// fetch runs one request. A panicking fetcher counts as a transport error.
func (e *Engine) fetch(timeout time.Duration, cred Credential, id string) (status int, body []byte, err error) {
	ctx, cancel := e.ioContext(timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			status, body, err = 0, nil, fmt.Errorf("fetcher panic: %v", p)
		}
	}()
	return e.deps.Fetcher.Fetch(ctx, cred, id)
}

// commit stores a check result unless the account was removed meanwhile.
func (e *Engine) commit(id string, gen uint64, updated domain.MonitoredAccount, timeout time.Duration) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(id, gen) {
		return false, nil
	}
	ctx, cancel := e.ioContext(timeout)
	defer cancel()
	return true, e.write(ctx, func(ctx context.Context) error { return e.deps.Store.Upsert(ctx, updated) })
}

func (e *Engine) recovered(rec domain.MonitoredAccount, profile *domain.Profile, now time.Time, gen uint64, log logx.Logger) (time.Duration, bool) {
	cfg := e.config()
	r := Recovery{
		Client:     e.client,
		Account:    rec,
		Profile:    profile,
		DetectedAt: now,
		Elapsed:    now.Sub(rec.CreatedAt),
	}
	log.Info("account recovered", logx.Duration("elapsed", r.Elapsed), logx.Int64("checks", rec.CheckCount))
	e.deps.Observer.Transition(e.client, domain.StateSuspended, domain.StateActive)
	e.deps.Observer.Recovered(e.client)
	e.deps.Bus.Publish(eventbus.Event{Type: eventbus.AccountRecovered, Data: e.client + "/" + rec.ID})

	if err := e.notify(cfg.NotifyTimeout, r); err != nil {
		e.deps.Observer.NotifyFailed(e.client)
		log.Error("recovery notification failed", logx.Err(err))
	}
	return e.finishRecovery(rec, gen, log)
}

// notify delivers one recovery. A panicking notifier counts as a failed delivery.
func (e *Engine) notify(timeout time.Duration, r Recovery) (err error) {
	ctx, cancel := e.ioContext(timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notifier panic: %v", p)
		}
	}()
	return e.deps.Notifier.NotifyRecovery(ctx, r)
}

// finishRecovery deletes an announced record. When the delete fails the
// loop keeps running and retries it on the next tick without notifying
// again; the record is marked so a restart does not announce it twice.
func (e *Engine) finishRecovery(rec domain.MonitoredAccount, gen uint64, log logx.Logger) (time.Duration, bool) {
	cfg := e.config()
	e.mu.Lock()
	defer e.mu.Unlock()
	// Remove during notification already deleted the record.
	if !e.currentLocked(rec.ID, gen) {
		return 0, true
	}
	dctx, dcancel := e.ioContext(cfg.RequestTimeout)
	err := e.write(dctx, func(ctx context.Context) error { return e.deps.Store.Delete(ctx, rec.ID) })
	dcancel()
	if err != nil {
		log.Error("delete recovered record failed; retrying", logx.Err(err))
		e.deps.Bus.Publish(eventbus.Event{Type: eventbus.PersistFailed, Data: e.client + "/" + rec.ID})
		e.tasks[rec.ID].notified = true
		if rec.NotifiedAt.IsZero() {
			rec.NotifiedAt = e.deps.Now()
			mctx, mcancel := e.ioContext(cfg.RequestTimeout)
			if err := e.deps.Store.Upsert(mctx, rec); err != nil {
				log.Warn("mark recovered record failed", logx.Err(err))
			}
			mcancel()
		}
		return e.nextDelay(), false
	}
	e.forgetLocked(rec.ID, gen)
	e.deps.Observer.Accounts(e.client, len(e.tasks))
	return 0, true
}

func (e *Engine) observeCheck(o Outcome, took time.Duration) {
	e.deps.Observer.CheckDone(e.client, o, took)
	for _, c := range e.deps.Pool.Snapshot() {
		e.deps.Observer.CredentialStreak(e.client, c.Fingerprint, c.FailureStreak)
	}
}
