package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"igmonitor/internal/domain"
	"igmonitor/internal/eventbus"
	"igmonitor/internal/storage"
	logx "igmonitor/pkg/logx"
)

type response struct {
	status int
	body   string
	err    error
}

var (
	resp404   = response{status: 404}
	resp429   = response{status: 429}
	respNasa  = response{status: 200, body: `{"user":{"username":"nasa","followers":1200}}`}
	respOther = response{status: 200, body: `{"user":{"username":"nasa_fan"}}`}
)

// scriptFetcher replays per-account responses; the last one repeats.
type scriptFetcher struct {
	mu       sync.Mutex
	script   map[string][]response
	def      response
	calls    map[string]int
	inflight map[string]int
	overlap  bool
	block    map[string]chan struct{}
	delay    time.Duration
	tokens   []string
}

func newScriptFetcher() *scriptFetcher {
	return &scriptFetcher{
		script:   map[string][]response{},
		def:      resp404,
		calls:    map[string]int{},
		inflight: map[string]int{},
		block:    map[string]chan struct{}{},
	}
}

func (f *scriptFetcher) set(id string, rs ...response) {
	f.mu.Lock()
	f.script[id] = rs
	f.mu.Unlock()
}

func (f *scriptFetcher) Fetch(ctx context.Context, cred Credential, id string) (int, []byte, error) {
	f.mu.Lock()
	f.inflight[id]++
	if f.inflight[id] > 1 {
		f.overlap = true
	}
	f.calls[id]++
	f.tokens = append(f.tokens, cred.Token)
	r := f.def
	if rs := f.script[id]; len(rs) > 0 {
		r = rs[0]
		if len(rs) > 1 {
			f.script[id] = rs[1:]
		}
	}
	blk := f.block[id]
	delay := f.delay
	f.mu.Unlock()

	if blk != nil {
		<-blk
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inflight[id]--
	f.mu.Unlock()
	return r.status, []byte(r.body), r.err
}

func (f *scriptFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *scriptFetcher) idle(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[id] == 0
}

type recordingNotifier struct {
	mu   sync.Mutex
	got  []Recovery
	errs []error
}

func (n *recordingNotifier) NotifyRecovery(ctx context.Context, r Recovery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, r)
	if len(n.errs) > 0 {
		err := n.errs[0]
		n.errs = n.errs[1:]
		return err
	}
	return nil
}

func (n *recordingNotifier) recoveries() []Recovery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Recovery(nil), n.got...)
}

type countingObserver struct {
	nopObserver
	mu           sync.Mutex
	notifyFailed int
	recovered    int
	outcomes     map[Outcome]int
}

func (o *countingObserver) NotifyFailed(string) {
	o.mu.Lock()
	o.notifyFailed++
	o.mu.Unlock()
}

func (o *countingObserver) Recovered(string) {
	o.mu.Lock()
	o.recovered++
	o.mu.Unlock()
}

func (o *countingObserver) CheckDone(_ string, out Outcome, _ time.Duration) {
	o.mu.Lock()
	if o.outcomes == nil {
		o.outcomes = map[Outcome]int{}
	}
	o.outcomes[out]++
	o.mu.Unlock()
}

type harness struct {
	engine   *Engine
	store    storage.Store
	fetcher  *scriptFetcher
	notifier *recordingNotifier
	observer *countingObserver
	pool     *CredentialPool
	bus      eventbus.Bus
}

// slowCfg keeps every loop idle after its first check so tests drive checks by hand.
func slowCfg() Config {
	return Config{
		Client:         "keo",
		MinInterval:    time.Hour,
		MaxInterval:    2 * time.Hour,
		RequestTimeout: time.Second,
		PersistRetries: 2,
		PersistBackoff: time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	h := &harness{
		store:    store,
		fetcher:  newScriptFetcher(),
		notifier: &recordingNotifier{},
		observer: &countingObserver{},
		pool:     newPool(t, "tok-a", "tok-b", "tok-c"),
		bus:      eventbus.New(),
	}
	e, err := NewEngine(cfg, Deps{
		Store:      store,
		Pool:       h.pool,
		Fetcher:    h.fetcher,
		Notifier:   h.notifier,
		Classifier: Classifier{Parse: testParse},
		Bus:        h.bus,
		Observer:   h.observer,
		Log:        logx.Nop(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h.engine = e
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return h
}

// checkNow runs one check for id on the caller's goroutine.
func (e *Engine) checkNow(id string) (time.Duration, bool) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return 0, true
	}
	return e.guardedCheck(context.Background(), id, t.gen, e.log)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) record(t *testing.T, id string) domain.MonitoredAccount {
	t.Helper()
	rec, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return rec
}

func (h *harness) waitChecks(t *testing.T, id string, n int64) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s checkCount=%d", id, n), func() bool {
		rec, err := h.store.Get(context.Background(), id)
		return err == nil && rec.CheckCount >= n && h.fetcher.idle(id)
	})
}

func TestNasaScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	h.fetcher.set("nasa", resp404, respNasa)

	res, err := h.engine.Add(ctx, "@NASA", WithRequester(-100123))
	if err != nil || !res.Added || res.ID != "nasa" {
		t.Fatalf("Add = %+v, %v", res, err)
	}
	h.waitChecks(t, "nasa", 1)

	rec := h.record(t, "nasa")
	if rec.State != domain.StateSuspended || rec.LastStatus != 404 || rec.AddedBy != -100123 {
		t.Fatalf("after first check: %+v", rec)
	}
	if n := len(h.notifier.recoveries()); n != 0 {
		t.Fatalf("notifications after 404 = %d, want 0", n)
	}

	if _, done := h.engine.checkNow("nasa"); !done {
		t.Fatal("recovery check should end the loop")
	}
	got := h.notifier.recoveries()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].Account.ID != "nasa" || got[0].Account.State != domain.StateActive || got[0].Account.CheckCount != 2 {
		t.Fatalf("recovery account = %+v", got[0].Account)
	}
	if got[0].Profile == nil || got[0].Profile.Followers != 1200 || got[0].Client != "keo" {
		t.Fatalf("recovery = %+v", got[0])
	}

	list, err := h.engine.List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("List after recovery = %v, %v", list, err)
	}
	if _, done := h.engine.checkNow("nasa"); !done {
		t.Fatal("loop still registered after recovery")
	}
	if n := len(h.notifier.recoveries()); n != 1 {
		t.Fatalf("notifications = %d after extra check, want 1", n)
	}
}

func TestRecoveryWithRunningTimers(t *testing.T) {
	t.Parallel()
	cfg := slowCfg()
	cfg.MinInterval = time.Millisecond
	cfg.MaxInterval = 3 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.fetcher.set("nasa", resp404, resp429, respOther, respNasa)

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, "recovery", func() bool { return len(h.notifier.recoveries()) == 1 })
	waitFor(t, "record removed", func() bool {
		_, err := h.store.Get(context.Background(), "nasa")
		return errors.Is(err, storage.ErrNotFound)
	})
	if got := h.notifier.recoveries()[0].Account.CheckCount; got != 4 {
		t.Fatalf("checks before recovery = %d, want 4", got)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(h.notifier.recoveries()); n != 1 {
		t.Fatalf("notifications = %d, want exactly 1", n)
	}
	if c := h.fetcher.callCount("nasa"); c != 4 {
		t.Fatalf("fetches = %d, want 4 (loop must end after recovery)", c)
	}
}

func TestUnknownToActiveIsNotRecovery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, slowCfg(), nil)
	h.fetcher.set("nasa", respNasa)

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)
	if rec := h.record(t, "nasa"); rec.State != domain.StateActive {
		t.Fatalf("state = %s, want active", rec.State)
	}
	if _, done := h.engine.checkNow("nasa"); done {
		t.Fatal("Active -> Active must keep monitoring")
	}
	if n := len(h.notifier.recoveries()); n != 0 {
		t.Fatalf("notifications = %d, want 0", n)
	}
	if rec := h.record(t, "nasa"); rec.CheckCount != 2 {
		t.Fatalf("checkCount = %d, want 2", rec.CheckCount)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)

	first, err := h.engine.Add(ctx, "nasa")
	if err != nil || !first.Added {
		t.Fatalf("first Add = %+v, %v", first, err)
	}
	h.waitChecks(t, "nasa", 1)

	for _, raw := range []string{"nasa", "@NASA", "https://instagram.com/nasa/"} {
		res, err := h.engine.Add(ctx, raw)
		if err != nil || res.Added || res.ID != "nasa" {
			t.Fatalf("repeat Add(%q) = %+v, %v", raw, res, err)
		}
	}
	list, _ := h.engine.List(ctx)
	if len(list) != 1 || list[0].CheckCount != 1 {
		t.Fatalf("List = %+v, want one record with checkCount 1", list)
	}
	if c := h.fetcher.callCount("nasa"); c != 1 {
		t.Fatalf("fetches = %d, want 1", c)
	}
	if _, err := h.engine.Add(ctx, "not valid!"); !errors.Is(err, domain.ErrInvalidAccount) {
		t.Fatalf("Add(invalid) err = %v", err)
	}
}

func TestAmbiguousResponsesAreNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, slowCfg(), nil)
	h.fetcher.set("nasa", resp404, respOther)

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)
	for i := 0; i < 5; i++ {
		if _, done := h.engine.checkNow("nasa"); done {
			t.Fatalf("ambiguous check %d ended the loop", i)
		}
	}
	rec := h.record(t, "nasa")
	if rec.State != domain.StateSuspended || rec.CheckCount != 6 {
		t.Fatalf("record = %+v, want suspended with 6 checks", rec)
	}
	if n := len(h.notifier.recoveries()); n != 0 {
		t.Fatalf("notifications = %d", n)
	}
	for _, c := range h.pool.Snapshot() {
		if c.FailureStreak != 0 {
			t.Fatalf("ambiguous response penalized credential %+v", c)
		}
	}
}

func TestRateLimitedKeepsStateAndReschedules(t *testing.T) {
	t.Parallel()
	cfg := slowCfg()
	h := newHarness(t, cfg, nil)
	h.fetcher.set("nasa", resp404, resp429)

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)
	before := time.Now()
	next, done := h.engine.checkNow("nasa")
	if done {
		t.Fatal("rate limited check ended the loop")
	}
	if next < cfg.MinInterval || next > cfg.MaxInterval {
		t.Fatalf("reschedule %v outside [%v, %v]", next, cfg.MinInterval, cfg.MaxInterval)
	}
	rec := h.record(t, "nasa")
	if rec.State != domain.StateSuspended || rec.CheckCount != 2 || rec.LastStatus != 429 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.NextCheckAt.Before(before.Add(cfg.MinInterval)) {
		t.Fatalf("NextCheckAt %v too early", rec.NextCheckAt)
	}
	streaks := 0
	for _, c := range h.pool.Snapshot() {
		streaks += c.FailureStreak
	}
	if streaks != 1 {
		t.Fatalf("total failure streak = %d, want 1", streaks)
	}
}

func TestTransportErrorDoesNotCount(t *testing.T) {
	t.Parallel()
	h := newHarness(t, slowCfg(), nil)
	h.fetcher.set("nasa", response{err: errors.New("dial tcp: timeout")})

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, "first check", func() bool {
		rec, err := h.store.Get(context.Background(), "nasa")
		return err == nil && !rec.LastCheckedAt.IsZero()
	})
	rec := h.record(t, "nasa")
	if rec.CheckCount != 0 || rec.State != domain.StateUnknown {
		t.Fatalf("record = %+v, want unknown with 0 checks", rec)
	}
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if h.observer.outcomes[OutcomeTransportError] != 1 {
		t.Fatalf("outcomes = %v", h.observer.outcomes)
	}
}

func TestNotificationFailureStillRemoves(t *testing.T) {
	t.Parallel()
	h := newHarness(t, slowCfg(), nil)
	h.notifier.errs = []error{errors.New("telegram: 502")}
	h.fetcher.set("nasa", resp404, respNasa)

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)
	if _, done := h.engine.checkNow("nasa"); !done {
		t.Fatal("loop should end")
	}
	if n := len(h.notifier.recoveries()); n != 1 {
		t.Fatalf("notify attempts by engine = %d, want 1", n)
	}
	if _, err := h.store.Get(context.Background(), "nasa"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record still present after failed notification: %v", err)
	}
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if h.observer.notifyFailed != 1 || h.observer.recovered != 1 {
		t.Fatalf("observer = %+v", h.observer)
	}
}

func TestRemoveAllWithInflightCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	ids := []string{"acct1", "acct2", "acct3", "acct4", "acct5"}
	release := make(chan struct{})
	h.fetcher.block["acct3"] = release

	for _, id := range ids {
		if _, err := h.engine.Add(ctx, id); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	for _, id := range ids {
		if id == "acct3" {
			continue
		}
		h.waitChecks(t, id, 1)
	}
	waitFor(t, "acct3 in flight", func() bool { return h.fetcher.callCount("acct3") == 1 })

	n, err := h.engine.RemoveAll(ctx)
	if err != nil || n != 5 {
		t.Fatalf("RemoveAll = %d, %v", n, err)
	}
	if list, _ := h.engine.List(ctx); len(list) != 0 {
		t.Fatalf("List after RemoveAll = %v", list)
	}

	close(release)
	waitFor(t, "acct3 fetch done", func() bool { return h.fetcher.idle("acct3") })
	waitFor(t, "loops exited", func() bool { return h.engine.Goroutines().Active == 0 })

	if list, _ := h.engine.List(ctx); len(list) != 0 {
		t.Fatalf("in-flight result reappeared: %v", list)
	}
	if _, err := h.store.Get(ctx, "acct3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("acct3 in store: %v", err)
	}
}

func TestRemoveDiscardsInflightResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	release := make(chan struct{})
	h.fetcher.block["nasa"] = release

	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, "nasa in flight", func() bool { return h.fetcher.callCount("nasa") == 1 })
	removed, err := h.engine.Remove(ctx, "@nasa")
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	close(release)
	waitFor(t, "loop exit", func() bool { return h.engine.Goroutines().Active == 0 })
	if _, err := h.store.Get(ctx, "nasa"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("store after Remove: %v", err)
	}
	if removed, err := h.engine.Remove(ctx, "nasa"); err != nil || removed {
		t.Fatalf("second Remove = %v, %v", removed, err)
	}
}

func TestAtMostOneCheckInFlightPerAccount(t *testing.T) {
	t.Parallel()
	cfg := slowCfg()
	cfg.MinInterval = time.Microsecond
	cfg.MaxInterval = time.Millisecond
	h := newHarness(t, cfg, nil)
	h.fetcher.delay = 2 * time.Millisecond
	h.fetcher.def = resp429

	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := h.engine.Add(context.Background(), id); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	waitFor(t, "several checks", func() bool { return h.fetcher.callCount("a3") >= 10 })

	h.fetcher.mu.Lock()
	defer h.fetcher.mu.Unlock()
	if h.fetcher.overlap {
		t.Fatal("observed overlapping checks for one account")
	}
}

func TestSlowAccountDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	cfg := slowCfg()
	cfg.MinInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	h := newHarness(t, cfg, nil)
	release := make(chan struct{})
	defer close(release)
	h.fetcher.block["stuck"] = release
	h.fetcher.def = resp429

	for _, id := range []string{"stuck", "free"} {
		if _, err := h.engine.Add(context.Background(), id); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	waitFor(t, "free account keeps polling", func() bool { return h.fetcher.callCount("free") >= 5 })
	if c := h.fetcher.callCount("stuck"); c != 1 {
		t.Fatalf("stuck fetches = %d", c)
	}
}

func TestResumeAfterReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "keo.db")
			open := func() storage.Store {
				st, err := storage.Open(storage.Config{Driver: driver, Path: path}, logx.Nop())
				if err != nil {
					t.Fatalf("open %s: %v", driver, err)
				}
				return st
			}

			st := open()
			h := newHarness(t, slowCfg(), st)
			if _, err := h.engine.Add(ctx, "nasa"); err != nil {
				t.Fatalf("Add: %v", err)
			}
			h.waitChecks(t, "nasa", 1)
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if err := h.engine.Stop(stopCtx); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			cancel()
			if _, err := h.engine.Add(ctx, "other"); !errors.Is(err, ErrStopped) {
				t.Fatalf("Add after Stop err = %v", err)
			}
			_ = st.Close()

			st = open()
			defer st.Close()
			cfg := slowCfg()
			cfg.ResumeSpread = 0
			h2 := newHarness(t, cfg, st)
			h2.fetcher.set("nasa", respNasa)

			n, err := h2.engine.Resume(ctx)
			if err != nil || n != 1 {
				t.Fatalf("Resume = %d, %v", n, err)
			}
			waitFor(t, "resumed recovery", func() bool { return len(h2.notifier.recoveries()) == 1 })
			if got := h2.notifier.recoveries()[0].Account.CheckCount; got != 2 {
				t.Fatalf("checkCount carried across restart = %d, want 2", got)
			}
			if n, _ := h2.engine.Resume(ctx); n != 0 {
				t.Fatalf("second Resume started %d loops", n)
			}
		})
	}
}

// flakyStore fails the next failWrites Upsert/Delete calls.
type flakyStore struct {
	storage.Store
	mu         sync.Mutex
	failWrites int
	writes     int
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) fail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrites != 0 {
		if s.failWrites > 0 {
			s.failWrites--
		}
		return true
	}
	return false
}

func (s *flakyStore) setFailures(n int) {
	s.mu.Lock()
	s.failWrites = n
	s.mu.Unlock()
}

func (s *flakyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *flakyStore) Upsert(ctx context.Context, rec domain.MonitoredAccount) error {
	if s.fail() {
		return errDiskFull
	}
	return s.Store.Upsert(ctx, rec)
}

func (s *flakyStore) Delete(ctx context.Context, id string) error {
	if s.fail() {
		return errDiskFull
	}
	return s.Store.Delete(ctx, id)
}

func TestPersistRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	st := &flakyStore{Store: storage.NewMemory(), failWrites: 2}
	h := newHarness(t, slowCfg(), st)

	res, err := h.engine.Add(context.Background(), "nasa")
	if err != nil || !res.Added {
		t.Fatalf("Add = %+v, %v", res, err)
	}
	if w := st.writeCount(); w < 3 {
		t.Fatalf("writes = %d, want >= 3", w)
	}
}

func TestPersistFailureIsSurfaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: storage.NewMemory()}
	h := newHarness(t, slowCfg(), st)
	events, unsub := h.bus.Subscribe(32)
	defer unsub()

	h.fetcher.set("nasa", resp404, resp404)
	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)

	st.setFailures(-1)
	if _, err := h.engine.Add(ctx, "spacex"); !errors.Is(err, errDiskFull) {
		t.Fatalf("Add with failing store err = %v", err)
	}
	if removed, err := h.engine.Remove(ctx, "nasa"); removed || !errors.Is(err, errDiskFull) {
		t.Fatalf("Remove with failing store = %v, %v", removed, err)
	}

	before := h.record(t, "nasa")
	if _, done := h.engine.checkNow("nasa"); done {
		t.Fatal("persist failure must not end the loop")
	}
	if after := h.record(t, "nasa"); after.CheckCount != before.CheckCount {
		t.Fatalf("store advanced despite failure: %+v", after)
	}

	found := false
	timeout := time.After(time.Second)
	for !found {
		select {
		case ev := <-events:
			found = ev.Type == eventbus.PersistFailed
		case <-timeout:
			t.Fatal("no persist_failed event")
		}
	}

	st.setFailures(0)
	if list, _ := h.engine.List(ctx); len(list) != 1 || list[0].ID != "nasa" {
		t.Fatalf("List = %v", list)
	}
}

func TestStatsCountsStates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	h.fetcher.set("live", respNasa)
	for _, id := range []string{"gone1", "gone2", "live"} {
		if _, err := h.engine.Add(ctx, id); err != nil {
			t.Fatalf("Add: %v", err)
		}
		h.waitChecks(t, id, 1)
	}
	st, err := h.engine.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// "live" answers with a different username, so it stays unknown
	if st.Running != 3 || st.ByState[domain.StateSuspended] != 2 || st.ByState[domain.StateUnknown] != 1 {
		t.Fatalf("Stats = %+v", st)
	}
	if len(st.Credentials) != 3 {
		t.Fatalf("credentials = %d", len(st.Credentials))
	}
}

// panicFetcher panics on its first left calls, then defers to the script.
type panicFetcher struct {
	*scriptFetcher
	left atomic.Int32
}

func (f *panicFetcher) Fetch(ctx context.Context, cred Credential, id string) (int, []byte, error) {
	if f.left.Add(-1) >= 0 {
		panic("nil profile map")
	}
	return f.scriptFetcher.Fetch(ctx, cred, id)
}

func TestPanickingFetcherKeepsAccountScheduled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	pf := &panicFetcher{scriptFetcher: h.fetcher}
	pf.left.Store(1)
	h.engine.deps.Fetcher = pf

	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, "first check", func() bool {
		rec, err := h.store.Get(ctx, "nasa")
		return err == nil && !rec.LastCheckedAt.IsZero()
	})
	if rec := h.record(t, "nasa"); rec.CheckCount != 0 || rec.State != domain.StateUnknown {
		t.Fatalf("record after panic = %+v", rec)
	}

	if _, done := h.engine.checkNow("nasa"); done {
		t.Fatal("loop ended after a fetcher panic")
	}
	if rec := h.record(t, "nasa"); rec.CheckCount != 1 || rec.State != domain.StateSuspended {
		t.Fatalf("record after retry = %+v", rec)
	}
	if res, err := h.engine.Add(ctx, "nasa"); err != nil || res.Added {
		t.Fatalf("re-Add = %+v, %v; account should still be monitored", res, err)
	}
	if c := h.engine.Goroutines(); c.Panics != 0 {
		t.Fatalf("panic escaped to supervisor: %+v", c)
	}
}

func TestPanickingParserReschedules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	h.fetcher.set("nasa", resp404, respNasa)
	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)

	h.engine.deps.Classifier = Classifier{Parse: func([]byte) (*domain.Profile, error) { panic("bad layout") }}
	next, done := h.engine.checkNow("nasa")
	if done || next <= 0 {
		t.Fatalf("checkNow = %v, %v; want a rescheduled loop", next, done)
	}
	// the engine lock must have been released
	list, err := h.engine.List(ctx)
	if err != nil || len(list) != 1 || list[0].State != domain.StateSuspended {
		t.Fatalf("List = %v, %v", list, err)
	}
	if n := len(h.notifier.recoveries()); n != 0 {
		t.Fatalf("notifications = %d", n)
	}
}

func TestPanickingNotifierStillRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	h.engine.deps.Notifier = NotifierFunc(func(context.Context, Recovery) error { panic("template") })
	h.fetcher.set("nasa", resp404, respNasa)

	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)
	if _, done := h.engine.checkNow("nasa"); !done {
		t.Fatal("recovery should end the loop")
	}
	if _, err := h.store.Get(ctx, "nasa"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record after panicking notifier: %v", err)
	}
	h.observer.mu.Lock()
	failed := h.observer.notifyFailed
	h.observer.mu.Unlock()
	if failed != 1 {
		t.Fatalf("notifyFailed = %d, want 1", failed)
	}
	h.fetcher.set("nasa", resp404)
	if res, err := h.engine.Add(ctx, "nasa"); err != nil || !res.Added {
		t.Fatalf("re-Add = %+v, %v; want a fresh record", res, err)
	}
}

// pacedFetcher waits before every request; a negative wait blocks until ctx ends.
type pacedFetcher struct {
	*scriptFetcher
	wait  time.Duration
	paced atomic.Int32
}

func (f *pacedFetcher) Pace(ctx context.Context) error {
	f.paced.Add(1)
	if f.wait < 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	select {
	case <-time.After(f.wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPacingLongerThanRequestTimeout(t *testing.T) {
	t.Parallel()
	cfg := slowCfg()
	cfg.RequestTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, nil)
	h.engine.deps.Fetcher = &pacedFetcher{scriptFetcher: h.fetcher, wait: 80 * time.Millisecond}

	if _, err := h.engine.Add(context.Background(), "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)
	if rec := h.record(t, "nasa"); rec.State != domain.StateSuspended {
		t.Fatalf("record = %+v", rec)
	}
	for _, c := range h.pool.Snapshot() {
		if c.FailureStreak != 0 {
			t.Fatalf("credential %s streak = %d after pacing", c.Fingerprint, c.FailureStreak)
		}
	}
}

func TestRemoveWhilePacing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, slowCfg(), nil)
	pf := &pacedFetcher{scriptFetcher: h.fetcher, wait: -1}
	h.engine.deps.Fetcher = pf

	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	waitFor(t, "queued check", func() bool { return pf.paced.Load() == 1 })
	if removed, err := h.engine.Remove(ctx, "nasa"); !removed || err != nil {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	waitFor(t, "loop exit", func() bool { return h.engine.Goroutines().Active == 0 })

	if n := h.fetcher.callCount("nasa"); n != 0 {
		t.Fatalf("fetches = %d, want 0", n)
	}
	for _, c := range h.pool.Snapshot() {
		if c.FailureStreak != 0 {
			t.Fatalf("credential %s streak = %d", c.Fingerprint, c.FailureStreak)
		}
	}
	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	if len(h.observer.outcomes) != 0 {
		t.Fatalf("outcomes = %v, want none", h.observer.outcomes)
	}
}

func TestRecoveredDeleteFailureRetriesWithoutRenotifying(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: storage.NewMemory()}
	h := newHarness(t, slowCfg(), st)
	h.fetcher.set("nasa", resp404, respNasa)

	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)

	st.setFailures(-1)
	for i := 0; i < 3; i++ {
		if _, done := h.engine.checkNow("nasa"); done {
			t.Fatalf("check %d ended the loop while the delete fails", i)
		}
	}
	if n := len(h.notifier.recoveries()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
	if n := h.fetcher.callCount("nasa"); n != 2 {
		t.Fatalf("fetches = %d, want 2", n)
	}
	if list, _ := h.engine.List(ctx); len(list) != 1 {
		t.Fatalf("List = %v, want the undeleted record", list)
	}
	if res, _ := h.engine.Add(ctx, "nasa"); res.Added {
		t.Fatal("Add started a second loop for a pending delete")
	}

	st.setFailures(0)
	if _, done := h.engine.checkNow("nasa"); !done {
		t.Fatal("loop should end once the delete succeeds")
	}
	if _, err := h.store.Get(ctx, "nasa"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record still present: %v", err)
	}
	if n := len(h.notifier.recoveries()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}
}

func TestNotifiedRecordIsNotAnnouncedAfterRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	st := &flakyStore{Store: mem}
	h := newHarness(t, slowCfg(), st)
	h.fetcher.set("nasa", resp404, respNasa)

	if _, err := h.engine.Add(ctx, "nasa"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.waitChecks(t, "nasa", 1)

	// every delete attempt fails, the mark that follows succeeds
	st.setFailures(slowCfg().PersistRetries + 1)
	if _, done := h.engine.checkNow("nasa"); done {
		t.Fatal("loop ended with the delete failing")
	}
	if rec := h.record(t, "nasa"); rec.NotifiedAt.IsZero() {
		t.Fatalf("record not marked as notified: %+v", rec)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.engine.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	cfg := slowCfg()
	cfg.ResumeSpread = 0
	h2 := newHarness(t, cfg, mem)
	h2.fetcher.set("nasa", respNasa)
	if n, err := h2.engine.Resume(ctx); err != nil || n != 1 {
		t.Fatalf("Resume = %d, %v", n, err)
	}
	waitFor(t, "pending delete", func() bool {
		_, err := mem.Get(ctx, "nasa")
		return errors.Is(err, storage.ErrNotFound)
	})
	if n := len(h2.notifier.recoveries()); n != 0 {
		t.Fatalf("notifications after restart = %d, want 0", n)
	}
	if n := h2.fetcher.callCount("nasa"); n != 0 {
		t.Fatalf("fetches after restart = %d, want 0", n)
	}
}

func TestPauseKeepsRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := slowCfg()
	cfg.ResumeSpread = 0
	h := newHarness(t, cfg, nil)
	for _, id := range []string{"nasa", "esa"} {
		if _, err := h.engine.Add(ctx, id); err != nil {
			t.Fatalf("Add: %v", err)
		}
		h.waitChecks(t, id, 1)
	}

	if n := h.engine.Pause(); n != 2 {
		t.Fatalf("Pause = %d, want 2", n)
	}
	waitFor(t, "loops stopped", func() bool { return h.engine.Goroutines().Active == 0 })
	res, err := h.engine.Add(ctx, "spacex")
	if err != nil || !res.Added {
		t.Fatalf("Add while paused = %+v, %v", res, err)
	}
	st, err := h.engine.Stats(ctx)
	if err != nil || !st.Paused || st.Running != 0 {
		t.Fatalf("Stats while paused = %+v, %v", st, err)
	}
	if list, _ := h.engine.List(ctx); len(list) != 3 {
		t.Fatalf("List while paused = %d records", len(list))
	}
	if n := h.fetcher.callCount("spacex"); n != 0 {
		t.Fatalf("spacex checked while paused")
	}

	if n, err := h.engine.Resume(ctx); err != nil || n != 3 {
		t.Fatalf("Resume = %d, %v", n, err)
	}
	h.waitChecks(t, "spacex", 1)
	if h.engine.Paused() {
		t.Fatal("still paused after Resume")
	}
}
