// Package app wires configuration, the Telegram transport, the per-client
// monitoring engines and the operations services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"igmonitor/internal/config"
	"igmonitor/internal/eventbus"
	"igmonitor/internal/housekeeping"
	"igmonitor/internal/metrics"
	"igmonitor/internal/monitor"
	"igmonitor/internal/ops"
	"igmonitor/internal/runtime/supervisor"
	kit "igmonitor/internal/transport"
	telegram "igmonitor/internal/transport/telegram/adapter"
	"igmonitor/internal/transport/telegram/router"
	logx "igmonitor/pkg/logx"
)

// Options tweak construction; the zero value is production.
type Options struct {
	// Offline skips the Telegram getMe call (tests, list-only tooling).
	Offline bool
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter kit.Adapter
	router  *router.Router
	sups    *router.SupervisorRegistry

	mgr     *monitor.Manager
	clients map[string]*client
	metrics *metrics.Metrics
	ops     *ops.Server
	hk      *housekeeping.Service

	updates chan kit.Update
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
		Offline:     opts.Offline,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The Telegram sink starts disabled until its target chat is set.
	logCfg := logConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if chatID, _ := cfg.GroupLogChat(); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		sups:    router.NewSupervisorRegistry(),
		mgr:     monitor.NewManager(),
		clients: map[string]*client{},
		metrics: metrics.New(),
		updates: make(chan kit.Update, 256),
	}

	deps := clientDeps{sender: ad, bus: a.bus, observer: a.metrics, log: log, resolve: cfgm.ResolvePath}
	for _, name := range cfg.ClientNames() {
		c, err := buildClient(cfg, name, deps)
		if err == nil {
			err = a.mgr.Register(c.engine)
		}
		if err != nil {
			a.closeClients(context.Background())
			_ = logSvc.Close()
			return nil, err
		}
		a.clients[name] = c
		a.log.Info("client ready",
			logx.String("client", name),
			logx.Int("credentials", c.pool.Len()),
			logx.String("storage", c.settings.StorageDriver),
		)
	}

	a.router = router.New(log.With(logx.String("comp", "router")), ad, chatResolver{cfgm: cfgm, mgr: a.mgr}, a.sups)
	a.ops = ops.New(opsConfig(cfg), a.metrics.Registry(), a.health, log)
	a.hk = housekeeping.New(config.CronParser, log)
	if err := a.registerHousekeeping(cfg); err != nil {
		a.closeClients(context.Background())
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *supervisor.Supervisor }); ok {
		a.sups.Set("telegram.adapter", sp.Supervisor())
	}

	admin := router.NewAdmin(a.mgr, settingsPort{cfgm: a.cfgm}, a.logs)
	a.router.SetCommands(a.sup.Context(), append(router.MonitorCommands(a.mgr, a.sups), admin.Commands()...))
	a.router.SetCallbacks(admin.Callbacks()...)
	a.sup.Go("telegram.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	resumed, err := a.mgr.Resume(a.sup.Context())
	if err != nil {
		a.log.Error("resume incomplete", logx.Int("resumed", resumed), logx.Err(err))
	} else {
		a.log.Info("monitoring resumed", logx.Int("accounts", resumed))
	}

	a.ops.Start(a.sup.Context())
	a.hk.Start(a.sup.Context())

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Any("clients", a.mgr.Clients()))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := stepper(ctx, a.log)
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.hk.Stop(c); return nil })
	step("engines", 5*time.Second, a.closeClients)
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// closeClients stops every engine and closes its store.
func (a *App) closeClients(ctx context.Context) error {
	names := make([]string, 0, len(a.clients))
	for name := range a.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := a.clients[name].close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// health backs /healthz: the app supervisor is running and every client has credentials.
func (a *App) health(ctx context.Context) (bool, any) {
	ok := a.sup != nil && a.sup.Context().Err() == nil
	clients := map[string]any{}
	for _, name := range a.mgr.Clients() {
		st, err := a.mgr.Stats(ctx, name)
		if err != nil {
			ok = false
			clients[name] = map[string]string{"error": err.Error()}
			continue
		}
		if len(st.Credentials) == 0 {
			ok = false
		}
		clients[name] = map[string]any{
			"running":     st.Running,
			"by_state":    st.ByState,
			"credentials": len(st.Credentials),
		}
	}
	return ok, map[string]any{"clients": clients}
}
