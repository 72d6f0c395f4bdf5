package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igmonitor/internal/config"
	"igmonitor/internal/eventbus"
	"igmonitor/internal/monitor"
	"igmonitor/internal/notifier"
	"igmonitor/internal/platform/instagram"
	"igmonitor/internal/sessions"
	"igmonitor/internal/storage"
	logx "igmonitor/pkg/logx"
)

// client is everything one monitoring client owns.
type client struct {
	settings config.ClientSettings
	store    storage.Store
	pool     *monitor.CredentialPool
	ig       *instagram.Client
	notif    *notifier.Service
	engine   *monitor.Engine
}

// clientDeps are the shared collaborators handed to every client.
type clientDeps struct {
	sender   notifier.Sender
	bus      eventbus.Bus
	observer monitor.Observer
	log      logx.Logger
	// resolve makes config-relative paths absolute.
	resolve func(string) string
}

func loadCredentials(cc config.ClientConfig, resolve func(string) string) ([]string, error) {
	return sessions.Load(cc.Credentials, resolve(cc.CredentialsFile))
}

func storageConfig(s config.ClientSettings, resolve func(string) string) storage.Config {
	driver := s.StorageDriver
	path := resolve(s.StoragePath)
	if driver == "" {
		driver = "file"
	}
	if path == "" && driver != "memory" && driver != "mem" {
		path = resolve(fmt.Sprintf("data/%s/monitor", s.Name))
		if driver == "sqlite" || driver == "sqlite3" {
			path += ".db"
		}
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: s.BusyTimeout}
}

func notifierConfig(s config.ClientSettings) notifier.Config {
	return notifier.Config{
		Client:      s.Name,
		ChatID:      s.ChatID,
		ThreadID:    s.ThreadID,
		Screenshots: s.Screenshots,
		Retries:     s.NotifyRetries,
	}
}

func engineConfig(s config.ClientSettings) monitor.Config {
	return monitor.Config{
		Client:         s.Name,
		MinInterval:    s.MinInterval,
		MaxInterval:    s.MaxInterval,
		RequestTimeout: s.RequestTimeout,
		ResumeSpread:   s.ResumeSpread,
		PersistRetries: s.PersistRetries,
	}
}

// buildClient opens the store and wires pool, platform client, notifier and
// engine. The store is closed again when a later step fails.
func buildClient(cfg *config.Config, name string, d clientDeps) (_ *client, err error) {
	s, err := cfg.Settings(name)
	if err != nil {
		return nil, err
	}
	log := d.log.With(logx.String("client", name))

	tokens, err := loadCredentials(cfg.Clients[name], d.resolve)
	if err != nil {
		return nil, fmt.Errorf("client %s: credentials: %w", name, err)
	}
	pool, err := monitor.NewCredentialPool(tokens, log.With(logx.String("comp", "credentials")))
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", name, err)
	}

	ig, err := instagram.New(instagram.Config{
		ProxyURL:          s.ProxyURL,
		Timeout:           s.RequestTimeout,
		RequestsPerMinute: s.RequestsPerMinute,
	}, log.With(logx.String("comp", "instagram")))
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", name, err)
	}

	st, err := storage.Open(storageConfig(s, d.resolve), log)
	if err != nil {
		return nil, fmt.Errorf("client %s: storage: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	notif := notifier.New(notifierConfig(s), d.sender, ig, d.bus, log)
	eng, err := monitor.NewEngine(engineConfig(s), monitor.Deps{
		Store:      st,
		Pool:       pool,
		Fetcher:    ig,
		Notifier:   notif,
		Classifier: monitor.Classifier{Parse: instagram.ParseProfile},
		Bus:        d.bus,
		Observer:   d.observer,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", name, err)
	}
	return &client{settings: s, store: st, pool: pool, ig: ig, notif: notif, engine: eng}, nil
}

// apply pushes the hot-reloadable part of a new config into a running client.
func (c *client) apply(cfg *config.Config, resolve func(string) string) error {
	s, err := cfg.Settings(c.settings.Name)
	if err != nil {
		return err
	}
	var errs []error
	tokens, err := loadCredentials(cfg.Clients[c.settings.Name], resolve)
	if err == nil {
		err = c.pool.Replace(tokens)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("credentials: %w", err))
	}
	if err := c.ig.SetProxy(s.ProxyURL); err != nil {
		errs = append(errs, fmt.Errorf("proxy: %w", err))
	}
	c.ig.SetRequestsPerMinute(s.RequestsPerMinute)
	c.engine.SetIntervals(s.MinInterval, s.MaxInterval)
	c.notif.Apply(notifierConfig(s))
	c.settings = s
	return errors.Join(errs...)
}

func (c *client) close(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := c.engine.Stop(stopCtx)
	return errors.Join(err, c.store.Close())
}

// OpenClientStore opens the store of a configured client without starting
// anything else (offline tooling).
func OpenClientStore(cfgm *config.Manager, cfg *config.Config, name string, log logx.Logger) (storage.Store, error) {
	s, err := cfg.Settings(name)
	if err != nil {
		return nil, err
	}
	return storage.Open(storageConfig(s, cfgm.ResolvePath), log)
}
