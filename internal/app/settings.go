package app

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"igmonitor/internal/config"
	"igmonitor/internal/monitor"
	"igmonitor/internal/sessions"
	"igmonitor/internal/transport/telegram/router"
)

// settingsPort edits client settings in the config file. Every edit goes
// through config.Manager, so the running clients pick it up on publish.
type settingsPort struct {
	cfgm *config.Manager
}

var _ router.SettingsPort = settingsPort{}

func (p settingsPort) client(name string) (config.ClientConfig, config.ClientSettings, error) {
	cfg := p.cfgm.Get()
	if cfg == nil {
		return config.ClientConfig{}, config.ClientSettings{}, fmt.Errorf("%q: %w", name, config.ErrUnknownClient)
	}
	cc, ok := cfg.Clients[name]
	if !ok {
		return config.ClientConfig{}, config.ClientSettings{}, fmt.Errorf("%q: %w", name, config.ErrUnknownClient)
	}
	s, err := cfg.Settings(name)
	return cc, s, err
}

func (p settingsPort) Settings(name string) (router.SettingsView, error) {
	cc, s, err := p.client(name)
	if err != nil {
		return router.SettingsView{}, err
	}
	return router.SettingsView{
		MinInterval:       s.MinInterval,
		MaxInterval:       s.MaxInterval,
		ProxyEnabled:      s.ProxyURL != "",
		RequestsPerMinute: s.RequestsPerMinute,
		CredentialsFile:   cc.CredentialsFile,
	}, nil
}

func (p settingsPort) SetInterval(ctx context.Context, name string, lo, hi time.Duration) error {
	_, err := p.cfgm.SetClient(ctx, name, map[string]any{
		"min_check_interval": config.FormatDuration(lo),
		"max_check_interval": config.FormatDuration(hi),
	})
	return err
}

func (p settingsPort) SetProxy(ctx context.Context, name, proxyURL string) error {
	var v any
	if proxyURL != "" {
		v = proxyURL
	}
	_, err := p.cfgm.SetClient(ctx, name, map[string]any{"proxy_url": v})
	return err
}

// SetSessions writes the client's credentials file, creating
// ./clients/<name>/session.json when none is configured, and drops inline
// credentials so the file is the only source.
func (p settingsPort) SetSessions(ctx context.Context, name string, list []string) ([]string, error) {
	cc, _, err := p.client(name)
	if err != nil {
		return nil, err
	}
	list = sessions.Merge(nil, list)
	if len(list) == 0 {
		return nil, fmt.Errorf("no sessions given")
	}
	file := cc.CredentialsFile
	if strings.TrimSpace(file) == "" {
		file = "./" + path.Join("clients", name, "session.json")
	}
	if err := sessions.WriteFile(p.cfgm.ResolvePath(file), list); err != nil {
		return nil, fmt.Errorf("write sessions: %w", err)
	}

	values := map[string]any{}
	if cc.CredentialsFile == "" {
		values["credentials_file"] = file
	}
	if len(cc.Credentials) > 0 {
		values["credentials"] = nil
	}
	if len(values) > 0 {
		if _, err := p.cfgm.SetClient(ctx, name, values); err != nil {
			return nil, err
		}
	} else {
		p.cfgm.Refresh()
	}

	fps := make([]string, 0, len(list))
	for _, s := range list {
		fps = append(fps, monitor.Fingerprint(s))
	}
	return fps, nil
}

// Reload re-reads the config file; when it is unchanged the current config
// is republished so credentials files are read again.
func (p settingsPort) Reload(ctx context.Context) (bool, error) {
	changed, err := p.cfgm.Reload(ctx)
	if err == nil && !changed {
		p.cfgm.Refresh()
	}
	return changed, err
}
