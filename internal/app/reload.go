package app

import (
	"context"

	"igmonitor/internal/config"
	logx "igmonitor/pkg/logx"
)

// reloadLoop applies published configs. Bursts are coalesced to the newest.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, cfg)
		}
	}
}

// applyConfig pushes the hot-reloadable settings: logging, ops server, and
// each running client's credentials, intervals and notification options.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	chatID, _ := cfg.GroupLogChat()
	a.logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	a.logs.Apply(logConfig(cfg))

	a.ops.Reconfigure(ctx, opsConfig(cfg))

	for name, c := range a.clients {
		if _, ok := cfg.Clients[name]; !ok {
			continue
		}
		if err := c.apply(cfg, a.cfgm.ResolvePath); err != nil {
			a.log.Warn("client reload incomplete", logx.String("client", name), logx.Err(err))
			continue
		}
		snap := c.pool.Snapshot()
		fps := make([]string, 0, len(snap))
		for _, st := range snap {
			fps = append(fps, st.Fingerprint)
		}
		a.metrics.ForgetCredentials(name, fps)
		a.log.Debug("client reloaded", logx.String("client", name), logx.Int("credentials", len(fps)))
	}
}
