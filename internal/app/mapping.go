package app

import (
	"fmt"
	"time"

	"igmonitor/internal/config"
	"igmonitor/internal/housekeeping"
	"igmonitor/internal/ops"
	kit "igmonitor/internal/transport"
	logx "igmonitor/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func opsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.OpsAddr(),
		Pprof:         cfg.Ops.Pprof,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
	}
}

func (a *App) registerHousekeeping(cfg *config.Config) error {
	stores := make(map[string]housekeeping.Compactor, len(a.clients))
	targets := make([]housekeeping.DigestTarget, 0, len(a.clients))
	for _, name := range cfg.ClientNames() {
		c, ok := a.clients[name]
		if !ok {
			continue
		}
		stores[name] = c.store
		targets = append(targets, housekeeping.DigestTarget{
			Client: name,
			Chat:   kit.ChatTarget{ChatID: c.settings.ChatID, ThreadID: c.settings.ThreadID},
		})
	}
	compact := housekeeping.CompactJob(cfg.Housekeeping.Compact, stores)
	compact.Timeout = 2 * time.Minute
	digest := housekeeping.DigestJob(cfg.Housekeeping.Digest, targets, a.mgr, a.adapter)
	digest.Timeout = time.Minute
	for _, j := range []housekeeping.Job{compact, digest} {
		if err := a.hk.Add(j); err != nil {
			return fmt.Errorf("housekeeping: %w", err)
		}
	}
	return nil
}
