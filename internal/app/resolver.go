package app

import (
	"igmonitor/internal/config"
	"igmonitor/internal/monitor"
)

// chatResolver maps a chat to its client using the live config, so owner
// changes apply on reload. Clients added after start stay unresolved until restart.
type chatResolver struct {
	cfgm *config.Manager
	mgr  *monitor.Manager
}

func (r chatResolver) Resolve(chatID int64) (string, []int64, bool) {
	cfg := r.cfgm.Get()
	if cfg == nil {
		return "", nil, false
	}
	name, ok := cfg.ClientForChat(chatID)
	if !ok {
		return "", nil, false
	}
	if _, err := r.mgr.Engine(name); err != nil {
		return "", nil, false
	}
	s, err := cfg.Settings(name)
	if err != nil {
		return "", nil, false
	}
	return name, s.Owners, true
}

// Admins are the global owners; they operate every client.
func (r chatResolver) Admins() []int64 {
	cfg := r.cfgm.Get()
	if cfg == nil {
		return nil
	}
	return cfg.Telegram.OwnerUserIDs
}
