package config

import (
	"reflect"
	"sort"
	"strings"

	logx "igmonitor/pkg/logx"
)

// SummarizeChange returns the changed sections, safe log fields (no tokens,
// session ids or proxy credentials) and the keys whose change needs a restart.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 12)
	var restart []string

	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram.token")
		restart = append(restart, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
		if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
			restart = append(restart, "telegram.poll_timeout")
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		fields = append(fields,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.OpsAddr()),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	if oldCfg.Housekeeping != newCfg.Housekeeping {
		changed = append(changed, "housekeeping")
		restart = append(restart, "housekeeping")
	}

	var touched []string
	for _, name := range unionKeys(oldCfg.Clients, newCfg.Clients) {
		oc, inOld := oldCfg.Clients[name]
		nc, inNew := newCfg.Clients[name]
		key := "clients." + name
		switch {
		case !inOld:
			touched = append(touched, name)
			restart = append(restart, key+" (added)")
		case !inNew:
			touched = append(touched, name)
			restart = append(restart, key+" (removed)")
		case !reflect.DeepEqual(oc, nc):
			touched = append(touched, name)
			if oc.ChatID != nc.ChatID {
				restart = append(restart, key+".chat_id")
			}
			if oc.Storage != nc.Storage {
				restart = append(restart, key+".storage")
			}
		}
	}
	if len(touched) > 0 {
		changed = append(changed, "clients")
		fields = append(fields, logx.Any("clients.changed", touched))
	}
	return changed, fields, restart
}

func unionKeys(a, b map[string]ClientConfig) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
