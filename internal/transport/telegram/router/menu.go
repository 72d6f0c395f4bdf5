package router

import (
	"strings"

	kit "igmonitor/internal/transport"
)

// sanitizeCommand converts a name into a Telegram command: [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "/")
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.TrimSpace(strings.ReplaceAll(c.Description, "\n", " "))
		if desc == "" {
			desc = c.Name
		}
		if c.Access != AccessEveryone {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	return out
}
