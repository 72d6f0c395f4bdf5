package notifier

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"igmonitor/internal/monitor"
	"igmonitor/pkg/tgui"
)

func ProfileURL(id string) string { return "https://instagram.com/" + id }

// Caption is the recovery message text (HTML parse mode).
func Caption(r monitor.Recovery) string {
	var b strings.Builder
	b.WriteString("✅ <b>Username unbanned!</b>\n\n")
	fmt.Fprintf(&b, "%s is now active again\n", tgui.Handle(r.Account.ID))
	if r.Profile != nil {
		fmt.Fprintf(&b, "👥 Followers: <b>%s</b>\n", GroupThousands(r.Profile.Followers))
	}
	fmt.Fprintf(&b, "⏱ Time elapsed: <b>%s</b>", FormatElapsed(r.Elapsed))
	return b.String()
}

// GroupThousands formats n with comma separators: 97000000 -> 97,000,000.
func GroupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// FormatElapsed renders d as "1h 2m 3s", dropping leading zero units.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
