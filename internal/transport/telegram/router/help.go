package router

import (
	"strings"

	"igmonitor/pkg/tgui"
)

func (r *Router) helpText() string {
	lines := []string{"📚 <b>Instagram Monitor Commands</b>", ""}
	for _, c := range r.commands() {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := tgui.JoinH(" - ", tgui.Code(usage), tgui.Esc(c.Description)).String()
		switch c.Access {
		case AccessOwnerOnly:
			line += " 🔒"
		case AccessAdmin:
			line += " 🛡"
		}
		lines = append(lines, "• "+line)
	}
	lines = append(lines, "", "<b>Track banned accounts. Get instant alerts.</b>")
	return strings.Join(lines, "\n")
}
