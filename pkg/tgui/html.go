package tgui

import (
	"fmt"
	"html"
	"strings"
)

// H is HTML already safe for ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Handle renders an account handle as bold "@id".
func Handle(id string) H { return B("@" + id) }

// Link builds an anchor; both url and text are escaped.
func Link(text, url string) H {
	return H(fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(text)))
}

// JoinH joins non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}
