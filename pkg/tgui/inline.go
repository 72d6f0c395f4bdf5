package tgui

import tele "gopkg.in/telebot.v4"

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons. Empty rows are skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Grid appends buttons split into rows of n.
func (i *Inline) Grid(n int, btn ...tele.Btn) *Inline {
	if n < 1 {
		n = 1
	}
	for len(btn) > 0 {
		k := min(n, len(btn))
		i.Row(btn[:k]...)
		btn = btn[k:]
	}
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

// ConfirmInline builds a two-button confirm keyboard.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}
