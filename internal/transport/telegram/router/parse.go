package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID is short and roughly time-ordered: base36 nanos, sequence, two random chars.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	suffix := []byte{alpha[rand.IntN(len(alpha))], alpha[rand.IntN(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// tokenizeCommandLine splits on whitespace, honoring quotes and backslash escapes.
func tokenizeCommandLine(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
			} else {
				buf.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
