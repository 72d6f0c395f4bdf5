// Package domain holds the monitored-account model shared by the engine,
// the stores and the command layer.
package domain

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidAccount is returned when a handle cannot be normalized.
var ErrInvalidAccount = errors.New("invalid account handle")

// AccountState is the last classified state of a monitored account.
type AccountState string

const (
	StateUnknown   AccountState = "unknown"
	StateSuspended AccountState = "suspended"
	StateActive    AccountState = "active"
)

func (s AccountState) Valid() bool {
	switch s {
	case StateUnknown, StateSuspended, StateActive:
		return true
	}
	return false
}

// MonitoredAccount is the persisted record for one monitored handle.
type MonitoredAccount struct {
	ID            string       `json:"id"`
	State         AccountState `json:"state"`
	CheckCount    int64        `json:"check_count"`
	NextCheckAt   time.Time    `json:"next_check_at"`
	CreatedAt     time.Time    `json:"created_at"`
	LastCheckedAt time.Time    `json:"last_checked_at,omitempty"`
	LastStatus    int          `json:"last_status,omitempty"`
	// AddedBy is the chat that requested monitoring (0 when unknown).
	AddedBy int64 `json:"added_by,omitempty"`
	// NotifiedAt is set once the recovery was announced but the record could
	// not be deleted yet; such a record is only waiting for removal.
	NotifiedAt time.Time `json:"notified_at,omitempty"`
}

// Equal compares records with time values normalized to their instant.
func (a MonitoredAccount) Equal(b MonitoredAccount) bool {
	return a.ID == b.ID &&
		a.State == b.State &&
		a.CheckCount == b.CheckCount &&
		a.NextCheckAt.Equal(b.NextCheckAt) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.LastCheckedAt.Equal(b.LastCheckedAt) &&
		a.LastStatus == b.LastStatus &&
		a.AddedBy == b.AddedBy &&
		a.NotifiedAt.Equal(b.NotifiedAt)
}

var handleRe = regexp.MustCompile(`^[a-z0-9._]{1,30}$`)

// reservedPaths are first path segments of instagram.com that are not profiles.
var reservedPaths = map[string]struct{}{
	"p": {}, "reel": {}, "reels": {}, "tv": {}, "stories": {}, "explore": {},
	"accounts": {}, "direct": {}, "about": {}, "developer": {}, "legal": {},
}

// NormalizeID lowercases a handle and strips "@", URL prefixes, query strings
// and trailing slashes. "https://www.instagram.com/NASA/?hl=en" -> "nasa".
// Post, reel and story links and bare host names are rejected.
func NormalizeID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidAccount
	}
	if strings.Contains(s, "/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", ErrInvalidAccount
		}
		path := strings.Trim(u.Path, "/")
		if i := strings.IndexByte(path, '/'); i >= 0 {
			path = path[:i]
		}
		if _, ok := reservedPaths[strings.ToLower(path)]; ok {
			return "", ErrInvalidAccount
		}
		s = path
	}
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
	if !handleRe.MatchString(s) || isHostName(s) {
		return "", ErrInvalidAccount
	}
	return s, nil
}

var hostNames = map[string]struct{}{
	"instagram.com": {}, "www.instagram.com": {}, "m.instagram.com": {},
	"ig.com": {}, "ig.me": {}, "instagr.am": {}, "www.instagr.am": {},
}

// isHostName reports handles that are really a bare site name such as "instagram.com".
func isHostName(s string) bool {
	_, ok := hostNames[s]
	return ok
}

var (
	mentionRe = regexp.MustCompile(`@([A-Za-z0-9._]+)`)
	linkRe    = regexp.MustCompile(`(?i)(?:instagram|ig)\.com/([A-Za-z0-9._]+)`)
)

// ExtractHandles finds "@handle" mentions and instagram.com/handle links in
// free text. Results are normalized, deduplicated and kept in first-seen order.
func ExtractHandles(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	type hit struct {
		pos  int
		id   string
		link bool
	}
	var hits []hit
	for _, m := range linkRe.FindAllStringSubmatchIndex(text, -1) {
		hits = append(hits, hit{pos: m[0], id: text[m[2]:m[3]], link: true})
	}
	for _, m := range mentionRe.FindAllStringSubmatchIndex(text, -1) {
		// skip e-mail addresses like a@b.com
		if m[0] > 0 && isHandleByte(text[m[0]-1]) {
			continue
		}
		hits = append(hits, hit{pos: m[0], id: text[m[2]:m[3]]})
	}
	// stable order of appearance
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := reservedPaths[strings.ToLower(h.id)]; ok && h.link {
			continue
		}
		id, err := NormalizeID(strings.TrimRight(h.id, "."))
		if err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isHandleByte(b byte) bool {
	return b == '.' || b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
