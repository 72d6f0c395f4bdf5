package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenStore keeps oversized callback payloads server-side for a while and
// hands out short tokens ("~" + 8 base64url chars) that never contain ':'.
type TokenStore struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	now func() time.Time

	nextSweep time.Time
	m         map[string]tokenEntry
}

type tokenEntry struct {
	b   []byte
	exp time.Time
}

// NewTokenStore returns a store with a 15 minute TTL capped at 5000 entries.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		ttl: 15 * time.Minute,
		max: 5000,
		now: time.Now,
		m:   map[string]tokenEntry{},
	}
}

// WithTTL sets the token lifetime; non-positive values keep the default.
func (s *TokenStore) WithTTL(ttl time.Duration) *TokenStore {
	if ttl > 0 {
		s.mu.Lock()
		s.ttl = ttl
		s.mu.Unlock()
	}
	return s
}

func (s *TokenStore) PutBytes(b []byte) string {
	var buf [6]byte
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	for {
		_, _ = rand.Read(buf[:])
		tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])
		if _, taken := s.m[tok]; taken {
			continue
		}
		s.m[tok] = tokenEntry{b: append([]byte(nil), b...), exp: now.Add(s.ttl)}
		s.evictLocked()
		return tok
	}
}

func (s *TokenStore) PutString(v string) string { return s.PutBytes([]byte(v)) }

func (s *TokenStore) GetBytes(tok string) ([]byte, bool) {
	if s == nil || tok == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[tok]
	if !ok {
		return nil, false
	}
	if s.now().After(e.exp) {
		delete(s.m, tok)
		return nil, false
	}
	return append([]byte(nil), e.b...), true
}

func (s *TokenStore) GetString(tok string) (string, bool) {
	b, ok := s.GetBytes(tok)
	return string(b), ok
}

// Len reports live and not yet swept entries.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *TokenStore) sweepLocked(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
		}
	}
	s.nextSweep = now.Add(time.Minute)
}

// evictLocked drops the entries closest to expiry once over max.
func (s *TokenStore) evictLocked() {
	for len(s.m) > s.max {
		var oldest string
		var exp time.Time
		for k, e := range s.m {
			if oldest == "" || e.exp.Before(exp) {
				oldest, exp = k, e.exp
			}
		}
		delete(s.m, oldest)
	}
}
