package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	logx "igmonitor/pkg/logx"
)

var ErrNoCredentials = errors.New("credential pool is empty")

// Outcome is the credential-health signal of one check.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Credential is one interchangeable auth token. Token is secret; log Fingerprint.
type Credential struct {
	Token         string
	FailureStreak int
	LastUsed      time.Time
}

func (c Credential) Fingerprint() string { return Fingerprint(c.Token) }

// Fingerprint is a short, non-reversible id for a token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}

// CredentialStatus is a log-safe view of a pool entry.
type CredentialStatus struct {
	Fingerprint   string
	FailureStreak int
	LastUsed      time.Time
}

// CredentialPool selects a credential per check. Acquire never blocks: with
// no healthy credential it degrades to the lowest streak, least recently used.
type CredentialPool struct {
	mu       sync.Mutex
	creds    []*Credential
	next     int
	degraded bool

	now func() time.Time
	log logx.Logger
}

func NewCredentialPool(tokens []string, log logx.Logger) (*CredentialPool, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &CredentialPool{now: time.Now, log: log}
	if err := p.Replace(tokens); err != nil {
		return nil, err
	}
	return p, nil
}

// Acquire returns the credential to use and whether the pool is degraded
// (no credential with a zero failure streak).
func (p *CredentialPool) Acquire() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		c := p.creds[idx]
		if c.FailureStreak == 0 {
			p.next = (idx + 1) % n
			c.LastUsed = p.now()
			if p.degraded {
				p.degraded = false
				p.log.Info("credential pool healthy again")
			}
			return *c, false
		}
	}

	best := p.creds[0]
	for _, c := range p.creds[1:] {
		if c.FailureStreak < best.FailureStreak ||
			(c.FailureStreak == best.FailureStreak && c.LastUsed.Before(best.LastUsed)) {
			best = c
		}
	}
	best.LastUsed = p.now()
	if !p.degraded {
		p.degraded = true
		p.log.Warn("credential pool degraded", logx.Int("credentials", n), logx.String("using", Fingerprint(best.Token)), logx.Int("streak", best.FailureStreak))
	}
	return *best, true
}

// Report feeds a check outcome back. Tokens no longer in the pool are ignored.
func (p *CredentialPool) Report(cred Credential, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.Token != cred.Token {
			continue
		}
		if outcome == OutcomeSuccess {
			c.FailureStreak = 0
		} else {
			c.FailureStreak++
		}
		return
	}
}

// Replace swaps the token list, keeping the state of tokens that survive.
func (p *CredentialPool) Replace(tokens []string) error {
	seen := map[string]struct{}{}
	clean := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return ErrNoCredentials
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	old := make(map[string]*Credential, len(p.creds))
	for _, c := range p.creds {
		old[c.Token] = c
	}
	next := make([]*Credential, 0, len(clean))
	for _, t := range clean {
		if c, ok := old[t]; ok {
			next = append(next, c)
			continue
		}
		next = append(next, &Credential{Token: t})
	}
	p.creds = next
	p.next = 0
	return nil
}

func (p *CredentialPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

func (p *CredentialPool) Snapshot() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CredentialStatus, len(p.creds))
	for i, c := range p.creds {
		out[i] = CredentialStatus{Fingerprint: Fingerprint(c.Token), FailureStreak: c.FailureStreak, LastUsed: c.LastUsed}
	}
	return out
}
