package monitor

import (
	"net/http"
	"strings"

	"igmonitor/internal/domain"
)

// ProfileParser decodes a 200 response body. It returns (nil, nil) when the
// document is well-formed but carries no user.
type ProfileParser func(body []byte) (*domain.Profile, error)

// Classification is the semantic result of one response.
type Classification struct {
	State   domain.AccountState
	Outcome Outcome
	Profile *domain.Profile
	Reason  string
}

// Classifier maps (status, body) to a state and a credential outcome.
// It keeps no state between calls.
type Classifier struct {
	Parse ProfileParser
}

func (c Classifier) Classify(requestedID string, status int, body []byte) Classification {
	switch status {
	case http.StatusOK:
		return c.classifyOK(requestedID, body)
	case http.StatusNotFound:
		return Classification{State: domain.StateSuspended, Outcome: OutcomeSuccess, Reason: "not found"}
	case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		return Classification{State: domain.StateUnknown, Outcome: OutcomeRateLimited, Reason: http.StatusText(status)}
	default:
		return Classification{State: domain.StateUnknown, Outcome: OutcomeTransportError, Reason: "unexpected status " + http.StatusText(status)}
	}
}

func (c Classifier) classifyOK(requestedID string, body []byte) Classification {
	if c.Parse == nil || len(body) == 0 {
		return Classification{State: domain.StateUnknown, Outcome: OutcomeRateLimited, Reason: "empty body"}
	}
	p, err := c.Parse(body)
	if err != nil {
		return Classification{State: domain.StateUnknown, Outcome: OutcomeRateLimited, Reason: "malformed body"}
	}
	if p == nil {
		return Classification{State: domain.StateSuspended, Outcome: OutcomeSuccess, Reason: "user missing"}
	}
	if strings.TrimSpace(p.Username) == "" {
		return Classification{State: domain.StateUnknown, Outcome: OutcomeRateLimited, Reason: "profile without username"}
	}
	if !strings.EqualFold(p.Username, requestedID) {
		return Classification{State: domain.StateUnknown, Outcome: OutcomeSuccess, Profile: p, Reason: "username mismatch"}
	}
	return Classification{State: domain.StateActive, Outcome: OutcomeSuccess, Profile: p, Reason: "profile ok"}
}
