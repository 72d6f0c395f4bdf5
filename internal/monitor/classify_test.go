package monitor

import (
	"encoding/json"
	"errors"
	"testing"

	"igmonitor/internal/domain"
)

// testParse understands {"user": {"username": "..."}}.
func testParse(body []byte) (*domain.Profile, error) {
	var doc struct {
		User *struct {
			Username  string `json:"username"`
			Followers int64  `json:"followers"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.User == nil {
		return nil, nil
	}
	return &domain.Profile{Username: doc.User.Username, Followers: doc.User.Followers}, nil
}

func TestClassify(t *testing.T) {
	t.Parallel()
	c := Classifier{Parse: testParse}
	tests := []struct {
		name    string
		status  int
		body    string
		state   domain.AccountState
		outcome Outcome
		profile bool
	}{
		{name: "match", status: 200, body: `{"user":{"username":"nasa"}}`, state: domain.StateActive, outcome: OutcomeSuccess, profile: true},
		{name: "match case-insensitive", status: 200, body: `{"user":{"username":"NASA"}}`, state: domain.StateActive, outcome: OutcomeSuccess, profile: true},
		{name: "other username", status: 200, body: `{"user":{"username":"nasa_fan"}}`, state: domain.StateUnknown, outcome: OutcomeSuccess, profile: true},
		{name: "user null", status: 200, body: `{"user":null}`, state: domain.StateSuspended, outcome: OutcomeSuccess},
		{name: "empty username", status: 200, body: `{"user":{"username":""}}`, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "malformed", status: 200, body: `<html>login</html>`, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "empty body", status: 200, body: ``, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "not found", status: 404, body: `{}`, state: domain.StateSuspended, outcome: OutcomeSuccess},
		{name: "too many requests", status: 429, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "unauthorized", status: 401, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "forbidden", status: 403, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "bad request", status: 400, state: domain.StateUnknown, outcome: OutcomeRateLimited},
		{name: "server error", status: 502, state: domain.StateUnknown, outcome: OutcomeTransportError},
		{name: "redirect", status: 302, state: domain.StateUnknown, outcome: OutcomeTransportError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := c.Classify("nasa", tt.status, []byte(tt.body))
			if got.State != tt.state || got.Outcome != tt.outcome {
				t.Fatalf("Classify = %s/%s (%s), want %s/%s", got.State, got.Outcome, got.Reason, tt.state, tt.outcome)
			}
			if (got.Profile != nil) != tt.profile {
				t.Fatalf("profile present=%v, want %v", got.Profile != nil, tt.profile)
			}
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	t.Parallel()
	calls := 0
	c := Classifier{Parse: func(b []byte) (*domain.Profile, error) {
		calls++
		return nil, errors.New("boom")
	}}
	for i := 0; i < 3; i++ {
		if got := c.Classify("nasa", 200, []byte("x")); got.State != domain.StateUnknown || got.Outcome != OutcomeRateLimited {
			t.Fatalf("call %d = %+v", i, got)
		}
	}
	if calls != 3 {
		t.Fatalf("parser calls=%d", calls)
	}
}
