package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"igmonitor/internal/domain"
	"igmonitor/internal/monitor"
)

func TestObserverCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.CheckDone("keo", monitor.OutcomeSuccess, 120*time.Millisecond)
	m.CheckDone("keo", monitor.OutcomeSuccess, 80*time.Millisecond)
	m.CheckDone("keo", monitor.OutcomeRateLimited, time.Second)
	m.Transition("keo", domain.StateSuspended, domain.StateActive)
	m.Recovered("keo")
	m.NotifyFailed("keo")
	m.Accounts("keo", 7)

	if got := testutil.ToFloat64(m.checks.WithLabelValues("keo", "success")); got != 2 {
		t.Fatalf("checks{success} = %v", got)
	}
	if got := testutil.ToFloat64(m.checks.WithLabelValues("keo", "rate_limited")); got != 1 {
		t.Fatalf("checks{rate_limited} = %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("keo", "suspended", "active")); got != 1 {
		t.Fatalf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.accounts.WithLabelValues("keo")); got != 7 {
		t.Fatalf("accounts = %v", got)
	}
	if got := testutil.CollectAndCount(m.checkDuration); got != 1 {
		t.Fatalf("duration series = %d", got)
	}
}

func TestForgetCredentials(t *testing.T) {
	t.Parallel()
	m := New()
	m.CredentialStreak("keo", "aaaa", 2)
	m.CredentialStreak("keo", "bbbb", 0)
	m.CredentialStreak("other", "aaaa", 1)

	m.ForgetCredentials("keo", []string{"bbbb"})
	if got := testutil.CollectAndCount(m.streaks); got != 2 {
		t.Fatalf("streak series = %d, want 2", got)
	}
	expected := `
# HELP igmonitor_credential_failure_streak Consecutive failures per credential fingerprint.
# TYPE igmonitor_credential_failure_streak gauge
igmonitor_credential_failure_streak{client="keo",credential="bbbb"} 0
igmonitor_credential_failure_streak{client="other",credential="aaaa"} 1
`
	if err := testutil.CollectAndCompare(m.streaks, strings.NewReader(expected)); err != nil {
		t.Fatal(err)
	}
}
