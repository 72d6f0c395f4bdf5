// Package metrics exports engine measurements as Prometheus collectors on a
// private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"igmonitor/internal/domain"
	"igmonitor/internal/monitor"
)

const namespace = "igmonitor"

// Metrics implements monitor.Observer.
type Metrics struct {
	reg *prometheus.Registry

	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	notifyFails   *prometheus.CounterVec
	accounts      *prometheus.GaugeVec
	streaks       *prometheus.GaugeVec
}

var _ monitor.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Profile checks by credential outcome.",
		}, []string{"client", "outcome"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of one profile check.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"client"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Account state changes.",
		}, []string{"client", "from", "to"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Suspended accounts detected active again.",
		}, []string{"client"}),
		notifyFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Recovery notifications that exhausted their retries.",
		}, []string{"client"}),
		accounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_accounts",
			Help:      "Accounts currently monitored.",
		}, []string{"client"}),
		streaks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credential_failure_streak",
			Help:      "Consecutive failures per credential fingerprint.",
		}, []string{"client", "credential"}),
	}
	m.reg.MustRegister(
		m.checks, m.checkDuration, m.transitions, m.recoveries, m.notifyFails, m.accounts, m.streaks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is served by the ops server.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) CheckDone(client string, outcome monitor.Outcome, took time.Duration) {
	m.checks.WithLabelValues(client, outcome.String()).Inc()
	m.checkDuration.WithLabelValues(client).Observe(took.Seconds())
}

func (m *Metrics) Transition(client string, from, to domain.AccountState) {
	m.transitions.WithLabelValues(client, string(from), string(to)).Inc()
}

func (m *Metrics) Recovered(client string) { m.recoveries.WithLabelValues(client).Inc() }

func (m *Metrics) NotifyFailed(client string) { m.notifyFails.WithLabelValues(client).Inc() }

func (m *Metrics) Accounts(client string, n int) {
	m.accounts.WithLabelValues(client).Set(float64(n))
}

// CredentialStreak is keyed by fingerprint; tokens never become label values.
func (m *Metrics) CredentialStreak(client, fingerprint string, streak int) {
	m.streaks.WithLabelValues(client, fingerprint).Set(float64(streak))
}

// ForgetCredentials drops streak series of credentials no longer configured.
func (m *Metrics) ForgetCredentials(client string, keep []string) {
	alive := make(map[string]struct{}, len(keep))
	for _, fp := range keep {
		alive[fp] = struct{}{}
	}
	mfs, err := m.reg.Gather()
	if err != nil {
		return
	}
	for _, mf := range mfs {
		if mf.GetName() != namespace+"_credential_failure_streak" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var c, fp string
			for _, lp := range metric.GetLabel() {
				switch lp.GetName() {
				case "client":
					c = lp.GetValue()
				case "credential":
					fp = lp.GetValue()
				}
			}
			if _, ok := alive[fp]; c == client && !ok {
				m.streaks.DeleteLabelValues(client, fp)
			}
		}
	}
}
