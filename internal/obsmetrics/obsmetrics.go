// Package obsmetrics exposes the engine's Prometheus metrics. Grounded
// on the domain-stack choice of github.com/prometheus/client_golang
// (SPEC_FULL.md §0); the teacher's own metrics stack
// (luxfi-evm/metrics/gatherer) wraps go-ethereum's metrics registry,
// which this repo has no reason to depend on since it never runs a geth
// node — registering plain Prometheus collectors directly is the
// idiomatic equivalent for a standalone Go service.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter and gauge the core emits. One instance is
// shared across all subsystems; callers register it with a
// *prometheus.Registry (or the default one) at process startup.
type Metrics struct {
	ContributionsConfirmed prometheus.Counter
	ContributionsDefaulted prometheus.Counter
	RotationsAdvanced      prometheus.Counter
	CyclesClosed           prometheus.Counter
	DefaultsHandled        prometheus.Counter
	AuditFindings          *prometheus.CounterVec
	ActiveLeases           prometheus.Gauge
	CommandDuration        *prometheus.HistogramVec
}

// New constructs a Metrics with every collector created but not yet
// registered.
func New() *Metrics {
	return &Metrics{
		ContributionsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roscacore", Name: "contributions_confirmed_total",
			Help: "Contributions that reached both_confirmed.",
		}),
		ContributionsDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roscacore", Name: "contributions_defaulted_total",
			Help: "Contributions cancelled by a deadline fire.",
		}),
		RotationsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roscacore", Name: "rotations_advanced_total",
			Help: "Successful rotation advances across all groups.",
		}),
		CyclesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roscacore", Name: "cycles_closed_total",
			Help: "Groups that completed close_cycle.",
		}),
		DefaultsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roscacore", Name: "defaults_handled_total",
			Help: "Default-coverage transactions created by DefaultHandler.",
		}),
		AuditFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roscacore", Name: "audit_findings_total",
			Help: "ConsistencyAuditor findings by severity and auto-correction status.",
		}, []string{"severity", "auto_corrected"}),
		ActiveLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roscacore", Name: "active_leases",
			Help: "Leases currently held. Registered, but nothing in this module sets it, so it reads 0.",
		}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "roscacore", Name: "command_duration_seconds",
			Help:    "Latency of engine command dispatch by command name and exit condition.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command", "exit"}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate registration the same way the teacher's metrics setup does
// at process startup (a programmer error, not a runtime condition).
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ContributionsConfirmed,
		m.ContributionsDefaulted,
		m.RotationsAdvanced,
		m.CyclesClosed,
		m.DefaultsHandled,
		m.AuditFindings,
		m.ActiveLeases,
		m.CommandDuration,
	)
}
