// Package metrics exposes Prometheus counters for orchestrator runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the run counters. A nil *Metrics is valid and records
// nothing.
//
// Metrics:
//   - gba_runs_total{outcome} - runs by outcome (started, finished, aborted)
//   - gba_phases_total{status} - phases by result (completed, failed)
//   - gba_checks_total{check,passed} - pre-commit check executions
//   - gba_agent_turns_total{stage} - collaborator turns (phase, review, verification)
//   - gba_review_issues_total - issues reported by review
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal   *prometheus.CounterVec
	PhasesTotal *prometheus.CounterVec
	ChecksTotal *prometheus.CounterVec
	TurnsTotal  *prometheus.CounterVec
	IssuesTotal prometheus.Counter
}

// New registers the counters on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gba_runs_total",
				Help: "Total number of orchestrator runs by outcome",
			},
			[]string{"outcome"},
		),
		PhasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gba_phases_total",
				Help: "Total number of executed phases by result status",
			},
			[]string{"status"},
		),
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gba_checks_total",
				Help: "Total number of pre-commit check executions",
			},
			[]string{"check", "passed"},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gba_agent_turns_total",
				Help: "Total number of collaborator turns by stage",
			},
			[]string{"stage"},
		),
		IssuesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gba_review_issues_total",
				Help: "Total number of issues reported by review",
			},
		),
	}
}

// Registry returns the registry the counters live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a run transition: started, finished or aborted
func (m *Metrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// RecordPhase counts a phase result and its turns
func (m *Metrics) RecordPhase(status string, turns uint32) {
	if m == nil {
		return
	}
	m.PhasesTotal.WithLabelValues(status).Inc()
	m.TurnsTotal.WithLabelValues("phase").Add(float64(turns))
}

// RecordCheck counts one check execution
func (m *Metrics) RecordCheck(name string, passed bool) {
	if m == nil {
		return
	}
	label := "false"
	if passed {
		label = "true"
	}
	m.ChecksTotal.WithLabelValues(name, label).Inc()
}

// RecordReview counts review turns and found issues
func (m *Metrics) RecordReview(turns, issues uint32) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues("review").Add(float64(turns))
	m.IssuesTotal.Add(float64(issues))
}

// RecordVerification counts verification turns
func (m *Metrics) RecordVerification(turns uint32) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues("verification").Add(float64(turns))
}
