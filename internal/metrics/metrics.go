// Package metrics exports fixture and item counters in Prometheus format.
// A run writes them once at exit with WriteTextfile, for collection by the
// node exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"robottelo/internal/fixture"
	"robottelo/internal/report"
)

// Setup outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeCached = "cached"
	OutcomeError  = "error"
	OutcomeSkip   = "skip"
)

// Metrics holds the collectors of one run.
type Metrics struct {
	registry *prometheus.Registry

	FixtureSetups         *prometheus.CounterVec
	FixtureSetupSeconds   *prometheus.HistogramVec
	FixtureTeardownErrors *prometheus.CounterVec
	Items                 *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		FixtureSetups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robottelo_fixture_setup_total",
			Help: "Fixture resolutions by fixture, scope and outcome",
		}, []string{"fixture", "scope", "outcome"}),
		FixtureSetupSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "robottelo_fixture_setup_seconds",
			Help:    "Time spent in fixture producers, cache hits excluded",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"fixture"}),
		FixtureTeardownErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robottelo_fixture_teardown_errors_total",
			Help: "Failed fixture teardowns",
		}, []string{"fixture"}),
		Items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robottelo_items_total",
			Help: "Test items by outcome",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.FixtureSetups, m.FixtureSetupSeconds, m.FixtureTeardownErrors, m.Items} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Hooks returns fixture engine hooks feeding the collectors.
func (m *Metrics) Hooks() fixture.Hooks {
	return fixture.Hooks{
		OnSetup: func(e fixture.SetupEvent) {
			outcome := OutcomeOK
			switch {
			case e.Err != nil:
				outcome = OutcomeError
			case e.Skip != nil:
				outcome = OutcomeSkip
			case e.Cached:
				outcome = OutcomeCached
			}
			m.FixtureSetups.WithLabelValues(e.Fixture, e.Scope.String(), outcome).Inc()
			if !e.Cached {
				m.FixtureSetupSeconds.WithLabelValues(e.Fixture).Observe(e.Duration.Seconds())
			}
		},
		OnTeardown: func(e fixture.TeardownEvent) {
			if e.Err != nil {
				m.FixtureTeardownErrors.WithLabelValues(e.Fixture).Inc()
			}
		},
	}
}

// ObserveItem counts an item result.
func (m *Metrics) ObserveItem(r report.ItemResult) {
	m.Items.WithLabelValues(string(r.Outcome)).Inc()
}

// Reporter adapts the collectors to report.Reporter so they can be fanned
// out next to the console.
func (m *Metrics) Reporter() report.Reporter { return itemReporter{m} }

type itemReporter struct{ m *Metrics }

func (r itemReporter) ReportStart(report.RunInfo)            {}
func (r itemReporter) ReportItemResult(res report.ItemResult) { r.m.ObserveItem(res) }
func (r itemReporter) ReportSuiteResult(report.SuiteResult)   {}

// WriteTextfile writes every collector on the registry in the text
// exposition format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
