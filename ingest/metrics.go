package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ingestions  *prometheus.CounterVec
	extractions *prometheus.CounterVec
	duration    prometheus.Histogram
	rollbacks   *prometheus.CounterVec
}

// NewMetrics registers the ingestion collectors with reg. A nil reg yields
// collectors that are updated but never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "card_ingestions_total",
			Help: "Card image ingestions by outcome.",
		}, []string{"outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "card_metadata_extractions_total",
			Help: "Metadata extraction attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "card_ingestion_duration_seconds",
			Help:    "Wall time of a full ingestion.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "card_ingestion_rollback_steps_total",
			Help: "Compensating rollback steps by step and result.",
		}, []string{"step", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.ingestions, m.extractions, m.duration, m.rollbacks)
	}
	return m
}

func (m *Metrics) observeIngestion(outcome string, start time.Time) {
	m.ingestions.WithLabelValues(outcome).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeExtraction(result string) {
	m.extractions.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRollback(step string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.rollbacks.WithLabelValues(step, result).Inc()
}
