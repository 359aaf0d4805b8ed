package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QuoteMetrics counts calculation and persistence outcomes. A nil receiver
// is a no-op.
type QuoteMetrics struct {
	calculations *prometheus.CounterVec
	saves        *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
}

// NewQuoteMetrics registers the quote collectors against registerer.
func NewQuoteMetrics(registerer prometheus.Registerer) *QuoteMetrics {
	return newQuoteMetrics(registerer)
}

func newQuoteMetrics(registerer prometheus.Registerer) *QuoteMetrics {
	calculations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotedesk_quote_calculations_total",
		Help: "Quote calculations by outcome code.",
	}, []string{"outcome"})
	saves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotedesk_quote_writes_total",
		Help: "Quote writes by operation and outcome code.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotedesk_quote_write_duration_seconds",
		Help:    "Duration of quote write transactions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	registerer.MustRegister(calculations, saves, duration)
	return &QuoteMetrics{calculations: calculations, saves: saves, saveDuration: duration}
}

// ObserveCalculation counts one calculation; outcome is "ok" or an error code.
func (m *QuoteMetrics) ObserveCalculation(outcome string) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(outcome).Inc()
}

// ObserveWrite counts one write and its duration.
func (m *QuoteMetrics) ObserveWrite(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(operation, outcome).Inc()
	m.saveDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
