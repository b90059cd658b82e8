package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiz-attempt-service/internal/domain"
)

// Collector records attempt lifecycle metrics. A nil *Collector is a no-op.
type Collector struct {
	events     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	scoreRatio prometheus.Histogram
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempt_events_total",
				Help: "Attempt lifecycle events by kind",
			},
			[]string{"event"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempt_rejections_total",
				Help: "Rejected attempt operations by operation and error code",
			},
			[]string{"op", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quiz_attempt_operation_duration_seconds",
				Help:    "Duration of attempt operations",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"op"},
		),
		scoreRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_attempt_score_ratio",
			Help:    "Final score divided by total possible points",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
	reg.MustRegister(c.events, c.rejections, c.duration, c.scoreRatio)
	return c
}

// Event counts a lifecycle event such as "started" or "graded".
func (c *Collector) Event(name string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(name).Inc()
}

// Observe records the outcome and duration of op started at start.
func (c *Collector) Observe(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.rejections.WithLabelValues(op, domain.CodeOf(err)).Inc()
	}
}

// Scored records a finalized score.
func (c *Collector) Scored(card domain.Scorecard) {
	if c == nil || card.TotalPossible <= 0 {
		return
	}
	c.scoreRatio.Observe(card.Score / card.TotalPossible)
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
