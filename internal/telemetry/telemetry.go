// Package telemetry exposes loop outcomes as Prometheus collectors.
package telemetry

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/metric"
)

const namespace = "metacog"

// Collector records cycle outcomes. The zero value is not usable; call New.
type Collector struct {
	registry *prometheus.Registry

	verdicts       *prometheus.CounterVec
	scores         *prometheus.HistogramVec
	producerErrors prometheus.Counter
	failures       *prometheus.CounterVec
	episodes       prometheus.Gauge
	coherence      prometheus.Histogram
	reflections    prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_verdicts_total",
			Help:      "Gate verdicts by outcome.",
		}, []string{"verdict"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scores",
			Help:      "Distribution of kappa, tau and sigma per cycle.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"score"}),
		producerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_errors_total",
			Help:      "Failed calls to the text producer.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Failed cycles by kind: producer, input_range or other.",
		}, []string{"kind"}),
		episodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "episodic_length",
			Help:      "Episodic log length of the most recently active session.",
		}),
		coherence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_coherence",
			Help:      "Text coherence of final chat answers.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		reflections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_reflections_total",
			Help:      "Critique passes run by chat.",
		}),
	}
	c.registry.MustRegister(c.verdicts, c.scores, c.producerErrors, c.failures, c.episodes, c.coherence, c.reflections)
	return c
}

// Registry returns the registry holding every collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveAction records one successful cycle.
func (c *Collector) ObserveAction(a loop.Action, episodes int) {
	c.verdicts.WithLabelValues(string(a.Verdict)).Inc()
	c.scores.WithLabelValues("kappa").Observe(a.Scores.Kappa)
	c.scores.WithLabelValues("tau").Observe(a.Scores.Tau)
	c.scores.WithLabelValues("sigma").Observe(a.Scores.Sigma)
	c.episodes.Set(float64(episodes))
}

// ObserveFailure records one failed cycle. Only producer failures count
// towards producer_errors_total.
func (c *Collector) ObserveFailure(err error) {
	kind := "other"
	switch {
	case errors.Is(err, loop.ErrProducer):
		kind = "producer"
		c.producerErrors.Inc()
	case errors.Is(err, metric.ErrInputRange):
		kind = "input_range"
	}
	c.failures.WithLabelValues(kind).Inc()
}

// ObserveChat records the outcome of one chat exchange.
func (c *Collector) ObserveChat(coherence float64, reflections int) {
	c.coherence.Observe(coherence)
	c.reflections.Add(float64(reflections))
}
