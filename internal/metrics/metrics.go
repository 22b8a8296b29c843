// Package metrics provides the Prometheus counter registry shared by the
// listener and forwarder. The registration helpers generalize the
// per-package closures the teacher hand-rolls in internal/gateway/metrics.go
// and internal/backend/mqttpubsub/metrics.go into one reusable place.
package metrics

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// MustRegisterNewCounter registers and returns an increment closure for a
// new CounterVec with the given name, help text and label names.
func MustRegisterNewCounter(name, help string, labels []string) func(prometheus.Labels) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, labels)

	registry.MustRegister(c)

	return func(l prometheus.Labels) {
		c.With(l).Inc()
	}
}

// MustRegisterNewTimerWithError registers a histogram tracking the duration
// of the wrapped function and returns a closure that runs f, observes its
// duration, and returns f's error.
func MustRegisterNewTimerWithError(name, help string, labels []string) func(prometheus.Labels, func() error) error {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: name,
		Help: help,
	}, labels)

	registry.MustRegister(h)

	return func(l prometheus.Labels, f func() error) error {
		start := time.Now()
		err := f()
		h.With(l).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler returns the HTTP handler serving the Prometheus text exposition
// format for the registry above.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing GET /metrics on bind. An empty bind
// disables the endpoint entirely.
func Serve(bind string) {
	if bind == "" {
		log.Info("metrics: monitoring endpoint is not configured")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	log.WithField("bind", bind).Info("metrics: starting monitoring endpoint")

	go func() {
		if err := http.ListenAndServe(bind, mux); err != nil {
			log.WithError(err).Error("metrics: monitoring endpoint stopped")
		}
	}()
}
