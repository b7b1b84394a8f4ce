// Package metrics exposes tracker and sync telemetry as Prometheus
// collectors on a private registry.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TheMichaelB/stepsync/internal/models"
)

// Collector records step and push metrics. It satisfies tracker.Recorder.
type Collector struct {
	registry *prometheus.Registry

	stepEvents    *prometheus.CounterVec
	stepsToday    prometheus.Gauge
	pushTotal     *prometheus.CounterVec
	pushLatency   *prometheus.HistogramVec
	pushDropped   *prometheus.CounterVec
	lastPush      prometheus.Gauge
	persistErrors prometheus.Counter
}

// NewCollector creates a collector under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "stepsync"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.stepEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "events_total",
			Help:      "Sensor events received",
		},
		[]string{"mode"},
	)

	c.stepsToday = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "steps_today",
		Help:      "Steps counted for the current day",
	})

	c.pushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "total",
			Help:      "Completed pushes to the fitness backend",
		},
		[]string{"trigger", "result"},
	)

	c.pushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "duration_seconds",
			Help:      "Time taken by a push",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"result"},
	)

	c.pushDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Push triggers skipped because a push was in flight",
		},
		[]string{"trigger"},
	)

	c.lastPush = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful push",
	})

	c.persistErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "state",
		Name:      "persist_errors_total",
		Help:      "Failed writes of the local step state",
	})

	c.registry.MustRegister(
		c.stepEvents,
		c.stepsToday,
		c.pushTotal,
		c.pushLatency,
		c.pushDropped,
		c.lastPush,
		c.persistErrors,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StepEvent counts one sensor event.
func (c *Collector) StepEvent(mode string) {
	c.stepEvents.WithLabelValues(mode).Inc()
}

// StepsToday sets the current day's count.
func (c *Collector) StepsToday(steps int64) {
	c.stepsToday.Set(float64(steps))
}

// PushCompleted records a finished push.
func (c *Collector) PushCompleted(trigger string, err error, elapsed time.Duration) {
	result := resultOf(err)
	c.pushTotal.WithLabelValues(trigger, result).Inc()
	c.pushLatency.WithLabelValues(result).Observe(elapsed.Seconds())
	if err == nil {
		c.lastPush.SetToCurrentTime()
	}
}

// PushDropped counts a trigger that found a push in flight.
func (c *Collector) PushDropped(trigger string) {
	c.pushDropped.WithLabelValues(trigger).Inc()
}

// PersistFailed counts a failed state write.
func (c *Collector) PersistFailed() {
	c.persistErrors.Inc()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrNotAuthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}
