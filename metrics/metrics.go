// Package metrics exposes cache operation metrics through Prometheus.
//
// Attach an Observer to a Cache and serve its Handler:
//
//	obs := metrics.NewObserver(nil)
//	c := cache.NewCache(store).WithObserver(obs)
//	http.Handle("/metrics", obs.Handler())
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvstash/cache"
)

// Observer counts cache operations and tracks their latency.
type Observer struct {
	registry *prometheus.Registry
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ cache.Observer = (*Observer)(nil)

// NewObserver registers the cache collectors on reg. A nil reg gets a
// fresh private registry. Registering twice on the same registry panics,
// like any duplicate Prometheus registration.
func NewObserver(reg *prometheus.Registry) *Observer {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	o := &Observer{
		registry: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Total cache operations by op, driver and outcome (hit, miss or error).",
		}, []string{"op", "driver", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cache_operation_duration_seconds",
			Help:    "Cache operation latency by op and driver.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "driver"}),
	}
	reg.MustRegister(o.ops, o.duration)
	return o
}

// OnCacheOp implements cache.Observer. The hit flag maps to outcome "hit";
// for mutating ops it reports whether the operation took effect (Add
// created, BatchSet wrote), so "miss" there means a no-op, not a failure.
func (o *Observer) OnCacheOp(_ context.Context, op, _ string, hit bool, err error, dur time.Duration, driver cache.Driver) {
	outcome := "miss"
	switch {
	case err != nil:
		outcome = "error"
	case hit:
		outcome = "hit"
	}
	o.ops.WithLabelValues(op, string(driver), outcome).Inc()
	o.duration.WithLabelValues(op, string(driver)).Observe(dur.Seconds())
}

// Registry returns the registry the collectors live on.
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}
