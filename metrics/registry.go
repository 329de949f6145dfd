// Package metrics provides a thin component-scoped wrapper around
// prometheus registration so every component shares one registry and a
// consistent namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the contributor.
const Namespace = "ceremony_contributor"

// CountBuckets suits small discrete counts (queue positions, parts, steps).
var CountBuckets = []float64{1, 2, 5, 10, 20, 50, 100}

// BytesBuckets suits artifact transfer sizes.
var BytesBuckets = prometheus.ExponentialBuckets(1<<20, 4, 8)

// ComponentRegistry registers metrics under a shared registry with a fixed
// namespace and per-component subsystem.
type ComponentRegistry struct {
	subsystem string
	reg       prometheus.Registerer
}

// NewComponentRegistry scopes metric registration to one component. A nil
// registerer falls back to the default prometheus registerer.
func NewComponentRegistry(subsystem string, reg prometheus.Registerer) *ComponentRegistry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &ComponentRegistry{subsystem: subsystem, reg: reg}
}

func (r *ComponentRegistry) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace, opts.Subsystem = Namespace, r.subsystem
	c := prometheus.NewCounter(opts)
	r.reg.MustRegister(c)
	return c
}

func (r *ComponentRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace, opts.Subsystem = Namespace, r.subsystem
	c := prometheus.NewCounterVec(opts, labels)
	r.reg.MustRegister(c)
	return c
}

func (r *ComponentRegistry) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace, opts.Subsystem = Namespace, r.subsystem
	g := prometheus.NewGauge(opts)
	r.reg.MustRegister(g)
	return g
}

func (r *ComponentRegistry) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace, opts.Subsystem = Namespace, r.subsystem
	h := prometheus.NewHistogram(opts)
	r.reg.MustRegister(h)
	return h
}
