// Package metrics defines the pluggable metrics provider contract. The event
// bus is the only subsystem that registers metrics through it; the
// scheduler, health sampler and api-metrics window do not.
package metrics

import "context"

// Provider is the minimal metrics provider contract used internally by
// every subsystem that emits a counter, gauge or histogram.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	Health(ctx context.Context) error
}

type Counter interface{ Inc(delta float64, labels ...string) }
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}
type Histogram interface{ Observe(v float64, labels ...string) }
type Timer interface{ ObserveDuration(labels ...string) }

// CommonOpts names a metric; Namespace/Subsystem/Name combine into the
// final metric name (e.g. pullsched_scheduler_leases_granted_total).
type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// noop provider -------------------------------------------------------------

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}
type noopTimer struct{}

// NewNoopProvider returns a Provider that discards every observation; used
// when metrics are disabled or in tests that don't assert on them.
func NewNoopProvider() Provider { return &noopProvider{} }

func (p *noopProvider) NewCounter(CounterOpts) Counter           { return noopCounter{} }
func (p *noopProvider) NewGauge(GaugeOpts) Gauge                 { return noopGauge{} }
func (p *noopProvider) NewHistogram(HistogramOpts) Histogram     { return noopHistogram{} }
func (p *noopProvider) NewTimer(HistogramOpts) func() Timer {
	return func() Timer { return noopTimer{} }
}
func (p *noopProvider) Health(context.Context) error { return nil }

func (noopCounter) Inc(float64, ...string)      {}
func (noopGauge) Set(float64, ...string)        {}
func (noopGauge) Add(float64, ...string)        {}
func (noopHistogram) Observe(float64, ...string) {}
func (noopTimer) ObserveDuration(...string)      {}
