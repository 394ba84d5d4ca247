package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProvider is the otel-bridged Provider backend, selected when
// configuration names "otel" as the metrics backend instead of
// "prometheus". Ported from the teacher's telemetry/metrics.otelProvider,
// minus its per-metric cardinality bookkeeping (see PrometheusProvider's
// equivalent trim).
type OTelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

// NewOTelProvider builds a zero-exporter MeterProvider — callers that
// need the metrics to actually leave the process attach their own
// exporter to the returned *sdkmetric.MeterProvider via MeterProvider().
func NewOTelProvider(serviceName string) *OTelProvider {
	mp := sdkmetric.NewMeterProvider()
	return &OTelProvider{mp: mp, meter: mp.Meter(serviceName)}
}

// MeterProvider exposes the underlying SDK provider for exporter wiring.
func (p *OTelProvider) MeterProvider() *sdkmetric.MeterProvider { return p.mp }

func (p *OTelProvider) NewCounter(opts CounterOpts) Counter {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Counter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst, labelKeys: opts.Labels}
}

func (p *OTelProvider) NewGauge(opts GaugeOpts) Gauge {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64UpDownCounter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst, labelKeys: opts.Labels}
}

func (p *OTelProvider) NewHistogram(opts HistogramOpts) Histogram {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Histogram(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst, labelKeys: opts.Labels}
}

func (p *OTelProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &otelTimer{h: hist, start: time.Now()} }
}

func (p *OTelProvider) Health(ctx context.Context) error { return nil }

func otelName(c CommonOpts) string {
	name := c.Name
	if c.Subsystem != "" {
		name = c.Subsystem + "." + name
	}
	if c.Namespace != "" {
		name = c.Namespace + "." + name
	}
	return name
}

func otelAttrs(keys, values []string) []attribute.KeyValue {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	attrs := make([]attribute.KeyValue, n)
	for i := 0; i < n; i++ {
		attrs[i] = attribute.String(keys[i], values[i])
	}
	return attrs
}

type otelCounter struct {
	c         metric.Float64Counter
	labelKeys []string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	c.c.Add(context.Background(), delta, metric.WithAttributes(otelAttrs(c.labelKeys, labels)...))
}

type otelGauge struct {
	g         metric.Float64UpDownCounter
	labelKeys []string
}

func (g *otelGauge) Set(v float64, labels ...string) {
	// UpDownCounter has no absolute Set; approximate by recording the
	// delta the caller is expected to pass as an absolute value is not
	// representable without tracking prior state, so Set degrades to Add.
	g.Add(v, labels...)
}
func (g *otelGauge) Add(delta float64, labels ...string) {
	g.g.Add(context.Background(), delta, metric.WithAttributes(otelAttrs(g.labelKeys, labels)...))
}

type otelHistogram struct {
	h         metric.Float64Histogram
	labelKeys []string
}

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, metric.WithAttributes(otelAttrs(h.labelKeys, labels)...))
}

type otelTimer struct {
	h     Histogram
	start time.Time
}

func (t *otelTimer) ObserveDuration(labels ...string) {
	t.h.Observe(time.Since(t.start).Seconds(), labels...)
}
