package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrometheusProviderCounterAndGauge(t *testing.T) {
	p := NewPrometheusProvider(nil)
	c := p.NewCounter(CounterOpts{CommonOpts{Namespace: "atlas", Name: "exported_total", Labels: []string{"template"}}})
	c.Inc(1, "t1")
	c.Inc(2, "t1")

	g := p.NewGauge(GaugeOpts{CommonOpts{Namespace: "atlas", Name: "inflight"}})
	g.Set(5)
	g.Add(-1)

	assert.NoError(t, p.Health(context.Background()))
}

func TestSelectProviderNoopWhenDisabled(t *testing.T) {
	p := SelectProvider(false, "prometheus", "atlas")
	_, ok := p.(noopProvider)
	assert.True(t, ok)
}

func TestEvaluatorCachingAndRollup(t *testing.T) {
	calls := 0
	probe := ProbeFunc(func(ctx context.Context) ProbeResult {
		calls++
		return Healthy("unit")
	})
	ev := NewEvaluator(200*time.Millisecond, probe)

	s1 := ev.Evaluate(context.Background())
	s2 := ev.Evaluate(context.Background())
	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusHealthy, s1.Overall)
	assert.Equal(t, StatusHealthy, s2.Overall)

	time.Sleep(220 * time.Millisecond)
	ev.Evaluate(context.Background())
	assert.Equal(t, 2, calls)
}

func TestEvaluatorRollupTakesWorst(t *testing.T) {
	healthy := ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("source") })
	unhealthy := ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("sink", "connection refused") })
	ev := NewEvaluator(0, healthy, unhealthy)

	s := ev.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, s.Overall)
	assert.Len(t, s.Probes, 2)
}
