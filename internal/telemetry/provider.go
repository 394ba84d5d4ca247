package telemetry

// SelectProvider builds the metrics Provider named by backend, mirroring
// the teacher's engine.Config.MetricsBackend switch ("prom"/"otel"/
// "noop", generalized here to "prometheus"/"otel"/"noop"). Unknown or
// empty values fall back to noop rather than erroring, since metrics are
// an ambient concern the engine must run without.
func SelectProvider(enabled bool, backend, serviceName string) Provider {
	if !enabled {
		return NewNoopProvider()
	}
	switch backend {
	case "otel":
		return NewOTelProvider(serviceName)
	case "noop":
		return NewNoopProvider()
	case "prometheus", "":
		return NewPrometheusProvider(nil)
	default:
		return NewNoopProvider()
	}
}
