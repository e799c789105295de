package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config identifies the service in exported telemetry.
type Config struct {
	// ServiceName overrides the service.name resource attribute.
	// Defaults to "airtime".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string
}

// Init registers the global OTel meter and tracer providers. Metrics flow
// into the default Prometheus registry, which the server scrapes at /metrics.
// Spans are recorded but not exported: their trace IDs feed correlation IDs
// in logs and response headers, which is all the correlation airtime needs.
//
// The returned function flushes and shuts both providers down; call it before
// the process exits.
func Init(cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "airtime"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
