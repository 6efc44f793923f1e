/*-------------------------------------------------------------------------
 *
 * tracing.go
 *    OpenTelemetry tracing setup
 *
 * Copyright (c) 2024-2026, neurondb, Inc. <admin@neurondb.com>
 *
 * IDENTIFICATION
 *    NeuronLedger/internal/observability/tracing.go
 *
 *-------------------------------------------------------------------------
 */

package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/neurondb/NeuronLedger/internal/config"
)

/* ShutdownFunc flushes and stops the tracer provider */
type ShutdownFunc func(ctx context.Context) error

/*
 * InitTracing installs a global tracer provider exporting over OTLP/HTTP.
 * With no endpoint configured tracing stays disabled and the returned
 * shutdown is a no-op; W3C trace context propagation is installed either way
 * so incoming trace headers are still honoured.
 */
func InitTracing(ctx context.Context, cfg config.TracingConfig, version string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts, err := exporterOptions(cfg)
	if err != nil {
		return nil, err
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter creation failed: endpoint='%s', error=%w", cfg.Endpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource creation failed: error=%w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(Sampler(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

/* Sampler maps a sampling rate in [0,1] to a sampler */
func Sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

/* exporterOptions accepts either host:port or a full http(s) URL */
func exporterOptions(cfg config.TracingConfig) ([]otlptracehttp.Option, error) {
	endpoint := cfg.Endpoint
	insecure := cfg.Insecure
	var opts []otlptracehttp.Option

	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid tracing endpoint: endpoint='%s', error=%w", endpoint, err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("invalid tracing endpoint: endpoint='%s', host is required", endpoint)
		}
		endpoint = u.Host
		if u.Scheme == "http" {
			insecure = true
		}
		if u.Path != "" && u.Path != "/" {
			opts = append(opts, otlptracehttp.WithURLPath(u.Path))
		}
	}

	opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}

/* TraceIDFromContext returns the active trace id, or "" */
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
