// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Shutdown releases telemetry resources.
type Shutdown func(ctx context.Context) error

// Setup installs a global tracer provider exporting over OTLP/HTTP. With an
// empty endpoint tracing stays on the global no-op provider. attrs are added
// to the service resource.
func Setup(ctx context.Context, endpoint, serviceName string, log *slog.Logger, attrs ...attribute.KeyValue) (Shutdown, error) {
	if log == nil {
		log = slog.Default()
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		log.Info("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts, err := exporterOptions(endpoint)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing enabled", "endpoint", endpoint)
	return tp.Shutdown, nil
}

// ProjectAttributes describes the AI project the bot belongs to. Empty values
// are omitted.
func ProjectAttributes(host, subscriptionID, resourceGroup, project string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if host != "" || subscriptionID != "" || resourceGroup != "" || project != "" {
		attrs = append(attrs, semconv.CloudProviderAzure)
	}
	if subscriptionID != "" {
		attrs = append(attrs, semconv.CloudAccountID(subscriptionID))
	}
	if resourceGroup != "" {
		attrs = append(attrs, attribute.String("azure.resource_group", resourceGroup))
	}
	if project != "" {
		attrs = append(attrs, attribute.String("azure.ai.project.name", project))
	}
	if host != "" {
		attrs = append(attrs, attribute.String("azure.ai.project.host", host))
	}
	return attrs
}

// exporterOptions accepts either host:port or a full http(s) URL.
func exporterOptions(endpoint string) ([]otlptracehttp.Option, error) {
	if !strings.Contains(endpoint, "://") {
		return []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		}, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("telemetry: endpoint %q has no host", endpoint)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	switch u.Scheme {
	case "http":
		opts = append(opts, otlptracehttp.WithInsecure())
	case "https":
	default:
		return nil, fmt.Errorf("telemetry: unsupported endpoint scheme %q", u.Scheme)
	}
	if p := strings.TrimRight(u.Path, "/"); p != "" {
		opts = append(opts, otlptracehttp.WithURLPath(p))
	}
	return opts, nil
}
