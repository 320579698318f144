package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rhea-ai/rhea/pkg/server"

// InitTracing installs the global tracer provider. When debug is set, spans
// are exported pretty-printed to stderr; otherwise spans stay in-process
// (context propagation only). Returns a shutdown function.
func InitTracing(debug bool) (func(context.Context) error, error) {
	res := sdkresource.NewSchemaless(
		attribute.String("service.name", "rhea"),
	)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if debug {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// tracer returns the server tracer.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
