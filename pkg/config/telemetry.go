package config

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/version"
)

type Telemetry struct {
	meterProvider *metric.MeterProvider
	traceProvider *trace.TracerProvider
}

// Shutdown flushes and stops the providers
func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := errors.Join(
		t.meterProvider.Shutdown(ctx),
		t.traceProvider.Shutdown(ctx),
	); err != nil {
		log.Warn("error shutting down telemetry", log.ErrorField(err))
	}
}

// SetupTelemetry installs global meter and trace providers.
// Data is sent via otlp/grpc to TelemetryEndpoint. If no endpoint is
// configured the data is written to stdout.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", "igap"),
			attribute.String("service.version", version.Version),
		))
	if err != nil {
		return nil, err
	}
	metricExporter, traceExporter, err := createExporters(ctx)
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(15*time.Second))),
	)
	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(traceExporter),
	)
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return &Telemetry{meterProvider: mp, traceProvider: tp}, nil
}

//nolint:whitespace // can't make both editor and linter happy
func createExporters(ctx context.Context) (
	metric.Exporter, trace.SpanExporter, error,
) {
	if TelemetryEndpoint == "" {
		me, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, err
		}
		te, err := stdouttrace.New()
		if err != nil {
			return nil, nil, err
		}
		return me, te, nil
	}
	me, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(TelemetryEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	te, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(TelemetryEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	return me, te, nil
}
