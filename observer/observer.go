// Package observer provides OTEL-based observability for the DPOP
// engine. It implements dcop.Metrics with traces and metrics exported
// over OTLP HTTP; users point it at any OTEL-compatible backend via
// the standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/muglyon/dcop/observer"

// Instruments holds all OTEL instruments used by the engine wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	RoundsTotal      metric.Int64Counter
	MessagesReceived metric.Int64Counter

	// Histograms
	RoundDuration metric.Float64Histogram
	PhaseDuration metric.Float64Histogram
	MessageBytes  metric.Int64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP
// exporters. Configuration comes from the standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function
// that must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("dcop")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

// NewInstruments builds instruments against the globally registered
// providers, for embedding in tests or custom setups.
func NewInstruments() (*Instruments, error) { return newInstruments() }

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)
	inst := &Instruments{
		Tracer: otel.Tracer(scopeName),
		Meter:  meter,
	}

	var err error
	if inst.RoundsTotal, err = meter.Int64Counter("dcop.rounds.total",
		metric.WithDescription("Completed DPOP rounds")); err != nil {
		return nil, err
	}
	if inst.MessagesReceived, err = meter.Int64Counter("dcop.messages.received",
		metric.WithDescription("Wire messages received")); err != nil {
		return nil, err
	}
	if inst.RoundDuration, err = meter.Float64Histogram("dcop.round.duration_ms",
		metric.WithDescription("Round wall time in milliseconds")); err != nil {
		return nil, err
	}
	if inst.PhaseDuration, err = meter.Float64Histogram("dcop.phase.duration_ms",
		metric.WithDescription("Per-phase wall time in milliseconds")); err != nil {
		return nil, err
	}
	if inst.MessageBytes, err = meter.Int64Histogram("dcop.message.bytes",
		metric.WithDescription("Received payload size in bytes")); err != nil {
		return nil, err
	}
	return inst, nil
}
