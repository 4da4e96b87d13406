package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider  *sdktrace.TracerProvider
	ChainCounter   metric.Int64Counter
	DecisionTotal  metric.Int64Counter
	ScoringFailure metric.Int64Counter
	GenUnavailable metric.Int64Counter
	DimensionScore metric.Float64Histogram
	ChainDuration  metric.Int64Histogram
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "gate-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	chainCounter, _ := meter.Int64Counter("gate_chain_total")
	decisionTotal, _ := meter.Int64Counter("gate_decision_total")
	scoringFailure, _ := meter.Int64Counter("gate_scoring_failure_total")
	genUnavailable, _ := meter.Int64Counter("gate_generation_unavailable_total")
	dimensionScore, _ := meter.Float64Histogram("gate_dimension_score")
	chainDuration, _ := meter.Int64Histogram("gate_chain_duration_ms")
	return &Observability{
		Tracer:         tracer,
		Meter:          meter,
		traceProvider:  tp,
		ChainCounter:   chainCounter,
		DecisionTotal:  decisionTotal,
		ScoringFailure: scoringFailure,
		GenUnavailable: genUnavailable,
		DimensionScore: dimensionScore,
		ChainDuration:  chainDuration,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkChain(ctx context.Context, outcome string, durationMS int64) {
	if o == nil {
		return
	}
	o.ChainCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	o.ChainDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) MarkDecision(ctx context.Context, action string) {
	if o == nil {
		return
	}
	o.DecisionTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
	))
}

func (o *Observability) MarkGenerationUnavailable(ctx context.Context) {
	if o == nil {
		return
	}
	o.GenUnavailable.Add(ctx, 1)
}

func (o *Observability) MarkScoringFailure(ctx context.Context, dimension string) {
	if o == nil {
		return
	}
	o.ScoringFailure.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dimension", dimension),
	))
}

func (o *Observability) MarkDimensionScore(ctx context.Context, dimension string, value float64) {
	if o == nil {
		return
	}
	o.DimensionScore.Record(ctx, value, metric.WithAttributes(
		attribute.String("dimension", dimension),
	))
}
