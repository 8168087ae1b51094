package telemetry

import (
	"context"

	"github.com/irfndi/regimebot/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer opens spans for the stages of a trading cycle.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a new instance of BusinessTracer.
func NewBusinessTracer(tracer trace.Tracer) *BusinessTracer {
	return &BusinessTracer{tracer: tracer}
}

// TraceCycle starts the root span of one cycle.
func (bt *BusinessTracer) TraceCycle(ctx context.Context, symbol, cycleID string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "cycle",
		trace.WithAttributes(
			attribute.String("symbol", symbol),
			attribute.String("cycle.id", cycleID),
		),
	)
}

// TraceStage starts a child span for a pipeline stage such as "fetch" or "commit".
func (bt *BusinessTracer) TraceStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "cycle."+stage, trace.WithAttributes(attribute.String("stage", stage)))
}

// RecordDecision annotates the span with the routed intent and risk outcome.
func (bt *BusinessTracer) RecordDecision(span trace.Span, intent models.RoutedIntent, decision models.RiskDecision) {
	span.SetAttributes(
		attribute.String("regime", string(intent.Regime)),
		attribute.String("intent", string(intent.Intent)),
		attribute.String("intent.source", string(intent.Source)),
		attribute.String("intent.rationale", intent.Rationale),
		attribute.Bool("risk.approved", decision.Approved),
		attribute.String("risk.reason", decision.Reason),
		attribute.String("risk.quantity", decision.Quantity.String()),
	)
}

// RecordFill adds a fill event to the span.
func (bt *BusinessTracer) RecordFill(span trace.Span, fill models.Fill) {
	span.AddEvent("fill", trace.WithAttributes(
		attribute.String("fill.id", fill.ID),
		attribute.String("fill.side", string(fill.Side)),
		attribute.String("fill.reason", fill.Reason),
		attribute.String("fill.price", fill.Price.String()),
		attribute.String("fill.quantity", fill.Quantity.String()),
	))
}

// RecordError marks the span failed.
func (bt *BusinessTracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
