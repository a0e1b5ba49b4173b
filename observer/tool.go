package observer

import (
	"context"
	"time"

	armada "github.com/armadahq/armada"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps an armada.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner armada.Tool
	inst  *Instruments
}

var _ armada.Tool = (*ObservedTool)(nil)

// WrapTool returns an instrumented tool that emits a span and metrics
// per execution.
func WrapTool(inner armada.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Name() string                    { return o.inner.Name() }
func (o *ObservedTool) Description() string             { return o.inner.Description() }
func (o *ObservedTool) Schema() map[string]armada.Field { return o.inner.Schema() }

func (o *ObservedTool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, input)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrToolStatus.String(status))

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(o.inner.Name()),
	))
	return result, err
}
