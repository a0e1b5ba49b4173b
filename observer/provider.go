package observer

import (
	"context"
	"time"

	armada "github.com/armadahq/armada"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps an armada.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner armada.Provider
	inst  *Instruments
}

var _ armada.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider that emits traces,
// metrics, and logs around every request.
func WrapProvider(inner armada.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string                    { return o.inner.Name() }
func (o *ObservedProvider) Model() string                   { return o.inner.Model() }
func (o *ObservedProvider) Modes() []armada.Mode            { return o.inner.Modes() }
func (o *ObservedProvider) SetMode(m armada.Mode) error     { return o.inner.SetMode(m) }
func (o *ObservedProvider) SupportsMode(m armada.Mode) bool { return o.inner.SupportsMode(m) }
func (o *ObservedProvider) LastUsage() (armada.Usage, bool) { return o.inner.LastUsage() }

func (o *ObservedProvider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		AttrLLMModel.String(o.inner.Model()),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	out, err := o.inner.Generate(ctx, prompt, opts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.record(ctx, span, "generate", status, durationMs)
	return out, err
}

func (o *ObservedProvider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		AttrLLMModel.String(o.inner.Model()),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	// Forward through an intermediate channel to count chunks. Buffer
	// it generously so the inner provider never blocks on send while
	// the caller is not yet draining ch.
	mid := make(chan string, max(cap(ch), 64))
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for chunk := range mid {
			chunks++
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	out, err := o.inner.Stream(ctx, prompt, opts, mid)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, "stream", status, durationMs)
	return out, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, status string, durationMs float64) {
	model, provider := o.inner.Model(), o.inner.Name()

	var u armada.Usage
	if reported, ok := o.inner.LastUsage(); ok {
		u = reported
	}
	cost, _ := o.inst.Pricing.Cost(model, u.PromptTokens, u.CompletionTokens)

	attrs := metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(provider),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(u.PromptTokens),
		AttrTokensOutput.Int(u.CompletionTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(u.PromptTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(provider),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(u.CompletionTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(provider),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(provider),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", model),
		otellog.String("llm.provider", provider),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", u.PromptTokens),
		otellog.Int("llm.tokens.output", u.CompletionTokens),
		otellog.Float64("llm.cost_usd", cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
