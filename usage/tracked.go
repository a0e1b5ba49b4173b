package usage

import (
	"context"
	"log/slog"

	armada "github.com/armadahq/armada"
)

// TrackedOption configures the Tracked middleware.
type TrackedOption func(*trackedProvider)

// TrackedPricing sets the pricing table used to derive cost. Without
// one, rows are written with no cost.
func TrackedPricing(p *Pricing) TrackedOption {
	return func(t *trackedProvider) { t.pricing = p }
}

// TrackedMetadata attaches fixed metadata to every recorded row.
func TrackedMetadata(m map[string]any) TrackedOption {
	return func(t *trackedProvider) { t.metadata = m }
}

// TrackedLogger sets the logger used when recording fails.
func TrackedLogger(l *slog.Logger) TrackedOption {
	return func(t *trackedProvider) { t.logger = l }
}

// Tracked wraps a provider so every request that reports token usage
// appends exactly one row to tracker. Recording failures are logged,
// never surfaced to the caller.
func Tracked(p armada.Provider, tracker Tracker, opts ...TrackedOption) armada.Provider {
	t := &trackedProvider{inner: p, tracker: tracker, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type trackedProvider struct {
	inner    armada.Provider
	tracker  Tracker
	pricing  *Pricing
	metadata map[string]any
	logger   *slog.Logger
}

var _ armada.Provider = (*trackedProvider)(nil)

func (t *trackedProvider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	out, err := t.inner.Generate(ctx, prompt, opts)
	if err == nil {
		t.record(ctx)
	}
	return out, err
}

func (t *trackedProvider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	out, err := t.inner.Stream(ctx, prompt, opts, ch)
	if err == nil {
		t.record(ctx)
	}
	return out, err
}

func (t *trackedProvider) record(ctx context.Context) {
	u, ok := t.inner.LastUsage()
	if !ok {
		return
	}
	r := Record{
		Provider:         t.inner.Name(),
		Model:            t.inner.Model(),
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.Total(),
		Metadata:         t.metadata,
	}
	if t.pricing != nil {
		if cost, ok := t.pricing.Cost(r.Model, r.PromptTokens, r.CompletionTokens); ok {
			r.Cost = &cost
		}
	}
	if err := t.tracker.Track(ctx, r); err != nil {
		t.logger.Warn("usage tracking failed",
			"provider", r.Provider, "model", r.Model, "error", err)
	}
}

func (t *trackedProvider) Name() string                    { return t.inner.Name() }
func (t *trackedProvider) Model() string                   { return t.inner.Model() }
func (t *trackedProvider) Modes() []armada.Mode            { return t.inner.Modes() }
func (t *trackedProvider) SetMode(m armada.Mode) error     { return t.inner.SetMode(m) }
func (t *trackedProvider) SupportsMode(m armada.Mode) bool { return t.inner.SupportsMode(m) }
func (t *trackedProvider) LastUsage() (armada.Usage, bool) { return t.inner.LastUsage() }
