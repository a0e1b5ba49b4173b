package usage

import (
	"context"
	"testing"

	armada "github.com/armadahq/armada"
)

func openTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	tr, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTrackAndSummary(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	tr.Track(ctx, Record{Provider: "openai", Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 20})
	tr.Track(ctx, Record{Provider: "openai", Model: "gpt-4o", PromptTokens: 5, CompletionTokens: 5})

	s, err := tr.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.MonthlyTokens != 40 || s.MonthlyRequests != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.AvgTokensPerRequest != 20 {
		t.Errorf("avg = %v", s.AvgTokensPerRequest)
	}
}

func TestSummaryIgnoresOldRows(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	old := cutoff(armada.NowUnix(), 31)
	tr.Track(ctx, Record{Provider: "p", Model: "m", TotalTokens: 100, CreatedAt: old})
	tr.Track(ctx, Record{Provider: "p", Model: "m", PromptTokens: 3, CompletionTokens: 4})

	s, _ := tr.Summary(ctx)
	if s.MonthlyRequests != 1 || s.MonthlyTokens != 7 {
		t.Errorf("summary = %+v", s)
	}
}

func TestStatsGroupingAndFilters(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	cost := 0.5
	tr.Track(ctx, Record{Provider: "openai", Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 10, Cost: &cost})
	tr.Track(ctx, Record{Provider: "openai", Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 10, Cost: &cost})
	tr.Track(ctx, Record{Provider: "ollama", Model: "llama3", PromptTokens: 1, CompletionTokens: 1})

	stats, err := tr.Stats(ctx, Filter{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("groups = %d, want 2", len(stats))
	}
	// Largest total first.
	if stats[0].Provider != "openai" || stats[0].Requests != 2 || stats[0].TotalTokens != 40 {
		t.Errorf("stats[0] = %+v", stats[0])
	}
	if stats[0].Cost != 1.0 {
		t.Errorf("cost = %v", stats[0].Cost)
	}

	stats, _ = tr.Stats(ctx, Filter{Provider: "ollama"})
	if len(stats) != 1 || stats[0].Model != "llama3" {
		t.Errorf("filtered = %+v", stats)
	}

	stats, _ = tr.Stats(ctx, Filter{Model: "nonesuch"})
	if len(stats) != 0 {
		t.Errorf("unexpected rows: %+v", stats)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)

	tr.Track(ctx, Record{Provider: "p", Model: "m", TotalTokens: 1, CreatedAt: cutoff(armada.NowUnix(), 100)})
	tr.Track(ctx, Record{Provider: "p", Model: "m", PromptTokens: 1})

	n, err := tr.Cleanup(ctx, 30)
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
	s, _ := tr.Summary(ctx)
	if s.MonthlyRequests != 1 {
		t.Errorf("requests = %d", s.MonthlyRequests)
	}
}

func TestPricing(t *testing.T) {
	p := NewPricing(map[string]ModelPricing{"custom-model": {1.00, 2.00}})

	got, ok := p.Cost("custom-model", 1_000_000, 500_000)
	if !ok || got != 2.00 {
		t.Errorf("cost = %v, %v", got, ok)
	}
	if got, ok := p.Cost("gpt-4o", 1_000_000, 0); !ok || got != 2.50 {
		t.Errorf("default cost = %v, %v", got, ok)
	}
	if _, ok := p.Cost("unknown-model", 1, 1); ok {
		t.Error("unknown model should not price")
	}
}

type usageProvider struct {
	usage    armada.Usage
	reported bool
}

func (u *usageProvider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	return "out", nil
}

func (u *usageProvider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	ch <- "out"
	close(ch)
	return "out", nil
}

func (u *usageProvider) Name() string                    { return "openai" }
func (u *usageProvider) Model() string                   { return "gpt-4o" }
func (u *usageProvider) Modes() []armada.Mode            { return []armada.Mode{armada.ModeChat} }
func (u *usageProvider) SetMode(m armada.Mode) error     { return nil }
func (u *usageProvider) SupportsMode(m armada.Mode) bool { return m == armada.ModeChat }
func (u *usageProvider) LastUsage() (armada.Usage, bool) { return u.usage, u.reported }

func TestTrackedRecordsOneRowPerGenerate(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)
	inner := &usageProvider{usage: armada.Usage{PromptTokens: 7, CompletionTokens: 3}, reported: true}
	p := Tracked(inner, tr, TrackedPricing(NewPricing(nil)))

	if _, err := p.Generate(ctx, "hi", armada.GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	stats, _ := tr.Stats(ctx, Filter{})
	if len(stats) != 1 || stats[0].Requests != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Provider != "openai" || stats[0].Model != "gpt-4o" || stats[0].TotalTokens != 10 {
		t.Errorf("row = %+v", stats[0])
	}
	if stats[0].Cost == 0 {
		t.Error("cost should be derived from pricing")
	}
}

func TestTrackedSkipsWhenNoUsageReported(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)
	p := Tracked(&usageProvider{reported: false}, tr)

	p.Generate(ctx, "hi", armada.GenerateOptions{})

	s, _ := tr.Summary(ctx)
	if s.MonthlyRequests != 0 {
		t.Errorf("requests = %d, want 0", s.MonthlyRequests)
	}
}

func TestTrackedRecordsStream(t *testing.T) {
	ctx := context.Background()
	tr := openTracker(t)
	inner := &usageProvider{usage: armada.Usage{PromptTokens: 1, CompletionTokens: 1}, reported: true}
	p := Tracked(inner, tr)

	ch := make(chan string, 4)
	if _, err := p.Stream(ctx, "hi", armada.GenerateOptions{}, ch); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	s, _ := tr.Summary(ctx)
	if s.MonthlyRequests != 1 || s.MonthlyTokens != 2 {
		t.Errorf("summary = %+v", s)
	}
}
