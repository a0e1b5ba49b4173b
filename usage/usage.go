// Package usage records per-request token consumption and answers
// aggregate questions about it. Providers report counts through
// armada.Provider.LastUsage; the Tracked middleware turns those into
// append-only rows.
package usage

import (
	"context"
	"time"
)

// Record is one provider request's token consumption.
type Record struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// Cost is USD, nil when no pricing is known for the model.
	Cost      *float64
	Metadata  map[string]any
	CreatedAt int64
}

// Summary aggregates the last 30 days.
type Summary struct {
	MonthlyTokens        int64   `json:"monthly_tokens"`
	MonthlyRequests      int64   `json:"monthly_requests"`
	AvgTokensPerRequest  float64 `json:"avg_tokens_per_request"`
}

// Stat is one (provider, model) aggregate row.
type Stat struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Filter narrows Stats queries. Zero values mean no constraint; Days
// of zero means all time.
type Filter struct {
	Provider string
	Model    string
	Days     int
}

// Tracker is an append-only store of usage records.
type Tracker interface {
	// Track writes one record. CreatedAt of zero means now.
	Track(ctx context.Context, r Record) error
	// Summary aggregates the trailing 30 days.
	Summary(ctx context.Context) (Summary, error)
	// Stats returns per-(provider, model) aggregates matching f.
	Stats(ctx context.Context, f Filter) ([]Stat, error)
	// Cleanup deletes records older than days and reports how many.
	Cleanup(ctx context.Context, days int) (int, error)
}

func cutoff(now int64, days int) int64 {
	return now - int64(days)*int64(24*time.Hour/time.Second)
}
