package armada

import (
	"context"
	"encoding/json"
	"time"
)

// MemoryRecord is one persisted memory entry.
type MemoryRecord struct {
	Key      string         `json:"key"`
	Data     any            `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// ExpiresAt is a Unix timestamp; zero means no expiry. A record whose
	// ExpiresAt is in the past is semantically absent.
	ExpiresAt int64 `json:"expires_at,omitempty"`
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// MemoryStats summarizes a memory store.
type MemoryStats struct {
	Records int   `json:"records"`
	Expired int   `json:"expired"`
	Oldest  int64 `json:"oldest,omitempty"`
	Newest  int64 `json:"newest,omitempty"`
}

// Memory is a durable keyed map with optional expiry and substring search.
// Store is an upsert on the unique key. Recall returns nil for absent or
// expired keys. Implementations live under memory/.
type Memory interface {
	// Store upserts data under key. ttl of zero means no expiry.
	Store(ctx context.Context, key string, data any, metadata map[string]any, ttl time.Duration) error
	// Recall returns the stored value, or nil when the key is absent or
	// expired.
	Recall(ctx context.Context, key string) (any, error)
	// Search substring-matches query against both key and serialized
	// data, newest first, respecting expiry.
	Search(ctx context.Context, query string, limit int) ([]MemoryRecord, error)
	Forget(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (MemoryStats, error)
	// Cleanup deletes expired records and returns the number deleted.
	Cleanup(ctx context.Context) (int, error)
}

// EncodeMemoryValue serializes a value from the supported algebra (maps,
// lists, numbers, strings, booleans, null) to its storage form.
func EncodeMemoryValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMemoryValue is the inverse of EncodeMemoryValue.
// Store(k, v) then Recall(k) round-trips any value in the algebra.
func DecodeMemoryValue(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
