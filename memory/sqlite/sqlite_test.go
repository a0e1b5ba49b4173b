package sqlite

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func open(t *testing.T) *Memory {
	t.Helper()
	m, err := Open(context.Background(), filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestStoreRecallRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := open(t)

	values := []any{
		"plain string",
		float64(42),
		true,
		nil,
		[]any{"a", float64(1), false},
		map[string]any{"nested": map[string]any{"k": "v"}, "n": float64(2)},
	}
	for i, v := range values {
		key := string(rune('a' + i))
		if err := m.Store(ctx, key, v, nil, 0); err != nil {
			t.Fatalf("Store(%v): %v", v, err)
		}
		got, err := m.Recall(ctx, key)
		if err != nil {
			t.Fatalf("Recall: %v", err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %v -> %v", v, got)
		}
	}
}

func TestRecallUnknownKeyIsNil(t *testing.T) {
	m := open(t)
	got, err := m.Recall(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("Recall = %v, %v", got, err)
	}
}

func TestStoreIsUpsert(t *testing.T) {
	ctx := context.Background()
	m := open(t)

	m.Store(ctx, "k", "first", nil, 0)
	m.Store(ctx, "k", "second", nil, 0)

	got, _ := m.Recall(ctx, "k")
	if got != "second" {
		t.Errorf("Recall = %v, want second", got)
	}
	st, _ := m.Stats(ctx)
	if st.Records != 1 {
		t.Errorf("records = %d, want 1", st.Records)
	}
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	m := open(t)

	// Write an already-expired row directly; TTLs are whole seconds so a
	// live test would sleep.
	if _, err := m.db.ExecContext(ctx, `INSERT INTO memory
		(id, key, data, expires_at, created_at, updated_at)
		VALUES ('x', 'gone', '"v"', 1, 1, 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	m.Store(ctx, "kept", "v", nil, time.Hour)

	if got, _ := m.Recall(ctx, "gone"); got != nil {
		t.Errorf("expired recall = %v", got)
	}
	if got, _ := m.Recall(ctx, "kept"); got != "v" {
		t.Errorf("live recall = %v", got)
	}
	if has, _ := m.Has(ctx, "gone"); has {
		t.Error("Has(expired) = true")
	}

	st, _ := m.Stats(ctx)
	if st.Records != 1 || st.Expired != 1 {
		t.Errorf("stats = %+v", st)
	}

	n, err := m.Cleanup(ctx)
	if err != nil || n != 1 {
		t.Errorf("Cleanup = %d, %v", n, err)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	m := open(t)

	m.Store(ctx, "recipe_1", map[string]any{"dish": "carbonara pasta"}, nil, 0)
	m.Store(ctx, "pasta_notes", "shapes and sauces", map[string]any{"source": "book"}, 0)
	m.Store(ctx, "unrelated", "gardening", nil, 0)

	// Matches key and serialized data.
	recs, err := m.Search(ctx, "pasta", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("matches = %d, want 2", len(recs))
	}
	// Newest first.
	if recs[0].Key != "pasta_notes" {
		t.Errorf("order = %v, %v", recs[0].Key, recs[1].Key)
	}
	if recs[0].Metadata["source"] != "book" {
		t.Errorf("metadata = %v", recs[0].Metadata)
	}

	recs, _ = m.Search(ctx, "pasta", 1)
	if len(recs) != 1 {
		t.Errorf("limit ignored: %d", len(recs))
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	m := open(t)

	m.Store(ctx, "pct", "100% done", nil, 0)
	m.Store(ctx, "other", "fully done", nil, 0)

	recs, err := m.Search(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(recs) != 1 || recs[0].Key != "pct" {
		t.Errorf("recs = %+v", recs)
	}
}

func TestForgetAndClear(t *testing.T) {
	ctx := context.Background()
	m := open(t)

	m.Store(ctx, "a", 1, nil, 0)
	m.Store(ctx, "b", 2, nil, 0)

	m.Forget(ctx, "a")
	if has, _ := m.Has(ctx, "a"); has {
		t.Error("a survived Forget")
	}

	m.Clear(ctx)
	if got, _ := m.Recall(ctx, "b"); got != nil {
		t.Errorf("b survived Clear: %v", got)
	}
	st, _ := m.Stats(ctx)
	if st.Records != 0 {
		t.Errorf("records = %d", st.Records)
	}
}
