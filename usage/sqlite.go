package usage

import (
	"context"
	"database/sql"

	armada "github.com/armadahq/armada"
	_ "modernc.org/sqlite"
)

// SQLiteTracker implements Tracker on a local SQLite file.
type SQLiteTracker struct {
	db *sql.DB
}

var _ Tracker = (*SQLiteTracker)(nil)

// Open opens (creating if needed) the tracker at dbPath and ensures
// the schema. Use ":memory:" for an ephemeral tracker.
func Open(ctx context.Context, dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	t := &SQLiteTracker{db: db}
	if err := t.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the underlying database handle.
func (t *SQLiteTracker) Close() error { return t.db.Close() }

func (t *SQLiteTracker) init(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS token_usage (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		total_tokens INTEGER NOT NULL,
		cost REAL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_pmc ON token_usage(provider, model, created_at)`)
	return err
}

// Track writes one record. Missing TotalTokens is derived from the
// prompt and completion counts.
func (t *SQLiteTracker) Track(ctx context.Context, r Record) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = armada.NowUnix()
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	var metaText sql.NullString
	if r.Metadata != nil {
		meta, err := armada.EncodeMemoryValue(r.Metadata)
		if err != nil {
			return err
		}
		metaText = sql.NullString{String: meta, Valid: true}
	}
	var cost sql.NullFloat64
	if r.Cost != nil {
		cost = sql.NullFloat64{Float64: *r.Cost, Valid: true}
	}
	_, err := t.db.ExecContext(ctx, `INSERT INTO token_usage
		(id, provider, model, prompt_tokens, completion_tokens, total_tokens, cost, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		armada.NewID(), r.Provider, r.Model,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		cost, metaText, r.CreatedAt)
	return err
}

// Summary aggregates the trailing 30 days.
func (t *SQLiteTracker) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	since := cutoff(armada.NowUnix(), 30)
	err := t.db.QueryRowContext(ctx, `SELECT
			COALESCE(SUM(total_tokens), 0),
			COUNT(*),
			COALESCE(AVG(total_tokens), 0)
		FROM token_usage WHERE created_at >= ?`, since).
		Scan(&s.MonthlyTokens, &s.MonthlyRequests, &s.AvgTokensPerRequest)
	return s, err
}

// Stats returns per-(provider, model) aggregates matching f, largest
// token totals first.
func (t *SQLiteTracker) Stats(ctx context.Context, f Filter) ([]Stat, error) {
	q := `SELECT provider, model, COUNT(*),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(total_tokens), 0),
			COALESCE(SUM(cost), 0)
		FROM token_usage WHERE 1=1`
	var args []any
	if f.Provider != "" {
		q += ` AND provider = ?`
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		q += ` AND model = ?`
		args = append(args, f.Model)
	}
	if f.Days > 0 {
		q += ` AND created_at >= ?`
		args = append(args, cutoff(armada.NowUnix(), f.Days))
	}
	q += ` GROUP BY provider, model ORDER BY SUM(total_tokens) DESC`

	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stat
	for rows.Next() {
		var st Stat
		if err := rows.Scan(&st.Provider, &st.Model, &st.Requests,
			&st.PromptTokens, &st.CompletionTokens, &st.TotalTokens, &st.Cost); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Cleanup deletes records older than days and returns the number
// deleted.
func (t *SQLiteTracker) Cleanup(ctx context.Context, days int) (int, error) {
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM token_usage WHERE created_at < ?`, cutoff(armada.NowUnix(), days))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
