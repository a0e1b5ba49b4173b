// Package postgres implements armada.Memory using PostgreSQL via pgx.
//
// The Memory accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	armada "github.com/armadahq/armada"
)

// Memory implements armada.Memory backed by PostgreSQL.
type Memory struct {
	pool  *pgxpool.Pool
	table string
}

var _ armada.Memory = (*Memory)(nil)

// Option configures a Memory.
type Option func(*Memory)

// WithTable overrides the table name (default "memory"). Useful when
// several stores share one database.
func WithTable(name string) Option {
	return func(m *Memory) { m.table = name }
}

// New creates a Memory using an existing pgxpool.Pool. The caller owns
// the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Memory {
	m := &Memory{pool: pool, table: "memory"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init ensures the schema. Call once at startup.
func (m *Memory) Init(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+m.table+` (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		data JSONB NOT NULL,
		metadata JSONB,
		expires_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_`+m.table+`_expires ON `+m.table+`(expires_at)`)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_`+m.table+`_updated ON `+m.table+`(updated_at)`)
	return err
}

// Store upserts data under key. ttl of zero means no expiry.
func (m *Memory) Store(ctx context.Context, key string, data any, metadata map[string]any, ttl time.Duration) error {
	encoded, err := armada.EncodeMemoryValue(data)
	if err != nil {
		return err
	}
	var metaText *string
	if metadata != nil {
		meta, err := armada.EncodeMemoryValue(metadata)
		if err != nil {
			return err
		}
		metaText = &meta
	}
	now := armada.NowUnix()
	var expires *int64
	if ttl > 0 {
		e := now + int64(ttl/time.Second)
		expires = &e
	}

	_, err = m.pool.Exec(ctx, `INSERT INTO `+m.table+`
		(id, key, data, metadata, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			metadata = EXCLUDED.metadata,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		armada.NewID(), key, encoded, metaText, expires, now, now)
	return err
}

// Recall returns the stored value, or nil when key is absent or expired.
func (m *Memory) Recall(ctx context.Context, key string) (any, error) {
	var encoded string
	err := m.pool.QueryRow(ctx,
		`SELECT data::text FROM `+m.table+` WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, armada.NowUnix()).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return armada.DecodeMemoryValue(encoded)
}

// Search substring-matches query against key and serialized data, newest
// first, skipping expired records.
func (m *Memory) Search(ctx context.Context, query string, limit int) ([]armada.MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := m.pool.Query(ctx, `SELECT key, data::text, metadata::text, expires_at, created_at, updated_at
		FROM `+m.table+`
		WHERE (key LIKE $1 OR data::text LIKE $1)
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY updated_at DESC, id DESC
		LIMIT $3`,
		pattern, armada.NowUnix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []armada.MemoryRecord
	for rows.Next() {
		var (
			rec      armada.MemoryRecord
			encoded  string
			metaText *string
			expires  *int64
		)
		if err := rows.Scan(&rec.Key, &encoded, &metaText, &expires, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.Data, err = armada.DecodeMemoryValue(encoded); err != nil {
			return nil, err
		}
		if metaText != nil {
			meta, err := armada.DecodeMemoryValue(*metaText)
			if err != nil {
				return nil, err
			}
			if mm, ok := meta.(map[string]any); ok {
				rec.Metadata = mm
			}
		}
		if expires != nil {
			rec.ExpiresAt = *expires
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Forget deletes the record under key.
func (m *Memory) Forget(ctx context.Context, key string) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM `+m.table+` WHERE key = $1`, key)
	return err
}

// Clear deletes every record.
func (m *Memory) Clear(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `DELETE FROM `+m.table)
	return err
}

// Has reports whether key exists and has not expired.
func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := m.pool.QueryRow(ctx,
		`SELECT 1 FROM `+m.table+` WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, armada.NowUnix()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the store.
func (m *Memory) Stats(ctx context.Context) (armada.MemoryStats, error) {
	var st armada.MemoryStats
	now := armada.NowUnix()
	err := m.pool.QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE expires_at IS NULL OR expires_at > $1),
			COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $1),
			COALESCE(MIN(created_at) FILTER (WHERE expires_at IS NULL OR expires_at > $1), 0),
			COALESCE(MAX(created_at) FILTER (WHERE expires_at IS NULL OR expires_at > $1), 0)
		FROM `+m.table, now).
		Scan(&st.Records, &st.Expired, &st.Oldest, &st.Newest)
	return st, err
}

// Cleanup deletes expired records and returns the number deleted.
func (m *Memory) Cleanup(ctx context.Context) (int, error) {
	tag, err := m.pool.Exec(ctx,
		`DELETE FROM `+m.table+` WHERE expires_at IS NOT NULL AND expires_at <= $1`, armada.NowUnix())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Prune deletes records not updated in the given number of days and
// returns the number deleted.
func (m *Memory) Prune(ctx context.Context, days int) (int, error) {
	cutoff := armada.NowUnix() - int64(days)*86400
	tag, err := m.pool.Exec(ctx, `DELETE FROM `+m.table+` WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
