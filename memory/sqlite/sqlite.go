// Package sqlite implements armada.Memory using pure-Go SQLite. Values
// are stored as JSON text; search is a LIKE scan over key and payload.
//
// Swap in a different backend (e.g. Postgres) by implementing
// armada.Memory with your own package.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	armada "github.com/armadahq/armada"
	_ "modernc.org/sqlite"
)

// Memory implements armada.Memory backed by a local SQLite file.
type Memory struct {
	db *sql.DB
}

var _ armada.Memory = (*Memory)(nil)

// Open opens (creating if needed) the store at dbPath and ensures the
// schema. Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, dbPath string) (*Memory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	m := &Memory{db: db}
	if err := m.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the underlying database handle.
func (m *Memory) Close() error { return m.db.Close() }

func (m *Memory) init(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS memory (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		data TEXT NOT NULL,
		metadata TEXT,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_memory_expires ON memory(expires_at)`)
	if err != nil {
		return err
	}
	_, err = m.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_memory_updated ON memory(updated_at)`)
	return err
}

// Store upserts data under key. ttl of zero means no expiry.
func (m *Memory) Store(ctx context.Context, key string, data any, metadata map[string]any, ttl time.Duration) error {
	encoded, err := armada.EncodeMemoryValue(data)
	if err != nil {
		return err
	}
	var metaText sql.NullString
	if metadata != nil {
		meta, err := armada.EncodeMemoryValue(metadata)
		if err != nil {
			return err
		}
		metaText = sql.NullString{String: meta, Valid: true}
	}
	now := armada.NowUnix()
	var expires sql.NullInt64
	if ttl > 0 {
		expires = sql.NullInt64{Int64: now + int64(ttl/time.Second), Valid: true}
	}

	_, err = m.db.ExecContext(ctx, `INSERT INTO memory
		(id, key, data, metadata, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			metadata = excluded.metadata,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		armada.NewID(), key, encoded, metaText, expires, now, now)
	return err
}

// Recall returns the stored value, or nil when key is absent or expired.
func (m *Memory) Recall(ctx context.Context, key string) (any, error) {
	var encoded string
	err := m.db.QueryRowContext(ctx,
		`SELECT data FROM memory WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, armada.NowUnix()).Scan(&encoded)
	if err == sql.ErrNoRows {
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
	rows, err := m.db.QueryContext(ctx, `SELECT key, data, metadata, expires_at, created_at, updated_at
		FROM memory
		WHERE (key LIKE ? ESCAPE '\' OR data LIKE ? ESCAPE '\')
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`,
		pattern, pattern, armada.NowUnix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []armada.MemoryRecord
	for rows.Next() {
		var (
			rec      armada.MemoryRecord
			encoded  string
			metaText sql.NullString
			expires  sql.NullInt64
		)
		if err := rows.Scan(&rec.Key, &encoded, &metaText, &expires, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.Data, err = armada.DecodeMemoryValue(encoded); err != nil {
			return nil, err
		}
		if metaText.Valid {
			meta, err := armada.DecodeMemoryValue(metaText.String)
			if err != nil {
				return nil, err
			}
			if mm, ok := meta.(map[string]any); ok {
				rec.Metadata = mm
			}
		}
		if expires.Valid {
			rec.ExpiresAt = expires.Int64
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Forget deletes the record under key.
func (m *Memory) Forget(ctx context.Context, key string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM memory WHERE key = ?`, key)
	return err
}

// Clear deletes every record.
func (m *Memory) Clear(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM memory`)
	return err
}

// Has reports whether key exists and has not expired.
func (m *Memory) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := m.db.QueryRowContext(ctx,
		`SELECT 1 FROM memory WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, armada.NowUnix()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stats summarizes the store: live and expired record counts plus the
// oldest and newest creation timestamps among live records.
func (m *Memory) Stats(ctx context.Context) (armada.MemoryStats, error) {
	var st armada.MemoryStats
	now := armada.NowUnix()
	err := m.db.QueryRowContext(ctx, `SELECT
			COUNT(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 END),
			COUNT(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 END),
			COALESCE(MIN(CASE WHEN expires_at IS NULL OR expires_at > ? THEN created_at END), 0),
			COALESCE(MAX(CASE WHEN expires_at IS NULL OR expires_at > ? THEN created_at END), 0)
		FROM memory`, now, now, now, now).
		Scan(&st.Records, &st.Expired, &st.Oldest, &st.Newest)
	return st, err
}

// Cleanup deletes expired records and returns the number deleted.
func (m *Memory) Cleanup(ctx context.Context) (int, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM memory WHERE expires_at IS NOT NULL AND expires_at <= ?`, armada.NowUnix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Prune deletes records not updated in the given number of days and
// returns the number deleted.
func (m *Memory) Prune(ctx context.Context, days int) (int, error) {
	cutoff := armada.NowUnix() - int64(days)*86400
	res, err := m.db.ExecContext(ctx, `DELETE FROM memory WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// escapeLike escapes LIKE wildcards in user queries.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
