// Package database provides the built-in "database" tool: run a
// parameterized SQL statement against a configured database/sql handle.
package database

import (
	"context"
	"fmt"
	"strings"

	"database/sql"

	armada "github.com/armadahq/armada"
	_ "modernc.org/sqlite"
)

const maxRows = 100

// Tool runs SQL statements against one database handle.
type Tool struct {
	db *sql.DB
}

var _ armada.Tool = (*Tool)(nil)

// New wraps an existing handle. The caller owns the handle and closes
// it.
func New(db *sql.DB) *Tool {
	return &Tool{db: db}
}

// Open creates the tool over its own connection. driver defaults to
// "sqlite" when empty.
func Open(driver, dsn string) (*Tool, error) {
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	return &Tool{db: db}, nil
}

// Close releases the underlying handle.
func (t *Tool) Close() error { return t.db.Close() }

func (t *Tool) Name() string { return "database" }

func (t *Tool) Description() string {
	return "Run a parameterized SQL statement. type selects select, insert, update, or delete; selects return at most 100 rows."
}

func (t *Tool) Schema() map[string]armada.Field {
	return map[string]armada.Field{
		"query": {Required: true, Type: "string", MaxLength: 4096},
		// type defaults to "select" and must match the statement verb.
		"type":   {Type: "string", MaxLength: 16},
		"params": {Type: "array"},
	}
}

func (t *Tool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	query, _ := input["query"].(string)
	kind, _ := input["type"].(string)
	if kind == "" {
		kind = "select"
	}
	if err := checkVerb(query, kind); err != nil {
		return nil, err
	}
	var params []any
	if raw, ok := input["params"].([]any); ok {
		params = raw
	}

	if kind != "select" {
		res, err := t.db.ExecContext(ctx, query, params...)
		if err != nil {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		affected, _ := res.RowsAffected()
		return map[string]any{"rows_affected": int(affected)}, nil
	}

	rows, err := t.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
		if len(out) == maxRows {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return map[string]any{"columns": cols, "rows": out, "count": len(out)}, nil
}

// checkVerb rejects statements whose leading keyword does not match the
// declared type. SELECT also admits WITH for CTEs.
func checkVerb(query, kind string) error {
	q := strings.ToUpper(strings.TrimSpace(query))
	switch kind {
	case "select":
		if strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH") {
			return nil
		}
	case "insert", "update", "delete":
		if strings.HasPrefix(q, strings.ToUpper(kind)) {
			return nil
		}
	default:
		return fmt.Errorf("unknown statement type: %s", kind)
	}
	return fmt.Errorf("statement does not match declared type %q", kind)
}
