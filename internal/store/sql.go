package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the placeholder style of the SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// SQL is a KV on top of the kv_fields, kv_lists and session_registry tables
// (see internal/database/migrations).
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv_fields WHERE name = ?`), key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *SQL) MGet(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := fmt.Sprintf(`SELECT name, value FROM kv_fields WHERE name IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", "))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	defer rows.Close()

	found := make(map[string]string, len(keys))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		found[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make([]string, len(keys))
	for i, k := range keys {
		v, ok := found[k]
		if !ok {
			return nil, fmt.Errorf("get %s: %w", k, ErrNotFound)
		}
		out[i] = v
	}
	return out, nil
}

func (s *SQL) MSet(ctx context.Context, fields map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert := s.rebind(`INSERT INTO kv_fields (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`)
	for k, v := range fields {
		if _, err := tx.ExecContext(ctx, upsert, k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) RPush(ctx context.Context, key string, values ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var last int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(seq), -1) FROM kv_lists WHERE name = ?`), key).Scan(&last)
	if err != nil {
		return fmt.Errorf("list tail %s: %w", key, err)
	}

	insert := s.rebind(`INSERT INTO kv_lists (name, seq, value) VALUES (?, ?, ?)`)
	for i, v := range values {
		if _, err := tx.ExecContext(ctx, insert, key, last+1+int64(i), v); err != nil {
			return fmt.Errorf("push %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) LRange(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT value FROM kv_lists WHERE name = ? ORDER BY seq ASC`), key)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan list value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQL) Del(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM kv_fields WHERE name = ?`), k); err != nil {
			return fmt.Errorf("delete field %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM kv_lists WHERE name = ?`), k); err != nil {
			return fmt.Errorf("delete list %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) Register(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO session_registry (id) VALUES (?)`), id)
	if err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	return nil
}

func (s *SQL) Registered(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM session_registry WHERE id = ?`), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQL) Unregister(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_registry WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", id, err)
	}
	return nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
