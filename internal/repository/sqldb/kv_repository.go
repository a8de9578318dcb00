package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pitara-engine/internal/repository"
)

// Dialect selects placeholder and upsert syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const createKVTableSQLite = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const createKVTablePostgres = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type KVRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewKVRepository(db *sql.DB, dialect Dialect) repository.KVStore {
	return &KVRepository{db: db, dialect: dialect}
}

func (r *KVRepository) Init(ctx context.Context) error {
	ddl := createKVTableSQLite
	if r.dialect == DialectPostgres {
		ddl = createKVTablePostgres
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create kv_entries table: %w", err)
	}
	return nil
}

func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT value FROM kv_entries WHERE key=?`), key)

	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get kv entry %s: %w", key, err)
	}
	return value, true, nil
}

func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`
INSERT INTO kv_entries (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`),
		key,
		value,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set kv entry %s: %w", key, err)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM kv_entries WHERE key=?`), key); err != nil {
		return fmt.Errorf("delete kv entry %s: %w", key, err)
	}
	return nil
}

func (r *KVRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *KVRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprint(n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

var _ repository.KVStore = (*KVRepository)(nil)
