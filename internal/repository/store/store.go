// Package store opens the configured key-value backend.
package store

import (
	"fmt"

	"pitara-engine/internal/repository"
	"pitara-engine/internal/repository/file"
	"pitara-engine/internal/repository/memory"
	"pitara-engine/internal/repository/sqldb"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Options struct {
	Backend     string
	Dir         string
	SQLitePath  string
	PostgresDSN string
}

// Open returns an uninitialized store; callers run Init before use.
func Open(opts Options) (repository.KVStore, error) {
	switch opts.Backend {
	case BackendMemory:
		return memory.NewKVStore(), nil
	case BackendFile:
		return file.NewKVStore(opts.Dir), nil
	case BackendSQLite, "":
		db, err := sqldb.OpenSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return sqldb.NewKVRepository(db, sqldb.DialectSQLite), nil
	case BackendPostgres:
		db, err := sqldb.OpenPostgres(opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return sqldb.NewKVRepository(db, sqldb.DialectPostgres), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
