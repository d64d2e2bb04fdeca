// Package driver provides database driver abstractions for agentmem.
//
// This package defines the interfaces that database drivers must implement
// to persist memory records. It enables support for multiple database
// backends (pgx/v5, database/sql) through a generic driver pattern; the SQL
// itself lives in driver/sqlstore and is shared by every driver.
package driver

import (
	"context"

	"github.com/youssefsiam38/agentmem/storage"
)

// Driver provides database operations for agentmem.
// TTx is the native transaction type (e.g., pgx.Tx for pgx/v5, *sql.Tx for database/sql).
//
// Implementations should be created using the driver-specific New() functions:
//   - github.com/youssefsiam38/agentmem/driver/pgxv5.New(pool)
//   - github.com/youssefsiam38/agentmem/driver/databasesql.New(db, dialect)
type Driver[TTx any] interface {
	Source

	// UnwrapExecutor converts a native transaction to an ExecutorTx.
	// This allows record writes to join a transaction owned by the caller.
	UnwrapExecutor(tx TTx) ExecutorTx

	// UnwrapTx extracts the native transaction from an ExecutorTx.
	UnwrapTx(execTx ExecutorTx) TTx

	// Begin starts a new transaction and returns an ExecutorTx.
	Begin(ctx context.Context) (ExecutorTx, error)

	// PoolIsSet returns true if the driver has a database pool configured.
	PoolIsSet() bool

	// GetStore returns a storage.Store backed by this driver.
	GetStore() storage.Store
}

// Source hands out the executor used when no transaction is carried in the
// context.
type Source interface {
	// GetExecutor returns an executor for non-transactional operations.
	// The returned Executor uses the underlying connection pool.
	GetExecutor() Executor
}
