// Package databasesql provides a database/sql driver implementation for agentmem.
//
// It works with any database/sql connection whose SQL matches one of the
// sqlstore dialects: PostgreSQL through lib/pq, or SQLite through
// mattn/go-sqlite3.
//
// Usage:
//
//	db, _ := databasesql.Open(sqlstore.DialectSQLite, "file:memory.db")
//	drv := databasesql.New(db, sqlstore.DialectSQLite)
//	store := drv.GetStore()
package databasesql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/youssefsiam38/agentmem/driver"
	"github.com/youssefsiam38/agentmem/driver/sqlstore"
	"github.com/youssefsiam38/agentmem/storage"
)

// Driver implements driver.Driver using database/sql.
type Driver struct {
	db      *sql.DB
	dialect sqlstore.Dialect
}

// New creates a new database/sql driver using the provided connection.
func New(db *sql.DB, dialect sqlstore.Dialect) *Driver {
	return &Driver{db: db, dialect: dialect}
}

// Open opens a *sql.DB for dialect using the registered lib/pq or
// go-sqlite3 driver.
func Open(dialect sqlstore.Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case sqlstore.DialectPostgres:
		return sql.Open("postgres", dsn)
	case sqlstore.DialectSQLite:
		return sql.Open("sqlite3", dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// GetExecutor returns an executor for non-transactional operations.
func (d *Driver) GetExecutor() driver.Executor {
	return &Executor{db: d.db}
}

// UnwrapExecutor converts a *sql.Tx to an ExecutorTx.
func (d *Driver) UnwrapExecutor(tx *sql.Tx) driver.ExecutorTx {
	return &ExecutorTx{tx: tx}
}

// UnwrapTx extracts the *sql.Tx from an ExecutorTx.
func (d *Driver) UnwrapTx(execTx driver.ExecutorTx) *sql.Tx {
	switch tx := execTx.(type) {
	case *ExecutorTx:
		return tx.tx
	case *savepointTx:
		return tx.tx
	default:
		return nil
	}
}

// Begin starts a new transaction and returns an ExecutorTx.
func (d *Driver) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return d.GetExecutor().Begin(ctx)
}

// PoolIsSet returns true if the driver has a database connection configured.
func (d *Driver) PoolIsSet() bool {
	return d.db != nil
}

// GetStore returns a Store implementation using this driver.
func (d *Driver) GetStore() storage.Store {
	return sqlstore.New(d, d.dialect)
}

// Migrate creates the records table if it does not exist.
func (d *Driver) Migrate(ctx context.Context) error {
	return sqlstore.Migrate(ctx, d.GetExecutor(), d.dialect)
}

// DB returns the underlying database connection.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Executor wraps *sql.DB for non-transactional operations.
type Executor struct {
	db *sql.DB
}

// Begin starts a new transaction.
func (e *Executor) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &ExecutorTx{tx: tx}, nil
}

// Exec executes a query that doesn't return rows.
func (e *Executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Query executes a query that returns rows.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row.
func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return &rowWrapper{e.db.QueryRowContext(ctx, query, args...)}
}

// ExecutorTx wraps *sql.Tx for transactional operations.
type ExecutorTx struct {
	tx        *sql.Tx
	savepoint atomic.Int64
}

// Begin starts a nested transaction using a savepoint.
func (e *ExecutorTx) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return beginSavepoint(ctx, e.tx, &e.savepoint)
}

// Exec executes a query that doesn't return rows within the transaction.
func (e *ExecutorTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execTx(ctx, e.tx, query, args...)
}

// Query executes a query that returns rows within the transaction.
func (e *ExecutorTx) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := e.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

// QueryRow executes a query that returns at most one row within the transaction.
func (e *ExecutorTx) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return &rowWrapper{e.tx.QueryRowContext(ctx, query, args...)}
}

// Commit commits the transaction.
func (e *ExecutorTx) Commit(ctx context.Context) error {
	return e.tx.Commit()
}

// Rollback rolls back the transaction.
func (e *ExecutorTx) Rollback(ctx context.Context) error {
	return e.tx.Rollback()
}

// savepointTx is a nested transaction implemented with SAVEPOINT.
type savepointTx struct {
	tx      *sql.Tx
	name    string
	counter *atomic.Int64
}

func beginSavepoint(ctx context.Context, tx *sql.Tx, counter *atomic.Int64) (driver.ExecutorTx, error) {
	name := fmt.Sprintf("agentmem_sp_%d", counter.Add(1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &savepointTx{tx: tx, name: name, counter: counter}, nil
}

func (s *savepointTx) Begin(ctx context.Context) (driver.ExecutorTx, error) {
	return beginSavepoint(ctx, s.tx, s.counter)
}

func (s *savepointTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execTx(ctx, s.tx, query, args...)
}

func (s *savepointTx) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &rowsWrapper{rows}, nil
}

func (s *savepointTx) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return &rowWrapper{s.tx.QueryRowContext(ctx, query, args...)}
}

func (s *savepointTx) Commit(ctx context.Context) error {
	_, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+s.name)
	return err
}

func (s *savepointTx) Rollback(ctx context.Context) error {
	_, err := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+s.name)
	return err
}

func execTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// rowWrapper adapts *sql.Row to driver.Row.
type rowWrapper struct {
	row *sql.Row
}

// Scan reads the row into dest, mapping sql.ErrNoRows to driver.ErrNoRows.
func (r *rowWrapper) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return driver.ErrNoRows
	}
	return err
}

// rowsWrapper adapts *sql.Rows to driver.Rows.
type rowsWrapper struct {
	rows *sql.Rows
}

func (r *rowsWrapper) Close()                 { _ = r.rows.Close() }
func (r *rowsWrapper) Err() error             { return r.rows.Err() }
func (r *rowsWrapper) Next() bool             { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...any) error { return r.rows.Scan(dest...) }

// Compile-time check
var _ driver.Driver[*sql.Tx] = (*Driver)(nil)
