package sqlstore

import (
	"context"
	"fmt"

	"github.com/youssefsiam38/agentmem/driver"
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	// DialectPostgres targets PostgreSQL (pgx/v5 or lib/pq).
	DialectPostgres Dialect = "postgres"

	// DialectSQLite targets SQLite (mattn/go-sqlite3).
	DialectSQLite Dialect = "sqlite"
)

// TableName is the table holding memory records.
const TableName = "agentmem_records"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agentmem_records (
	id                       UUID PRIMARY KEY,
	scope                    TEXT NOT NULL,
	scope_key                TEXT NOT NULL,
	observations             TEXT NOT NULL DEFAULT '',
	observation_token_count  INTEGER NOT NULL DEFAULT 0,
	pending_message_tokens   INTEGER NOT NULL DEFAULT 0,
	last_observed_at         TIMESTAMPTZ,
	last_observed_message_id TEXT NOT NULL DEFAULT '',
	is_observing             BOOLEAN NOT NULL DEFAULT FALSE,
	is_reflecting            BOOLEAN NOT NULL DEFAULT FALSE,
	observing_started_at     TIMESTAMPTZ,
	reflecting_started_at    TIMESTAMPTZ,
	observing_lease          TEXT NOT NULL DEFAULT '',
	reflecting_lease         TEXT NOT NULL DEFAULT '',
	buffering_messages       BOOLEAN NOT NULL DEFAULT FALSE,
	buffering_observations   BOOLEAN NOT NULL DEFAULT FALSE,
	generation_count         INTEGER NOT NULL DEFAULT 0,
	created_at               TIMESTAMPTZ NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL,
	CONSTRAINT agentmem_records_scope_key UNIQUE (scope, scope_key)
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agentmem_records (
	id                       TEXT PRIMARY KEY,
	scope                    TEXT NOT NULL,
	scope_key                TEXT NOT NULL,
	observations             TEXT NOT NULL DEFAULT '',
	observation_token_count  INTEGER NOT NULL DEFAULT 0,
	pending_message_tokens   INTEGER NOT NULL DEFAULT 0,
	last_observed_at         TIMESTAMP,
	last_observed_message_id TEXT NOT NULL DEFAULT '',
	is_observing             BOOLEAN NOT NULL DEFAULT FALSE,
	is_reflecting            BOOLEAN NOT NULL DEFAULT FALSE,
	observing_started_at     TIMESTAMP,
	reflecting_started_at    TIMESTAMP,
	observing_lease          TEXT NOT NULL DEFAULT '',
	reflecting_lease         TEXT NOT NULL DEFAULT '',
	buffering_messages       BOOLEAN NOT NULL DEFAULT FALSE,
	buffering_observations   BOOLEAN NOT NULL DEFAULT FALSE,
	generation_count         INTEGER NOT NULL DEFAULT 0,
	created_at               TIMESTAMP NOT NULL,
	updated_at               TIMESTAMP NOT NULL,
	UNIQUE (scope, scope_key)
)`

// Schema returns the DDL creating the records table for dialect.
func Schema(dialect Dialect) (string, error) {
	switch dialect {
	case DialectPostgres:
		return postgresSchema, nil
	case DialectSQLite:
		return sqliteSchema, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// Migrate creates the records table if it does not exist.
func Migrate(ctx context.Context, exec driver.Executor, dialect Dialect) error {
	ddl, err := Schema(dialect)
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", TableName, err)
	}
	return nil
}
