// Package sqlstore implements storage.Store on top of driver.Executor.
//
// The same queries serve PostgreSQL and SQLite: timestamps are bound from Go
// rather than computed with NOW(), and every statement sticks to the subset
// both engines accept (ON CONFLICT DO NOTHING, TRUE/FALSE). Queries are
// written with $n placeholders and rewritten to ?n for SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/driver"
	"github.com/youssefsiam38/agentmem/storage"
)

// Store implements storage.Store using a driver.Source.
type Store struct {
	source  driver.Source
	dialect Dialect
	now     func() time.Time
}

// New creates a Store issuing queries through source.
func New(source driver.Source, dialect Dialect) *Store {
	return &Store{
		source:  source,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC().Truncate(storage.TimestampPrecision) },
	}
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the records table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.getExecutor(ctx), s.dialect)
}

// getExecutor returns the executor from context if present, otherwise the default pool executor.
func (s *Store) getExecutor(ctx context.Context) driver.Executor {
	var exec driver.Executor = s.source.GetExecutor()
	if tx := driver.ExecutorFromContext(ctx); tx != nil {
		exec = tx
	}
	if s.dialect == DialectSQLite {
		return sqliteExecutor{exec}
	}
	return exec
}

// placeholder matches a PostgreSQL positional parameter.
var placeholder = regexp.MustCompile(`\$(\d+)`)

// sqliteExecutor rewrites $n to ?n. SQLite treats $n as a named parameter
// numbered by first appearance, which breaks queries that bind $2 before $1.
type sqliteExecutor struct {
	driver.Executor
}

func (e sqliteExecutor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return e.Executor.Exec(ctx, placeholder.ReplaceAllString(query, "?$1"), args...)
}

func (e sqliteExecutor) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return e.Executor.Query(ctx, placeholder.ReplaceAllString(query, "?$1"), args...)
}

func (e sqliteExecutor) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return e.Executor.QueryRow(ctx, placeholder.ReplaceAllString(query, "?$1"), args...)
}

// withTx runs fn inside a transaction. If the context already carries one,
// fn joins it instead of opening a new transaction.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if driver.ExecutorFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.source.GetExecutor().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil && err == nil {
			err = fmt.Errorf("failed to roll back: %w", rbErr)
		}
	}()

	if err := fn(driver.WithExecutor(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	committed = true
	return nil
}

const selectRecord = `
	SELECT id, scope, scope_key, observations, observation_token_count,
	       pending_message_tokens, last_observed_at, last_observed_message_id,
	       is_observing, is_reflecting, observing_started_at, reflecting_started_at,
	       observing_lease, reflecting_lease,
	       buffering_messages, buffering_observations, generation_count,
	       created_at, updated_at
	FROM agentmem_records
`

// GetRecord retrieves the record for scope/key.
func (s *Store) GetRecord(ctx context.Context, scope storage.Scope, key string) (*storage.Record, error) {
	row := s.getExecutor(ctx).QueryRow(ctx, selectRecord+` WHERE scope = $1 AND scope_key = $2`, string(scope), key)
	return scanRecord(row)
}

// CreateRecord inserts the record for scope/key unless it exists, then reads it back.
func (s *Store) CreateRecord(ctx context.Context, scope storage.Scope, key string) (*storage.Record, error) {
	query := `
		INSERT INTO agentmem_records (id, scope, scope_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (scope, scope_key) DO NOTHING
	`

	now := s.now()
	if _, err := s.getExecutor(ctx).Exec(ctx, query, uuid.New().String(), string(scope), key, now); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	return s.GetRecord(ctx, scope, key)
}

// UpdateActiveObservations writes the result of a successful observation
// made under params.Lease.
func (s *Store) UpdateActiveObservations(ctx context.Context, id uuid.UUID, params storage.UpdateObservationsParams) error {
	query := `
		UPDATE agentmem_records
		SET observations = $2,
		    observation_token_count = $3,
		    last_observed_at = $4,
		    last_observed_message_id = $5,
		    pending_message_tokens = $6,
		    generation_count = generation_count + 1,
		    updated_at = $7
		WHERE id = $1 AND is_observing = TRUE AND observing_lease = $8
	`

	return s.withTx(ctx, func(ctx context.Context) error {
		affected, err := s.getExecutor(ctx).Exec(ctx, query,
			id.String(),
			params.Observations,
			params.ObservationTokenCount,
			params.LastObservedAt.UTC().Truncate(storage.TimestampPrecision),
			params.LastObservedMessageID,
			params.PendingMessageTokens,
			s.now(),
			leaseString(params.Lease),
		)
		if err != nil {
			return fmt.Errorf("failed to update observations: %w", err)
		}
		if affected > 0 {
			return nil
		}

		if _, err := s.readGuard(ctx, id, phaseObservationColumns, false); err != nil {
			return err
		}
		return storage.ErrLeaseLost
	})
}

// UpdateReflection writes compressed observations made under params.Lease
// when the generation is unchanged.
func (s *Store) UpdateReflection(ctx context.Context, id uuid.UUID, params storage.UpdateReflectionParams) error {
	query := `
		UPDATE agentmem_records
		SET observations = $2,
		    observation_token_count = $3,
		    generation_count = generation_count + 1,
		    updated_at = $5
		WHERE id = $1 AND generation_count = $4
		  AND is_reflecting = TRUE AND reflecting_lease = $6
	`

	return s.withTx(ctx, func(ctx context.Context) error {
		affected, err := s.getExecutor(ctx).Exec(ctx, query,
			id.String(),
			params.Observations,
			params.ObservationTokenCount,
			params.ExpectedGeneration,
			s.now(),
			leaseString(params.Lease),
		)
		if err != nil {
			return fmt.Errorf("failed to update reflection: %w", err)
		}
		if affected > 0 {
			return nil
		}

		g, err := s.readGuard(ctx, id, phaseReflectionColumns, false)
		if err != nil {
			return err
		}
		if !g.heldBy(params.Lease) {
			return storage.ErrLeaseLost
		}
		return storage.ErrGenerationConflict
	})
}

// UpdatePendingTokens sets the pending token mass.
func (s *Store) UpdatePendingTokens(ctx context.Context, id uuid.UUID, pending int) error {
	query := `
		UPDATE agentmem_records
		SET pending_message_tokens = $2, updated_at = $3
		WHERE id = $1
	`

	affected, err := s.getExecutor(ctx).Exec(ctx, query, id.String(), pending, s.now())
	if err != nil {
		return fmt.Errorf("failed to update pending tokens: %w", err)
	}
	if affected == 0 {
		return storage.ErrRecordNotFound
	}
	return nil
}

// phaseColumns names the flag, lease and buffering columns of a phase.
type phaseColumns struct {
	flag      string
	startedAt string
	lease     string
	buffering string
}

var (
	phaseObservationColumns = phaseColumns{"is_observing", "observing_started_at", "observing_lease", "buffering_messages"}
	phaseReflectionColumns  = phaseColumns{"is_reflecting", "reflecting_started_at", "reflecting_lease", "buffering_observations"}
)

func columnsFor(phase storage.Phase) (phaseColumns, error) {
	switch phase {
	case storage.PhaseObservation:
		return phaseObservationColumns, nil
	case storage.PhaseReflection:
		return phaseReflectionColumns, nil
	default:
		return phaseColumns{}, storage.ValidatePhase(phase)
	}
}

// guardState is the stored single-flight state of one phase.
type guardState struct {
	held      bool
	lease     string
	buffering bool
}

func (g guardState) heldBy(lease uuid.UUID) bool {
	return g.held && lease != uuid.Nil && g.lease == lease.String()
}

// readGuard reads the guard columns of a record. With lock set on
// PostgreSQL the row stays locked until the transaction ends.
func (s *Store) readGuard(ctx context.Context, id uuid.UUID, cols phaseColumns, lock bool) (guardState, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM agentmem_records WHERE id = $1`, cols.flag, cols.lease, cols.buffering)
	if lock && s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}

	var g guardState
	err := s.getExecutor(ctx).QueryRow(ctx, query, id.String()).Scan(&g.held, &g.lease, &g.buffering)
	if errors.Is(err, driver.ErrNoRows) {
		return g, storage.ErrRecordNotFound
	}
	if err != nil {
		return g, fmt.Errorf("failed to read cycle guard: %w", err)
	}
	return g, nil
}

func leaseString(lease uuid.UUID) string {
	if lease == uuid.Nil {
		return ""
	}
	return lease.String()
}

// AcquireCycle sets the phase flag if it is clear or its lease expired;
// otherwise it marks the phase as buffering.
func (s *Store) AcquireCycle(ctx context.Context, id uuid.UUID, phase storage.Phase, lease uuid.UUID, now, staleBefore time.Time) (bool, error) {
	cols, err := columnsFor(phase)
	if err != nil {
		return false, err
	}

	acquire := fmt.Sprintf(`
		UPDATE agentmem_records
		SET %[1]s = TRUE, %[2]s = $2, %[3]s = $4, updated_at = $2
		WHERE id = $1 AND (%[1]s = FALSE OR (%[2]s IS NOT NULL AND %[2]s < $3))
	`, cols.flag, cols.startedAt, cols.lease)

	buffer := fmt.Sprintf(`
		UPDATE agentmem_records
		SET %s = TRUE, updated_at = $2
		WHERE id = $1
	`, cols.buffering)

	// A zero staleBefore must never match a stored start time.
	var staleArg any = staleBefore.UTC()
	if staleBefore.IsZero() {
		staleArg = nil
	}

	acquired := false
	err = s.withTx(ctx, func(ctx context.Context) error {
		exec := s.getExecutor(ctx)
		affected, err := exec.Exec(ctx, acquire, id.String(), now.UTC().Truncate(storage.TimestampPrecision), staleArg, leaseString(lease))
		if err != nil {
			return fmt.Errorf("failed to acquire %s cycle: %w", phase, err)
		}
		if affected > 0 {
			acquired = true
			return nil
		}

		affected, err = exec.Exec(ctx, buffer, id.String(), s.now())
		if err != nil {
			return fmt.Errorf("failed to mark %s buffering: %w", phase, err)
		}
		if affected == 0 {
			return storage.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseCycle clears the phase flag and its buffering flag if lease holds
// the guard, and reports whether the buffering flag was set.
func (s *Store) ReleaseCycle(ctx context.Context, id uuid.UUID, phase storage.Phase, lease uuid.UUID) (bool, error) {
	cols, err := columnsFor(phase)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(`
		UPDATE agentmem_records
		SET %s = FALSE, %s = NULL, %s = '', %s = FALSE, updated_at = $2
		WHERE id = $1 AND %s = $3
	`, cols.flag, cols.startedAt, cols.lease, cols.buffering, cols.lease)

	buffered := false
	err = s.withTx(ctx, func(ctx context.Context) error {
		// The row lock keeps a concurrent buffering mark from landing
		// between the read and the clear.
		g, err := s.readGuard(ctx, id, cols, true)
		if err != nil {
			return err
		}
		if !g.heldBy(lease) {
			return storage.ErrLeaseLost
		}

		affected, err := s.getExecutor(ctx).Exec(ctx, query, id.String(), s.now(), leaseString(lease))
		if err != nil {
			return fmt.Errorf("failed to release %s cycle: %w", phase, err)
		}
		if affected == 0 {
			return storage.ErrLeaseLost
		}
		buffered = g.buffering
		return nil
	})
	if err != nil {
		return false, err
	}
	return buffered, nil
}

// ReleaseStaleCycles implements storage.CycleSweeper.
func (s *Store) ReleaseStaleCycles(ctx context.Context, phase storage.Phase, staleBefore time.Time) (int, error) {
	cols, err := columnsFor(phase)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		UPDATE agentmem_records
		SET %[1]s = FALSE, %[2]s = NULL, %[3]s = '', %[4]s = FALSE, updated_at = $1
		WHERE %[1]s = TRUE AND %[2]s IS NOT NULL AND %[2]s < $2
	`, cols.flag, cols.startedAt, cols.lease, cols.buffering)

	affected, err := s.getExecutor(ctx).Exec(ctx, query, s.now(), staleBefore.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale %s cycles: %w", phase, err)
	}
	return int(affected), nil
}

func scanRecord(row driver.Row) (*storage.Record, error) {
	var (
		rec                 storage.Record
		id, scope           string
		lastObservedAt      sql.NullTime
		observingStartedAt  sql.NullTime
		reflectingStartedAt sql.NullTime
		observingLease      string
		reflectingLease     string
	)

	err := row.Scan(
		&id,
		&scope,
		&rec.ScopeKey,
		&rec.Observations,
		&rec.ObservationTokenCount,
		&rec.PendingMessageTokens,
		&lastObservedAt,
		&rec.LastObservedMessageID,
		&rec.IsObserving,
		&rec.IsReflecting,
		&observingStartedAt,
		&reflectingStartedAt,
		&observingLease,
		&reflectingLease,
		&rec.BufferingMessages,
		&rec.BufferingObservations,
		&rec.GenerationCount,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, driver.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	rec.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", id, err)
	}
	if rec.ObservingLease, err = parseLease(observingLease); err != nil {
		return nil, err
	}
	if rec.ReflectingLease, err = parseLease(reflectingLease); err != nil {
		return nil, err
	}
	rec.Scope = storage.Scope(scope)
	rec.LastObservedAt = nullTime(lastObservedAt)
	rec.ObservingStartedAt = nullTime(observingStartedAt)
	rec.ReflectingStartedAt = nullTime(reflectingStartedAt)

	return &rec, nil
}

func parseLease(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	lease, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid cycle lease %q: %w", s, err)
	}
	return lease, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ storage.Store = (*Store)(nil)
