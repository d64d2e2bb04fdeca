package databasesql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/driver"
	"github.com/youssefsiam38/agentmem/driver/sqlstore"
	"github.com/youssefsiam38/agentmem/internal/testutil"
	"github.com/youssefsiam38/agentmem/storage"
	"github.com/youssefsiam38/agentmem/storage/storetest"
)

func newSQLiteDriver(t *testing.T) *Driver {
	t.Helper()

	drv := New(testutil.NewSQLiteDB(t), sqlstore.DialectSQLite)
	if err := drv.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return drv
}

func TestStore_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return newSQLiteDriver(t).GetStore()
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	drv := newSQLiteDriver(t)
	if err := drv.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestStore_JoinsCallerTransaction(t *testing.T) {
	drv := newSQLiteDriver(t)
	store := drv.GetStore()
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, storage.ScopeThread, "tx-thread")
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	tx, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	txCtx := driver.WithExecutor(ctx, tx)

	lease := uuid.New()
	if ok, err := store.AcquireCycle(txCtx, rec.ID, storage.PhaseObservation, lease, time.Now(), time.Time{}); err != nil || !ok {
		t.Fatalf("AcquireCycle = %v, %v", ok, err)
	}
	err = store.UpdateActiveObservations(txCtx, rec.ID, storage.UpdateObservationsParams{
		Observations:          "rolled back",
		ObservationTokenCount: 2,
		LastObservedAt:        time.Now(),
		Lease:                 lease,
	})
	if err != nil {
		t.Fatalf("UpdateActiveObservations failed: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	got, err := store.GetRecord(ctx, storage.ScopeThread, "tx-thread")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Observations != "" || got.GenerationCount != 0 || got.IsObserving {
		t.Errorf("rolled back write is visible: %+v", got)
	}
}

func TestExecutorTx_Savepoint(t *testing.T) {
	drv := newSQLiteDriver(t)
	store := drv.GetStore()
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, storage.ScopeResource, "user-1")
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	outer, err := drv.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	outerCtx := driver.WithExecutor(ctx, outer)
	if err := store.UpdatePendingTokens(outerCtx, rec.ID, 10); err != nil {
		t.Fatalf("outer UpdatePendingTokens failed: %v", err)
	}

	inner, err := outer.Begin(ctx)
	if err != nil {
		t.Fatalf("nested Begin failed: %v", err)
	}
	if err := store.UpdatePendingTokens(driver.WithExecutor(ctx, inner), rec.ID, 99); err != nil {
		t.Fatalf("inner UpdatePendingTokens failed: %v", err)
	}
	if err := inner.Rollback(ctx); err != nil {
		t.Fatalf("inner Rollback failed: %v", err)
	}
	if err := outer.Commit(ctx); err != nil {
		t.Fatalf("outer Commit failed: %v", err)
	}

	got, err := store.GetRecord(ctx, storage.ScopeResource, "user-1")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.PendingMessageTokens != 10 {
		t.Errorf("PendingMessageTokens = %d, want 10 (inner savepoint rolled back)", got.PendingMessageTokens)
	}
}

func TestStore_UnknownRecord(t *testing.T) {
	store := newSQLiteDriver(t).GetStore()
	ctx := context.Background()
	rec := &storage.Record{}

	if err := store.UpdatePendingTokens(ctx, rec.ID, 1); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("UpdatePendingTokens error = %v, want ErrRecordNotFound", err)
	}
	err := store.UpdateReflection(ctx, rec.ID, storage.UpdateReflectionParams{Observations: "x", Lease: uuid.New()})
	if !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("UpdateReflection error = %v, want ErrRecordNotFound", err)
	}
	if _, err := store.AcquireCycle(ctx, rec.ID, storage.PhaseObservation, uuid.New(), time.Now(), time.Time{}); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Errorf("AcquireCycle error = %v, want ErrRecordNotFound", err)
	}
}

func TestOpen_UnsupportedDialect(t *testing.T) {
	if _, err := Open("oracle", "dsn"); err == nil {
		t.Error("Open with unknown dialect succeeded")
	}
}
