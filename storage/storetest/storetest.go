// Package storetest provides a behavioural test suite that every
// storage.Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/storage"
)

// Run exercises store against the storage.Store contract. newStore must
// return an empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("GetMissingRecord", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetRecord(context.Background(), storage.ScopeThread, "missing")
		if !errors.Is(err, storage.ErrRecordNotFound) {
			t.Fatalf("GetRecord error = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("CreateRecordIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first, err := store.CreateRecord(ctx, storage.ScopeThread, "thread-1")
		if err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
		second, err := store.CreateRecord(ctx, storage.ScopeThread, "thread-1")
		if err != nil {
			t.Fatalf("second CreateRecord failed: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("CreateRecord returned different IDs: %s vs %s", first.ID, second.ID)
		}
		if first.LastObservedAt != nil {
			t.Errorf("new record LastObservedAt = %v, want nil", first.LastObservedAt)
		}
		if first.GenerationCount != 0 || first.PendingMessageTokens != 0 || first.Observations != "" {
			t.Errorf("new record is not empty: %+v", first)
		}

		other, err := store.CreateRecord(ctx, storage.ScopeResource, "thread-1")
		if err != nil {
			t.Fatalf("CreateRecord for resource scope failed: %v", err)
		}
		if other.ID == first.ID {
			t.Error("records in different scopes share an ID")
		}
	})

	t.Run("UpdateActiveObservations", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := mustCreate(t, store, "obs")
		lease := mustAcquire(t, store, rec, storage.PhaseObservation, time.Now().UTC())

		observedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if err := store.UpdatePendingTokens(ctx, rec.ID, 1234); err != nil {
			t.Fatalf("UpdatePendingTokens failed: %v", err)
		}
		err := store.UpdateActiveObservations(ctx, rec.ID, storage.UpdateObservationsParams{
			Observations:          "- User prefers dark mode",
			ObservationTokenCount: 7,
			LastObservedAt:        observedAt,
			LastObservedMessageID: "msg-9",
			PendingMessageTokens:  0,
			Lease:                 lease,
		})
		if err != nil {
			t.Fatalf("UpdateActiveObservations failed: %v", err)
		}

		got := mustGet(t, store, "obs")
		if got.Observations != "- User prefers dark mode" {
			t.Errorf("Observations = %q", got.Observations)
		}
		if got.ObservationTokenCount != 7 {
			t.Errorf("ObservationTokenCount = %d, want 7", got.ObservationTokenCount)
		}
		if got.PendingMessageTokens != 0 {
			t.Errorf("PendingMessageTokens = %d, want 0", got.PendingMessageTokens)
		}
		if got.LastObservedAt == nil || !got.LastObservedAt.Equal(observedAt) {
			t.Errorf("LastObservedAt = %v, want %v", got.LastObservedAt, observedAt)
		}
		if got.LastObservedMessageID != "msg-9" {
			t.Errorf("LastObservedMessageID = %q, want msg-9", got.LastObservedMessageID)
		}
		if got.GenerationCount != 1 {
			t.Errorf("GenerationCount = %d, want 1", got.GenerationCount)
		}
	})

	t.Run("UpdateReflectionChecksGeneration", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := mustCreate(t, store, "refl")
		lease := mustAcquire(t, store, rec, storage.PhaseReflection, time.Now().UTC())

		err := store.UpdateReflection(ctx, rec.ID, storage.UpdateReflectionParams{
			Observations:          "stale",
			ObservationTokenCount: 1,
			ExpectedGeneration:    5,
			Lease:                 lease,
		})
		if !errors.Is(err, storage.ErrGenerationConflict) {
			t.Fatalf("UpdateReflection error = %v, want ErrGenerationConflict", err)
		}
		if got := mustGet(t, store, "refl"); got.Observations != "" || got.GenerationCount != 0 {
			t.Fatalf("conflicting reflection modified the record: %+v", got)
		}

		err = store.UpdateReflection(ctx, rec.ID, storage.UpdateReflectionParams{
			Observations:          "compressed",
			ObservationTokenCount: 3,
			ExpectedGeneration:    0,
			Lease:                 lease,
		})
		if err != nil {
			t.Fatalf("UpdateReflection failed: %v", err)
		}
		got := mustGet(t, store, "refl")
		if got.Observations != "compressed" || got.ObservationTokenCount != 3 {
			t.Errorf("reflection not stored: %+v", got)
		}
		if got.GenerationCount != 1 {
			t.Errorf("GenerationCount = %d, want 1", got.GenerationCount)
		}
		if got.LastObservedAt != nil {
			t.Errorf("reflection touched LastObservedAt: %v", got.LastObservedAt)
		}
	})

	t.Run("AcquireCycleIsSingleFlight", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := mustCreate(t, store, "flight")
		now := time.Now().UTC()
		first := uuid.New()

		ok, err := store.AcquireCycle(ctx, rec.ID, storage.PhaseObservation, first, now, time.Time{})
		if err != nil || !ok {
			t.Fatalf("first AcquireCycle = %v, %v; want true, nil", ok, err)
		}
		ok, err = store.AcquireCycle(ctx, rec.ID, storage.PhaseObservation, uuid.New(), now, time.Time{})
		if err != nil || ok {
			t.Fatalf("second AcquireCycle = %v, %v; want false, nil", ok, err)
		}

		got := mustGet(t, store, "flight")
		if !got.IsObserving || !got.BufferingMessages {
			t.Errorf("IsObserving=%v BufferingMessages=%v, want both true", got.IsObserving, got.BufferingMessages)
		}
		if got.IsReflecting {
			t.Error("observation acquire set IsReflecting")
		}

		ok, err = store.AcquireCycle(ctx, rec.ID, storage.PhaseReflection, uuid.New(), now, time.Time{})
		if err != nil || !ok {
			t.Fatalf("reflection AcquireCycle = %v, %v; want true, nil", ok, err)
		}

		buffered, err := store.ReleaseCycle(ctx, rec.ID, storage.PhaseObservation, first)
		if err != nil {
			t.Fatalf("ReleaseCycle failed: %v", err)
		}
		if !buffered {
			t.Error("ReleaseCycle did not report the buffered acquire")
		}
		got = mustGet(t, store, "flight")
		if got.IsObserving || got.BufferingMessages {
			t.Errorf("after release IsObserving=%v BufferingMessages=%v", got.IsObserving, got.BufferingMessages)
		}
		if !got.IsReflecting {
			t.Error("releasing observation cleared IsReflecting")
		}

		next := uuid.New()
		ok, err = store.AcquireCycle(ctx, rec.ID, storage.PhaseObservation, next, now, time.Time{})
		if err != nil || !ok {
			t.Fatalf("AcquireCycle after release = %v, %v; want true, nil", ok, err)
		}
		buffered, err = store.ReleaseCycle(ctx, rec.ID, storage.PhaseObservation, next)
		if err != nil || buffered {
			t.Errorf("unbuffered ReleaseCycle = %v, %v; want false, nil", buffered, err)
		}
	})

	t.Run("AcquireCycleTakesOverStaleLease", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := mustCreate(t, store, "stale")
		started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		if ok, err := store.AcquireCycle(ctx, rec.ID, storage.PhaseReflection, uuid.New(), started, time.Time{}); err != nil || !ok {
			t.Fatalf("AcquireCycle = %v, %v", ok, err)
		}

		later := started.Add(time.Hour)
		ok, err := store.AcquireCycle(ctx, rec.ID, storage.PhaseReflection, uuid.New(), later, later.Add(-10*time.Minute))
		if err != nil {
			t.Fatalf("AcquireCycle failed: %v", err)
		}
		if !ok {
			t.Error("stale reflection lease was not taken over")
		}
	})

	t.Run("LostLeaseCannotWrite", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := mustCreate(t, store, "takeover")
		started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		later := started.Add(time.Hour)

		stalled := map[storage.Phase]uuid.UUID{}
		for _, phase := range []storage.Phase{storage.PhaseObservation, storage.PhaseReflection} {
			stalled[phase] = mustAcquire(t, store, rec, phase, started)
			ok, err := store.AcquireCycle(ctx, rec.ID, phase, uuid.New(), later, later.Add(-10*time.Minute))
			if err != nil || !ok {
				t.Fatalf("AcquireCycle(%s, takeover) = %v, %v", phase, ok, err)
			}
		}
		before := mustGet(t, store, "takeover")
		if before.ObservingLease == stalled[storage.PhaseObservation] || before.ReflectingLease == stalled[storage.PhaseReflection] {
			t.Fatalf("takeover kept the stalled lease: %+v", before)
		}

		// The stalled holders wake up after the takeover.
		err := store.UpdateActiveObservations(ctx, rec.ID, storage.UpdateObservationsParams{
			Observations:   "from the stalled cycle",
			LastObservedAt: started,
			Lease:          stalled[storage.PhaseObservation],
		})
		if !errors.Is(err, storage.ErrLeaseLost) {
			t.Errorf("UpdateActiveObservations error = %v, want ErrLeaseLost", err)
		}
		err = store.UpdateReflection(ctx, rec.ID, storage.UpdateReflectionParams{
			Observations:       "from the stalled cycle",
			ExpectedGeneration: before.GenerationCount,
			Lease:              stalled[storage.PhaseReflection],
		})
		if !errors.Is(err, storage.ErrLeaseLost) {
			t.Errorf("UpdateReflection error = %v, want ErrLeaseLost", err)
		}
		for _, phase := range []storage.Phase{storage.PhaseObservation, storage.PhaseReflection} {
			if _, err := store.ReleaseCycle(ctx, rec.ID, phase, stalled[phase]); !errors.Is(err, storage.ErrLeaseLost) {
				t.Errorf("ReleaseCycle(%s) error = %v, want ErrLeaseLost", phase, err)
			}
		}

		got := mustGet(t, store, "takeover")
		if got.Observations != "" || got.GenerationCount != before.GenerationCount || got.LastObservedAt != nil {
			t.Errorf("stalled cycle modified the record: %+v", got)
		}
		if !got.IsObserving || got.ObservingLease != before.ObservingLease {
			t.Errorf("observation guard = %v/%s, want held by %s", got.IsObserving, got.ObservingLease, before.ObservingLease)
		}
		if !got.IsReflecting || got.ReflectingLease != before.ReflectingLease {
			t.Errorf("reflection guard = %v/%s, want held by %s", got.IsReflecting, got.ReflectingLease, before.ReflectingLease)
		}

		err = store.UpdateActiveObservations(ctx, rec.ID, storage.UpdateObservationsParams{
			Observations:   "from the current cycle",
			LastObservedAt: later,
			Lease:          got.ObservingLease,
		})
		if err != nil {
			t.Fatalf("UpdateActiveObservations by current holder failed: %v", err)
		}
		if _, err := store.ReleaseCycle(ctx, rec.ID, storage.PhaseObservation, got.ObservingLease); err != nil {
			t.Errorf("ReleaseCycle by current holder failed: %v", err)
		}
		if after := mustGet(t, store, "takeover"); after.Observations != "from the current cycle" || after.IsObserving {
			t.Errorf("current holder's cycle not applied: %+v", after)
		}
	})

	t.Run("LastObservedAtPrecision", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := mustCreate(t, store, "precise")
		lease := mustAcquire(t, store, rec, storage.PhaseObservation, time.Now().UTC())

		observedAt := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
		err := store.UpdateActiveObservations(ctx, rec.ID, storage.UpdateObservationsParams{
			Observations:   "x",
			LastObservedAt: observedAt,
			Lease:          lease,
		})
		if err != nil {
			t.Fatalf("UpdateActiveObservations failed: %v", err)
		}

		want := observedAt.Truncate(storage.TimestampPrecision)
		got := mustGet(t, store, "precise")
		if got.LastObservedAt == nil || !got.LastObservedAt.Equal(want) {
			t.Errorf("LastObservedAt = %v, want %v", got.LastObservedAt, want)
		}
	})

	t.Run("ReleaseStaleCycles", func(t *testing.T) {
		store := newStore(t)
		sweeper, ok := store.(storage.CycleSweeper)
		if !ok {
			t.Skip("store does not implement storage.CycleSweeper")
		}
		ctx := context.Background()
		started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		old := mustCreate(t, store, "old")
		recent := mustCreate(t, store, "recent")
		mustAcquire(t, store, old, storage.PhaseObservation, started)
		mustAcquire(t, store, recent, storage.PhaseObservation, started.Add(time.Hour))

		n, err := sweeper.ReleaseStaleCycles(ctx, storage.PhaseObservation, started.Add(30*time.Minute))
		if err != nil {
			t.Fatalf("ReleaseStaleCycles failed: %v", err)
		}
		if n != 1 {
			t.Errorf("ReleaseStaleCycles = %d, want 1", n)
		}
		if got := mustGet(t, store, "old"); got.IsObserving || got.ObservingStartedAt != nil || got.ObservingLease != uuid.Nil {
			t.Errorf("old guard not released: %+v", got)
		}
		if got := mustGet(t, store, "recent"); !got.IsObserving {
			t.Error("recent guard was released")
		}

		n, err = sweeper.ReleaseStaleCycles(ctx, storage.PhaseReflection, started.Add(2*time.Hour))
		if err != nil || n != 0 {
			t.Errorf("ReleaseStaleCycles(reflection) = %d, %v; want 0, nil", n, err)
		}
	})
}

func mustCreate(t *testing.T, store storage.Store, key string) *storage.Record {
	t.Helper()
	rec, err := store.CreateRecord(context.Background(), storage.ScopeThread, key)
	if err != nil {
		t.Fatalf("CreateRecord(%q) failed: %v", key, err)
	}
	return rec
}

func mustAcquire(t *testing.T, store storage.Store, rec *storage.Record, phase storage.Phase, now time.Time) uuid.UUID {
	t.Helper()
	lease := uuid.New()
	ok, err := store.AcquireCycle(context.Background(), rec.ID, phase, lease, now, time.Time{})
	if err != nil || !ok {
		t.Fatalf("AcquireCycle(%s, %s) = %v, %v; want true, nil", rec.ScopeKey, phase, ok, err)
	}
	return lease
}

func mustGet(t *testing.T, store storage.Store, key string) *storage.Record {
	t.Helper()
	rec, err := store.GetRecord(context.Background(), storage.ScopeThread, key)
	if err != nil {
		t.Fatalf("GetRecord(%q) failed: %v", key, err)
	}
	return rec
}
