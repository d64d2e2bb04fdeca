package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a Store kept in process memory. Each instance owns its
// records; nothing is shared between instances.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	byKey   map[recordKey]uuid.UUID
	now     func() time.Time
}

type recordKey struct {
	scope Scope
	key   string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[uuid.UUID]*Record),
		byKey:   make(map[recordKey]uuid.UUID),
		now:     time.Now,
	}
}

// GetRecord returns a copy of the record for scope/key.
func (s *InMemoryStore) GetRecord(ctx context.Context, scope Scope, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[recordKey{scope, key}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return s.records[id].Clone(), nil
}

// CreateRecord creates the record for scope/key if it does not exist.
func (s *InMemoryStore) CreateRecord(ctx context.Context, scope Scope, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := recordKey{scope, key}
	if id, ok := s.byKey[rk]; ok {
		return s.records[id].Clone(), nil
	}

	now := s.now()
	rec := &Record{
		ID:        uuid.New(),
		Scope:     scope,
		ScopeKey:  key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[rec.ID] = rec
	s.byKey[rk] = rec.ID
	return rec.Clone(), nil
}

// UpdateActiveObservations writes a successful observation if params.Lease
// still holds the observation guard.
func (s *InMemoryStore) UpdateActiveObservations(ctx context.Context, id uuid.UUID, params UpdateObservationsParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if !guardOf(rec, PhaseObservation).heldBy(params.Lease) {
		return ErrLeaseLost
	}

	observedAt := params.LastObservedAt.Truncate(TimestampPrecision)
	rec.Observations = params.Observations
	rec.ObservationTokenCount = params.ObservationTokenCount
	rec.LastObservedAt = &observedAt
	rec.LastObservedMessageID = params.LastObservedMessageID
	rec.PendingMessageTokens = params.PendingMessageTokens
	rec.GenerationCount++
	rec.UpdatedAt = s.now()
	return nil
}

// UpdateReflection writes a successful reflection if params.Lease still
// holds the reflection guard and the generation is unchanged.
func (s *InMemoryStore) UpdateReflection(ctx context.Context, id uuid.UUID, params UpdateReflectionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if !guardOf(rec, PhaseReflection).heldBy(params.Lease) {
		return ErrLeaseLost
	}
	if rec.GenerationCount != params.ExpectedGeneration {
		return ErrGenerationConflict
	}

	rec.Observations = params.Observations
	rec.ObservationTokenCount = params.ObservationTokenCount
	rec.GenerationCount++
	rec.UpdatedAt = s.now()
	return nil
}

// UpdatePendingTokens sets the pending token mass.
func (s *InMemoryStore) UpdatePendingTokens(ctx context.Context, id uuid.UUID, pending int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.PendingMessageTokens = pending
	rec.UpdatedAt = s.now()
	return nil
}

// guard points at the single-flight fields of one phase of a record.
type guard struct {
	held      *bool
	startedAt **time.Time
	lease     *uuid.UUID
	buffering *bool
}

func guardOf(rec *Record, phase Phase) guard {
	if phase == PhaseObservation {
		return guard{&rec.IsObserving, &rec.ObservingStartedAt, &rec.ObservingLease, &rec.BufferingMessages}
	}
	return guard{&rec.IsReflecting, &rec.ReflectingStartedAt, &rec.ReflectingLease, &rec.BufferingObservations}
}

func (g guard) heldBy(lease uuid.UUID) bool {
	return *g.held && lease != uuid.Nil && *g.lease == lease
}

func (g guard) staleBefore(t time.Time) bool {
	return *g.held && !t.IsZero() && *g.startedAt != nil && (*g.startedAt).Before(t)
}

func (g guard) clear() {
	*g.held = false
	*g.startedAt = nil
	*g.lease = uuid.Nil
	*g.buffering = false
}

// AcquireCycle sets the phase flag under lease if it is free or stale.
func (s *InMemoryStore) AcquireCycle(ctx context.Context, id uuid.UUID, phase Phase, lease uuid.UUID, now, staleBefore time.Time) (bool, error) {
	if err := ValidatePhase(phase); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}

	g := guardOf(rec, phase)
	if *g.held && !g.staleBefore(staleBefore) {
		*g.buffering = true
		rec.UpdatedAt = s.now()
		return false, nil
	}

	started := now.Truncate(TimestampPrecision)
	*g.held = true
	*g.startedAt = &started
	*g.lease = lease
	rec.UpdatedAt = s.now()
	return true, nil
}

// ReleaseCycle clears the phase flag and its buffering flag if lease holds
// the guard.
func (s *InMemoryStore) ReleaseCycle(ctx context.Context, id uuid.UUID, phase Phase, lease uuid.UUID) (bool, error) {
	if err := ValidatePhase(phase); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}

	g := guardOf(rec, phase)
	if !g.heldBy(lease) {
		return false, ErrLeaseLost
	}
	buffered := *g.buffering
	g.clear()
	rec.UpdatedAt = s.now()
	return buffered, nil
}

// ReleaseStaleCycles implements CycleSweeper.
func (s *InMemoryStore) ReleaseStaleCycles(ctx context.Context, phase Phase, staleBefore time.Time) (int, error) {
	if err := ValidatePhase(phase); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	released := 0
	for _, rec := range s.records {
		g := guardOf(rec, phase)
		if !g.staleBefore(staleBefore) {
			continue
		}
		g.clear()
		rec.UpdatedAt = now
		released++
	}
	return released, nil
}

var (
	_ Store        = (*InMemoryStore)(nil)
	_ CycleSweeper = (*InMemoryStore)(nil)
)
