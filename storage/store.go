package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned when no record exists for a scope key.
	ErrRecordNotFound = errors.New("record not found")

	// ErrGenerationConflict is returned by UpdateReflection when the record's
	// generation moved on after the reflection cycle read it.
	ErrGenerationConflict = errors.New("record generation changed")

	// ErrLeaseLost is returned by writes and ReleaseCycle when the caller no
	// longer holds the phase guard, because it was taken over or swept.
	ErrLeaseLost = errors.New("cycle lease lost")
)

// TimestampPrecision is the resolution at which stores persist timestamps.
// PostgreSQL keeps microseconds, so every store truncates to it.
const TimestampPrecision = time.Microsecond

// Store defines the persistence operations the memory engine needs.
// Every write is a single atomic statement or transaction; a failed call
// leaves the record untouched.
type Store interface {
	// GetRecord returns the record for scope/key or ErrRecordNotFound.
	GetRecord(ctx context.Context, scope Scope, key string) (*Record, error)

	// CreateRecord creates the record for scope/key if absent and returns
	// the stored record. Calling it for an existing key is a no-op read.
	CreateRecord(ctx context.Context, scope Scope, key string) (*Record, error)

	// UpdateActiveObservations stores the result of a successful observation
	// and increments the generation, provided params.Lease still holds the
	// observation guard. Otherwise it returns ErrLeaseLost.
	UpdateActiveObservations(ctx context.Context, id uuid.UUID, params UpdateObservationsParams) error

	// UpdateReflection stores compressed observations and increments the
	// generation, provided params.Lease still holds the reflection guard and
	// the generation still equals params.ExpectedGeneration. Otherwise it
	// returns ErrLeaseLost or ErrGenerationConflict.
	UpdateReflection(ctx context.Context, id uuid.UUID, params UpdateReflectionParams) error

	// UpdatePendingTokens persists the measured unobserved token mass.
	UpdatePendingTokens(ctx context.Context, id uuid.UUID, pending int) error

	// AcquireCycle sets the single-flight flag for phase under lease if it is
	// clear, or if it was set before staleBefore (a zero staleBefore never
	// steals). When the flag is held it marks the phase's buffering flag
	// instead and returns false.
	AcquireCycle(ctx context.Context, id uuid.UUID, phase Phase, lease uuid.UUID, now, staleBefore time.Time) (bool, error)

	// ReleaseCycle clears the single-flight flag and the buffering flag of
	// phase if lease still holds the guard, and reports whether the
	// buffering flag was set. It returns ErrLeaseLost otherwise, leaving
	// the current holder untouched.
	ReleaseCycle(ctx context.Context, id uuid.UUID, phase Phase, lease uuid.UUID) (bool, error)
}

// CycleSweeper is implemented by stores that can release abandoned
// single-flight guards in bulk.
type CycleSweeper interface {
	// ReleaseStaleCycles clears the flag, lease and buffering flag of phase
	// on every record whose cycle started before staleBefore, and returns
	// how many records were released. The former holders' writes then fail
	// with ErrLeaseLost.
	ReleaseStaleCycles(ctx context.Context, phase Phase, staleBefore time.Time) (int, error)
}

// Scope selects what a record key identifies.
type Scope string

const (
	// ScopeThread keys a record by conversation thread.
	ScopeThread Scope = "thread"

	// ScopeResource keys a record by a resource shared across threads.
	ScopeResource Scope = "resource"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeThread || s == ScopeResource
}

// Phase identifies a compaction cycle kind.
type Phase string

const (
	// PhaseObservation folds raw messages into observations.
	PhaseObservation Phase = "observation"

	// PhaseReflection compresses the observations themselves.
	PhaseReflection Phase = "reflection"
)

// Record is the persisted compaction state for one scope key.
type Record struct {
	ID       uuid.UUID `json:"id"`
	Scope    Scope     `json:"scope"`
	ScopeKey string    `json:"scope_key"`

	Observations          string `json:"observations"`
	ObservationTokenCount int    `json:"observation_token_count"`
	PendingMessageTokens  int    `json:"pending_message_tokens"`

	// LastObservedAt is nil until the first successful observation.
	LastObservedAt        *time.Time `json:"last_observed_at,omitempty"`
	LastObservedMessageID string     `json:"last_observed_message_id,omitempty"`

	IsObserving           bool       `json:"is_observing"`
	IsReflecting          bool       `json:"is_reflecting"`
	ObservingStartedAt    *time.Time `json:"observing_started_at,omitempty"`
	ReflectingStartedAt   *time.Time `json:"reflecting_started_at,omitempty"`
	ObservingLease        uuid.UUID  `json:"observing_lease"`
	ReflectingLease       uuid.UUID  `json:"reflecting_lease"`
	BufferingMessages     bool       `json:"buffering_messages"`
	BufferingObservations bool       `json:"buffering_observations"`

	GenerationCount int       `json:"generation_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.LastObservedAt = cloneTime(r.LastObservedAt)
	c.ObservingStartedAt = cloneTime(r.ObservingStartedAt)
	c.ReflectingStartedAt = cloneTime(r.ReflectingStartedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// UpdateObservationsParams carries the fields written by a successful observation.
type UpdateObservationsParams struct {
	Observations          string
	ObservationTokenCount int
	LastObservedAt        time.Time
	LastObservedMessageID string
	PendingMessageTokens  int

	// Lease is the observation guard the write was made under.
	Lease uuid.UUID
}

// UpdateReflectionParams carries the fields written by a successful reflection.
type UpdateReflectionParams struct {
	Observations          string
	ObservationTokenCount int
	ExpectedGeneration    int

	// Lease is the reflection guard the write was made under.
	Lease uuid.UUID
}

// ValidatePhase returns an error for an unknown phase.
func ValidatePhase(phase Phase) error {
	switch phase {
	case PhaseObservation, PhaseReflection:
		return nil
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}
