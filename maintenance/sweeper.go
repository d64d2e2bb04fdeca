// Package maintenance provides background services for agentmem stores.
//
// The Sweeper releases single-flight guards left behind by processes that
// crashed mid-cycle, so the next call to the memory engine can start a new
// cycle instead of buffering behind a guard nobody will clear.
package maintenance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/youssefsiam38/agentmem/storage"
)

// Default sweeper configuration values
const (
	DefaultSweepInterval = 1 * time.Minute
	DefaultStaleAfter    = 30 * time.Minute
)

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	// Interval is how often to sweep.
	// Default: 1 minute
	Interval time.Duration

	// StaleAfter is how long a cycle may hold its guard before it is
	// considered abandoned. It should exceed the slowest summarizer call.
	// Default: 30 minutes
	StaleAfter time.Duration

	// OnRelease is called with the number of guards released for a phase.
	OnRelease func(phase storage.Phase, count int)

	// OnError is called when a sweep fails.
	OnError func(err error)

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:   DefaultSweepInterval,
		StaleAfter: DefaultStaleAfter,
	}
}

// SweepResult holds the results of one sweep.
type SweepResult struct {
	// ObservationsReleased is the number of observation guards released.
	ObservationsReleased int

	// ReflectionsReleased is the number of reflection guards released.
	ReflectionsReleased int

	// Errors contains any errors that occurred during the sweep.
	Errors []error
}

// Sweeper periodically releases stale cycle guards.
type Sweeper struct {
	store  storage.CycleSweeper
	config *SweeperConfig

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewSweeper creates a new sweeper. Zero config fields take their defaults.
func NewSweeper(store storage.CycleSweeper, config *SweeperConfig) *Sweeper {
	cfg := DefaultSweeperConfig()
	if config != nil {
		c := *config
		cfg = &c
		if cfg.Interval <= 0 {
			cfg.Interval = DefaultSweepInterval
		}
		if cfg.StaleAfter <= 0 {
			cfg.StaleAfter = DefaultStaleAfter
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sweeper{
		store:  store,
		config: cfg,
	}
}

// Start begins the sweep loop.
// It returns immediately and sweeps in a goroutine.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.done = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)

	return nil
}

// Stop stops the sweep loop and waits for it to exit.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.started.Store(false)
	return nil
}

// run is the main sweep loop.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	// Sweep immediately on start
	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	result := s.RunOnce(ctx)

	if s.config.OnRelease != nil {
		if result.ObservationsReleased > 0 {
			s.config.OnRelease(storage.PhaseObservation, result.ObservationsReleased)
		}
		if result.ReflectionsReleased > 0 {
			s.config.OnRelease(storage.PhaseReflection, result.ReflectionsReleased)
		}
	}

	if s.config.OnError != nil {
		for _, err := range result.Errors {
			s.config.OnError(err)
		}
	}
}

// RunOnce sweeps both phases once and returns the result.
func (s *Sweeper) RunOnce(ctx context.Context) *SweepResult {
	result := &SweepResult{}
	staleBefore := s.config.Now().Add(-s.config.StaleAfter)

	n, err := s.store.ReleaseStaleCycles(ctx, storage.PhaseObservation, staleBefore)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("observation sweep: %w", err))
	} else {
		result.ObservationsReleased = n
	}

	n, err = s.store.ReleaseStaleCycles(ctx, storage.PhaseReflection, staleBefore)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("reflection sweep: %w", err))
	} else {
		result.ReflectionsReleased = n
	}

	return result
}

// IsRunning returns true if the sweeper is running.
func (s *Sweeper) IsRunning() bool {
	return s.started.Load()
}
