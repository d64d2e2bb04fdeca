package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/hooks"
	"github.com/youssefsiam38/agentmem/storage"
	"github.com/youssefsiam38/agentmem/tokens"
	"github.com/youssefsiam38/agentmem/types"
)

// Summary is the output of a summarization function.
type Summary struct {
	Text string

	// TokenCount is the token size of Text. Zero or negative means unknown;
	// Memory then measures Text with its token counter.
	TokenCount int
}

// ObserveFunc folds messages into the previous observations and returns the
// complete new observation text.
type ObserveFunc func(ctx context.Context, previous string, messages []types.Message) (Summary, error)

// ReflectFunc compresses the observation pool.
type ReflectFunc func(ctx context.Context, observations string) (Summary, error)

// Outcome describes one observation or reflection attempt.
type Outcome struct {
	Phase storage.Phase

	// Buffered is true when the phase was already running on the record.
	// Nothing was summarized and Cutoff is nil.
	Buffered bool

	// Rerun is true when more input arrived while this cycle ran; the caller
	// should process again.
	Rerun bool

	// Cutoff is the timestamp through which messages are now folded into
	// observations. Set only by a successful observation.
	Cutoff *time.Time

	// TokensBefore and TokensAfter are the observation pool size around the
	// cycle.
	TokensBefore int
	TokensAfter  int

	// MessageCount is the number of messages an observation summarized.
	MessageCount int

	// Record is the record as of the end of the cycle.
	Record *storage.Record

	Duration time.Duration
}

// Result is the outcome of Process or Observe.
type Result struct {
	// Observation is nil when no observation cycle ran.
	Observation *Outcome

	// Reflection is nil when no reflection cycle ran.
	Reflection *Outcome

	// PendingTokens is the unobserved token mass after the call.
	PendingTokens int

	// Threshold is the resolved observation threshold.
	Threshold int

	// Cutoff is safe to pass to FilterByCutoff. It is nil unless an
	// observation succeeded during this call.
	Cutoff *time.Time
}

// Memory maintains observations for conversation records held in a
// storage.Store. It is safe for concurrent use.
type Memory struct {
	store     storage.Store
	observeFn ObserveFunc
	reflectFn ReflectFunc
	config    *Config
	logger    Logger
	hooks     hooks.Listener
	counter   tokens.Counter
	telemetry *telemetry
	now       func() time.Time
}

// New creates a Memory. If config is nil, DefaultConfig is used. The
// configuration is validated before anything touches the store.
func New(store storage.Store, observe ObserveFunc, reflect ReflectFunc, config *Config, opts ...Option) (*Memory, error) {
	if config == nil {
		config = DefaultConfig()
	} else {
		cfg := *config
		cfg.ApplyDefaults()
		config = &cfg
	}
	if err := config.Validate(); err != nil {
		return nil, NewError("New", err)
	}

	switch {
	case store == nil:
		return nil, NewError("New", fmt.Errorf("%w: store is required", ErrInvalidConfig))
	case observe == nil:
		return nil, NewError("New", fmt.Errorf("%w: observe function is required", ErrInvalidConfig))
	case reflect == nil:
		return nil, NewError("New", fmt.Errorf("%w: reflect function is required", ErrInvalidConfig))
	}

	o := &options{
		logger:  noopLogger{},
		hooks:   hooks.Base{},
		counter: tokens.Approximator,
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, NewError("New", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
	}

	tel, err := newTelemetry(o.tracerProvider, o.meterProvider)
	if err != nil {
		return nil, NewError("New", fmt.Errorf("failed to create instruments: %w", err))
	}

	return &Memory{
		store:     store,
		observeFn: observe,
		reflectFn: reflect,
		config:    config,
		logger:    o.logger,
		hooks:     o.hooks,
		counter:   o.counter,
		telemetry: tel,
		now:       o.now,
	}, nil
}

// Config returns a copy of the effective configuration.
func (m *Memory) Config() Config {
	return *m.config
}

// Process runs the full pipeline for key: measure the unobserved messages,
// observe when the observation threshold is reached, then reflect when the
// observation pool reaches the reflection threshold.
//
// messages is the caller's conversation history (or at least every message
// not yet observed), oldest first. The record is created on first use.
func (m *Memory) Process(ctx context.Context, key string, messages []types.Message) (*Result, error) {
	return m.process(ctx, "Process", key, messages, false)
}

// Observe runs an observation over the unobserved messages regardless of the
// observation threshold. The reflection check still applies afterwards.
func (m *Memory) Observe(ctx context.Context, key string, messages []types.Message) (*Result, error) {
	return m.process(ctx, "Observe", key, messages, true)
}

func (m *Memory) process(ctx context.Context, op, key string, messages []types.Message, force bool) (*Result, error) {
	rec, err := m.getOrCreate(ctx, op, key)
	if err != nil {
		return nil, err
	}

	acc, err := m.account(ctx, rec, messages)
	if err != nil {
		return nil, m.wrap(op, rec, fmt.Errorf("failed to count tokens: %w", err))
	}
	m.telemetry.recordPending(ctx, rec.Scope, acc.PendingTokens)

	res := &Result{
		PendingTokens: acc.PendingTokens,
		Threshold:     acc.Threshold,
	}

	if len(acc.Unobserved) == 0 || (!acc.Due && !force) {
		if acc.PendingTokens != rec.PendingMessageTokens {
			if err := m.store.UpdatePendingTokens(ctx, rec.ID, acc.PendingTokens); err != nil {
				return nil, m.wrap(op, rec, storageError(err))
			}
		}
		m.logger.Debug("observation not due",
			"record_id", rec.ID,
			"key", key,
			"pending_tokens", acc.PendingTokens,
			"threshold", acc.Threshold,
		)
		return res, nil
	}

	outcome, err := m.observe(ctx, rec, messages, acc)
	if err != nil {
		return nil, m.wrap(op, rec, err)
	}
	if outcome == nil {
		return res, nil
	}
	res.Observation = outcome
	if outcome.Buffered {
		return res, nil
	}
	res.Cutoff = outcome.Cutoff
	res.PendingTokens = outcome.Record.PendingMessageTokens

	threshold := ResolveThreshold(m.config.ReflectionThreshold)
	if outcome.Record.ObservationTokenCount < threshold {
		return res, nil
	}

	reflection, err := m.reflect(ctx, outcome.Record, false)
	res.Reflection = reflection
	if err != nil {
		return res, m.wrap(op, rec, err)
	}
	return res, nil
}

// Reflect compresses the observation pool of key regardless of the
// reflection threshold. It returns nil when there are no observations.
func (m *Memory) Reflect(ctx context.Context, key string) (*Outcome, error) {
	return m.reflectKey(ctx, "Reflect", key, true)
}

// ReflectIfNeeded reflects when the observation pool of key has reached the
// reflection threshold, and returns nil otherwise.
func (m *Memory) ReflectIfNeeded(ctx context.Context, key string) (*Outcome, error) {
	return m.reflectKey(ctx, "ReflectIfNeeded", key, false)
}

func (m *Memory) reflectKey(ctx context.Context, op, key string, force bool) (*Outcome, error) {
	rec, err := m.lookup(ctx, op, key)
	if err != nil || rec == nil {
		return nil, err
	}

	if rec.Observations == "" {
		return nil, nil
	}
	if !force && rec.ObservationTokenCount < ResolveThreshold(m.config.ReflectionThreshold) {
		return nil, nil
	}

	outcome, err := m.reflect(ctx, rec, force)
	if err != nil {
		return nil, m.wrap(op, rec, err)
	}
	return outcome, nil
}

// Filter removes from messages those already folded into the observations
// of key. Messages pass through unchanged when key has never been observed.
func (m *Memory) Filter(ctx context.Context, key string, messages []types.Message) ([]types.Message, error) {
	rec, err := m.lookup(ctx, "Filter", key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return messages, nil
	}
	return FilterByCutoff(messages, rec.LastObservedAt), nil
}

// SystemPrompt returns base with the observation block of key appended.
// It never creates or modifies a record.
func (m *Memory) SystemPrompt(ctx context.Context, key, base string) (string, error) {
	rec, err := m.lookup(ctx, "SystemPrompt", key)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return base, nil
	}
	return WrapBasePrompt(base, rec.Observations), nil
}

// Status returns the diagnostic view of key, or NoRecordStatus. It never
// creates or modifies a record.
func (m *Memory) Status(ctx context.Context, key string) (string, error) {
	rec, err := m.lookup(ctx, "Status", key)
	if err != nil {
		return "", err
	}
	return FormatStatus(rec,
		ResolveThreshold(m.config.ObservationThreshold),
		ResolveThreshold(m.config.ReflectionThreshold),
	), nil
}

// Record returns the current record for key. The error matches
// storage.ErrRecordNotFound when key has never been processed.
func (m *Memory) Record(ctx context.Context, key string) (*storage.Record, error) {
	rec, err := m.lookup(ctx, "Record", key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NewError("Record", storage.ErrRecordNotFound).WithRecord(m.config.Scope, key, uuid.Nil)
	}
	return rec, nil
}

// lookup returns the record for key, or nil if it does not exist.
func (m *Memory) lookup(ctx context.Context, op, key string) (*storage.Record, error) {
	if key == "" {
		return nil, NewError(op, ErrInvalidKey).WithRecord(m.config.Scope, key, uuid.Nil)
	}

	rec, err := m.store.GetRecord(ctx, m.config.Scope, key)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, NewError(op, storageError(err)).WithRecord(m.config.Scope, key, uuid.Nil)
	}
	return rec, nil
}

// getOrCreate returns the record for key, creating it if absent.
func (m *Memory) getOrCreate(ctx context.Context, op, key string) (*storage.Record, error) {
	rec, err := m.lookup(ctx, op, key)
	if err != nil || rec != nil {
		return rec, err
	}

	rec, err = m.store.CreateRecord(ctx, m.config.Scope, key)
	if err != nil {
		return nil, NewError(op, storageError(err)).WithRecord(m.config.Scope, key, uuid.Nil)
	}
	m.logger.Debug("created memory record", "record_id", rec.ID, "scope", rec.Scope, "key", key)
	return rec, nil
}

func (m *Memory) wrap(op string, rec *storage.Record, err error) error {
	var merr *Error
	if errors.As(err, &merr) {
		return err
	}
	return NewError(op, err).WithRecord(rec.Scope, rec.ScopeKey, rec.ID)
}

// staleBefore returns the lease cutoff for AcquireCycle.
func (m *Memory) staleBefore(now time.Time) time.Time {
	if m.config.CycleLease <= 0 {
		return time.Time{}
	}
	return now.Add(-m.config.CycleLease)
}

func (m *Memory) event(kind hooks.Kind, phase storage.Phase, rec *storage.Record) hooks.Event {
	return hooks.Event{
		Kind:              kind,
		RecordID:          rec.ID,
		Scope:             rec.Scope,
		Key:               rec.ScopeKey,
		Phase:             phase,
		PendingTokens:     rec.PendingMessageTokens,
		ObservationTokens: rec.ObservationTokenCount,
		Generation:        rec.GenerationCount,
	}
}

// emit delivers ev to the listener. Listener errors and panics are logged
// and never reach the cycle.
func (m *Memory) emit(ctx context.Context, ev hooks.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("hook panicked", "kind", ev.Kind, "record_id", ev.RecordID, "panic", r)
		}
	}()

	if err := hooks.Dispatch(ctx, m.hooks, ev); err != nil {
		m.logger.Warn("hook failed", "kind", ev.Kind, "record_id", ev.RecordID, "error", err)
	}
}

// release clears the phase guard held under lease and reports whether input
// was buffered while it was held. It runs even when ctx is cancelled, since
// a guard left set blocks every later cycle on the record. A lease that was
// already taken over is left to its new holder.
func (m *Memory) release(ctx context.Context, rec *storage.Record, phase storage.Phase, lease uuid.UUID) (bool, error) {
	buffered, err := m.store.ReleaseCycle(context.WithoutCancel(ctx), rec.ID, phase, lease)
	if errors.Is(err, storage.ErrLeaseLost) {
		m.logger.Warn("cycle guard was taken over before release",
			"record_id", rec.ID,
			"phase", phase,
		)
		return false, nil
	}
	if err != nil {
		m.logger.Error("failed to release cycle guard",
			"record_id", rec.ID,
			"phase", phase,
			"error", err,
		)
		return false, storageError(err)
	}
	return buffered, nil
}

// summaryTokens returns the token size of s, measuring it when the
// summarizer did not report one.
func (m *Memory) summaryTokens(ctx context.Context, s Summary) (int, error) {
	if s.Text == "" {
		return 0, nil
	}
	if s.TokenCount > 0 {
		return s.TokenCount, nil
	}
	return m.counter.CountTokens(ctx, s.Text)
}

// reload reads rec back, falling back to fallback when the read fails after
// a committed write.
func (m *Memory) reload(ctx context.Context, rec *storage.Record, fallback *storage.Record) *storage.Record {
	fresh, err := m.store.GetRecord(ctx, rec.Scope, rec.ScopeKey)
	if err != nil {
		m.logger.Warn("failed to reload record after write", "record_id", rec.ID, "error", err)
		return fallback
	}
	return fresh
}
