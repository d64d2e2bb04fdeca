package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/hooks"
	"github.com/youssefsiam38/agentmem/storage"
)

// reflect runs one single-flight reflection cycle on rec.
//
// The compressed text is committed only if no observation landed while the
// reflection ran; otherwise ErrReflectionConflict is returned and the
// record keeps the newer observations. Pending tokens and the cutoff are
// never touched. It returns nil when, once the guard is held, there is
// nothing to reflect on (or, unless force is set, the pool is below the
// reflection threshold).
func (m *Memory) reflect(ctx context.Context, rec *storage.Record, force bool) (*Outcome, error) {
	start := m.now()
	lease := uuid.New()

	acquired, err := m.store.AcquireCycle(ctx, rec.ID, storage.PhaseReflection, lease, start, m.staleBefore(start))
	if err != nil {
		return nil, storageError(err)
	}
	if !acquired {
		return m.bufferReflection(ctx, rec), nil
	}

	fresh, err := m.store.GetRecord(ctx, rec.Scope, rec.ScopeKey)
	if err != nil {
		_, relErr := m.release(ctx, rec, storage.PhaseReflection, lease)
		return nil, errors.Join(storageError(err), relErr)
	}
	threshold := ResolveThreshold(m.config.ReflectionThreshold)
	if fresh.Observations == "" || (!force && fresh.ObservationTokenCount < threshold) {
		_, err := m.release(ctx, fresh, storage.PhaseReflection, lease)
		return nil, err
	}

	m.logger.Info("starting reflection",
		"record_id", fresh.ID,
		"key", fresh.ScopeKey,
		"observation_tokens", fresh.ObservationTokenCount,
		"threshold", threshold,
	)
	m.emit(ctx, m.event(hooks.KindReflectionStart, storage.PhaseReflection, fresh))

	spanCtx, span := m.telemetry.startSpan(ctx, SpanReflect, fresh)

	fail := func(cause error) error {
		elapsed := m.now().Sub(start)
		_, relErr := m.release(ctx, fresh, storage.PhaseReflection, lease)
		err := errors.Join(cause, relErr)
		endSpan(span, err)
		m.telemetry.recordCycle(ctx, storage.PhaseReflection, resultFailed, elapsed)

		ev := m.event(hooks.KindReflectionFailed, storage.PhaseReflection, fresh)
		ev.Duration = elapsed
		ev.Err = err
		m.emit(ctx, ev)

		m.logger.Warn("reflection failed",
			"record_id", fresh.ID,
			"key", fresh.ScopeKey,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return err
	}

	summary, err := m.reflectFn(spanCtx, fresh.Observations)
	if err != nil {
		return nil, fail(summarizationError(err))
	}
	tokenCount, err := m.summaryTokens(spanCtx, summary)
	if err != nil {
		return nil, fail(summarizationError(err))
	}

	err = m.store.UpdateReflection(spanCtx, fresh.ID, storage.UpdateReflectionParams{
		Observations:          summary.Text,
		ObservationTokenCount: tokenCount,
		ExpectedGeneration:    fresh.GenerationCount,
		Lease:                 lease,
	})
	switch {
	case errors.Is(err, storage.ErrGenerationConflict):
		return nil, fail(fmt.Errorf("%w: %w", ErrReflectionConflict, err))
	case err != nil:
		return nil, fail(storageError(err))
	}

	written := fresh.Clone()
	written.Observations = summary.Text
	written.ObservationTokenCount = tokenCount
	written.GenerationCount++
	written.IsReflecting, written.ReflectingStartedAt, written.BufferingObservations = false, nil, false
	written.ReflectingLease = uuid.Nil

	rerun, err := m.release(ctx, fresh, storage.PhaseReflection, lease)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	after := m.reload(ctx, fresh, written)

	elapsed := m.now().Sub(start)
	span.SetAttributes(AttrGeneration.Int(after.GenerationCount), AttrObservationTokens.Int(tokenCount))
	endSpan(span, nil)
	m.telemetry.recordCycle(ctx, storage.PhaseReflection, resultCompleted, elapsed)

	ev := m.event(hooks.KindReflectionEnd, storage.PhaseReflection, after)
	ev.Duration = elapsed
	m.emit(ctx, ev)

	m.logger.Info("reflection complete",
		"record_id", after.ID,
		"key", after.ScopeKey,
		"tokens_before", fresh.ObservationTokenCount,
		"tokens_after", tokenCount,
		"generation", after.GenerationCount,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &Outcome{
		Phase:        storage.PhaseReflection,
		Rerun:        rerun,
		TokensBefore: fresh.ObservationTokenCount,
		TokensAfter:  tokenCount,
		Record:       after,
		Duration:     elapsed,
	}, nil
}

// bufferReflection handles an attempt that found a reflection in flight.
// AcquireCycle has already set BufferingObservations.
func (m *Memory) bufferReflection(ctx context.Context, rec *storage.Record) *Outcome {
	buffered := rec.Clone()
	buffered.IsReflecting = true
	buffered.BufferingObservations = true

	m.telemetry.recordCycle(ctx, storage.PhaseReflection, resultBuffered, 0)
	m.emit(ctx, m.event(hooks.KindReflectionBuffered, storage.PhaseReflection, buffered))

	m.logger.Debug("reflection already running, buffered",
		"record_id", rec.ID,
		"key", rec.ScopeKey,
		"observation_tokens", rec.ObservationTokenCount,
	)

	return &Outcome{
		Phase:        storage.PhaseReflection,
		Buffered:     true,
		TokensBefore: rec.ObservationTokenCount,
		TokensAfter:  rec.ObservationTokenCount,
		Record:       buffered,
	}
}
