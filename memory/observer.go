package memory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/youssefsiam38/agentmem/hooks"
	"github.com/youssefsiam38/agentmem/storage"
	"github.com/youssefsiam38/agentmem/types"
)

// observe runs one single-flight observation cycle on rec.
//
// If an observation is already running on the record, the measured pending
// mass is stored, the record is marked as buffering and a Buffered outcome is
// returned. It returns nil when nothing is left to observe once the guard is
// held. Otherwise the unobserved messages are summarized and committed
// in one write. On any failure the guard is cleared and every other field is
// left as it was, so the same messages are picked up by the next call.
func (m *Memory) observe(ctx context.Context, rec *storage.Record, messages []types.Message, acc Accounting) (*Outcome, error) {
	start := m.now()
	lease := uuid.New()

	acquired, err := m.store.AcquireCycle(ctx, rec.ID, storage.PhaseObservation, lease, start, m.staleBefore(start))
	if err != nil {
		return nil, storageError(err)
	}
	if !acquired {
		return m.bufferObservation(ctx, rec, acc)
	}

	// Re-read under the guard: a cycle that finished since rec was loaded
	// may have moved the cutoff or rewritten the observations.
	fresh, err := m.store.GetRecord(ctx, rec.Scope, rec.ScopeKey)
	if err != nil {
		_, relErr := m.release(ctx, rec, storage.PhaseObservation, lease)
		return nil, errors.Join(storageError(err), relErr)
	}
	batch := unobservedMessages(fresh, messages)
	if len(batch) == 0 {
		_, err := m.release(ctx, fresh, storage.PhaseObservation, lease)
		return nil, err
	}

	m.logger.Info("starting observation",
		"record_id", fresh.ID,
		"key", fresh.ScopeKey,
		"messages", len(batch),
		"pending_tokens", acc.PendingTokens,
	)

	startEv := m.event(hooks.KindObservationStart, storage.PhaseObservation, fresh)
	startEv.PendingTokens = acc.PendingTokens
	startEv.MessageCount = len(batch)
	m.emit(ctx, startEv)

	spanCtx, span := m.telemetry.startSpan(ctx, SpanObserve, fresh, AttrMessages.Int(len(batch)))

	fail := func(cause error) error {
		elapsed := m.now().Sub(start)
		_, relErr := m.release(ctx, fresh, storage.PhaseObservation, lease)
		err := errors.Join(cause, relErr)
		endSpan(span, err)
		m.telemetry.recordCycle(ctx, storage.PhaseObservation, resultFailed, elapsed)

		ev := m.event(hooks.KindObservationFailed, storage.PhaseObservation, fresh)
		ev.MessageCount = len(batch)
		ev.Duration = elapsed
		ev.Err = err
		m.emit(ctx, ev)

		m.logger.Warn("observation failed",
			"record_id", fresh.ID,
			"key", fresh.ScopeKey,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return err
	}

	summary, err := m.observeFn(spanCtx, fresh.Observations, batch)
	if err != nil {
		return nil, fail(summarizationError(err))
	}
	tokenCount, err := m.summaryTokens(spanCtx, summary)
	if err != nil {
		return nil, fail(summarizationError(err))
	}

	cutoff := observedThrough(fresh.LastObservedAt, batch, m.now())
	params := storage.UpdateObservationsParams{
		Observations:          summary.Text,
		ObservationTokenCount: tokenCount,
		LastObservedAt:        cutoff,
		LastObservedMessageID: lastMessageID(batch, fresh.LastObservedMessageID),
		PendingMessageTokens:  0,
		Lease:                 lease,
	}
	if err := m.store.UpdateActiveObservations(spanCtx, fresh.ID, params); err != nil {
		return nil, fail(storageError(err))
	}

	written := fresh.Clone()
	written.Observations = params.Observations
	written.ObservationTokenCount = params.ObservationTokenCount
	written.LastObservedAt = &cutoff
	written.LastObservedMessageID = params.LastObservedMessageID
	written.PendingMessageTokens = 0
	written.GenerationCount++
	written.IsObserving, written.ObservingStartedAt, written.BufferingMessages = false, nil, false
	written.ObservingLease = uuid.Nil

	rerun, err := m.release(ctx, fresh, storage.PhaseObservation, lease)
	if err != nil {
		// The observation itself is committed; only the guard is stuck.
		endSpan(span, err)
		return nil, err
	}
	after := m.reload(ctx, fresh, written)

	elapsed := m.now().Sub(start)
	span.SetAttributes(AttrGeneration.Int(after.GenerationCount), AttrObservationTokens.Int(tokenCount))
	endSpan(span, nil)
	m.telemetry.recordCycle(ctx, storage.PhaseObservation, resultCompleted, elapsed)

	ev := m.event(hooks.KindObservationEnd, storage.PhaseObservation, after)
	ev.MessageCount = len(batch)
	ev.Duration = elapsed
	m.emit(ctx, ev)

	m.logger.Info("observation complete",
		"record_id", after.ID,
		"key", after.ScopeKey,
		"messages", len(batch),
		"tokens_before", fresh.ObservationTokenCount,
		"tokens_after", tokenCount,
		"generation", after.GenerationCount,
		"rerun", rerun,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &Outcome{
		Phase:        storage.PhaseObservation,
		Rerun:        rerun,
		Cutoff:       &cutoff,
		TokensBefore: fresh.ObservationTokenCount,
		TokensAfter:  tokenCount,
		MessageCount: len(batch),
		Record:       after,
		Duration:     elapsed,
	}, nil
}

// bufferObservation handles an attempt that found an observation in flight.
func (m *Memory) bufferObservation(ctx context.Context, rec *storage.Record, acc Accounting) (*Outcome, error) {
	if err := m.store.UpdatePendingTokens(ctx, rec.ID, acc.PendingTokens); err != nil {
		return nil, storageError(err)
	}

	buffered := rec.Clone()
	buffered.PendingMessageTokens = acc.PendingTokens
	buffered.IsObserving = true
	buffered.BufferingMessages = true

	m.telemetry.recordCycle(ctx, storage.PhaseObservation, resultBuffered, 0)
	ev := m.event(hooks.KindObservationBuffered, storage.PhaseObservation, buffered)
	ev.MessageCount = len(acc.Unobserved)
	m.emit(ctx, ev)

	m.logger.Debug("observation already running, buffered",
		"record_id", rec.ID,
		"key", rec.ScopeKey,
		"pending_tokens", acc.PendingTokens,
	)

	return &Outcome{
		Phase:        storage.PhaseObservation,
		Buffered:     true,
		TokensBefore: rec.ObservationTokenCount,
		TokensAfter:  rec.ObservationTokenCount,
		Record:       buffered,
	}, nil
}
