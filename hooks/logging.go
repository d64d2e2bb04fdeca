package hooks

import (
	"context"
	"log/slog"
)

// LoggingHooks provides built-in logging hooks for observability
type LoggingHooks struct {
	logger *slog.Logger
}

// NewLoggingHooks creates logging hooks with the provided logger
func NewLoggingHooks(logger *slog.Logger) *LoggingHooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHooks{logger: logger}
}

// DefaultLoggingHooks creates logging hooks with default logger
func DefaultLoggingHooks() *LoggingHooks {
	return &LoggingHooks{logger: slog.Default()}
}

func (h *LoggingHooks) attrs(ev Event) []any {
	args := []any{
		"record_id", ev.RecordID,
		"scope", ev.Scope,
		"key", ev.Key,
		"pending_tokens", ev.PendingTokens,
		"observation_tokens", ev.ObservationTokens,
	}
	if ev.MessageCount > 0 {
		args = append(args, "messages", ev.MessageCount)
	}
	if ev.Generation > 0 {
		args = append(args, "generation", ev.Generation)
	}
	if ev.Duration > 0 {
		args = append(args, "duration_ms", ev.Duration.Milliseconds())
	}
	if ev.Err != nil {
		args = append(args, "error", ev.Err)
	}
	return args
}

func (h *LoggingHooks) OnObservationStart(ctx context.Context, ev Event) error {
	h.logger.InfoContext(ctx, "[agentmem] observation started", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnObservationEnd(ctx context.Context, ev Event) error {
	h.logger.InfoContext(ctx, "[agentmem] observation complete", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnObservationFailed(ctx context.Context, ev Event) error {
	h.logger.WarnContext(ctx, "[agentmem] observation failed", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnObservationBuffered(ctx context.Context, ev Event) error {
	h.logger.DebugContext(ctx, "[agentmem] observation already running, input buffered", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnReflectionStart(ctx context.Context, ev Event) error {
	h.logger.InfoContext(ctx, "[agentmem] reflection started", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnReflectionEnd(ctx context.Context, ev Event) error {
	h.logger.InfoContext(ctx, "[agentmem] reflection complete", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnReflectionFailed(ctx context.Context, ev Event) error {
	h.logger.WarnContext(ctx, "[agentmem] reflection failed", h.attrs(ev)...)
	return nil
}

func (h *LoggingHooks) OnReflectionBuffered(ctx context.Context, ev Event) error {
	h.logger.DebugContext(ctx, "[agentmem] reflection already running, observations buffered", h.attrs(ev)...)
	return nil
}

var _ Listener = (*LoggingHooks)(nil)
