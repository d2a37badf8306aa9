package hooks

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/talgya/progression/internal/engine"
)

// Logging writes engine notifications to a structured logger.
type Logging struct {
	engine.NopHook
	logger *slog.Logger

	statusChanges atomic.Uint64
	terminals     atomic.Uint64
}

// NewLogging creates a logging hook for the named system. A nil logger uses slog.Default().
func NewLogging(logger *slog.Logger, system string) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger.With("system", system)}
}

func (l *Logging) OnStatusChanged(ctx context.Context, h engine.Handle, newValue float64) {
	l.statusChanges.Add(1)
	l.logger.DebugContext(ctx, "status changed", "handle", h, "value", newValue)
}

func (l *Logging) OnTerminal(ctx context.Context, h engine.Handle, snap engine.Snapshot) {
	l.terminals.Add(1)
	l.logger.InfoContext(ctx, "entity reached terminal state",
		"handle", h,
		"band", snap.Band,
		"category", snap.Progression.Category,
		"last_tick", snap.LastTick,
	)
}

func (l *Logging) OnPaused(ctx context.Context, h engine.Handle) {
	l.logger.InfoContext(ctx, "entity paused", "handle", h)
}

func (l *Logging) OnResumed(ctx context.Context, h engine.Handle) {
	l.logger.InfoContext(ctx, "entity resumed", "handle", h)
}

// StatusChanges returns the number of status changes seen.
func (l *Logging) StatusChanges() uint64 { return l.statusChanges.Load() }

// Terminals returns the number of terminal notifications seen.
func (l *Logging) Terminals() uint64 { return l.terminals.Load() }
