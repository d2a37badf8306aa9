// Package driver schedules progression ticks. A Host serializes access to
// one engine.System; a Driver advances every host on a wall-clock interval.
package driver

import (
	"context"
	"sync"

	"github.com/talgya/progression/internal/engine"
)

// StepResult summarizes one host tick.
type StepResult struct {
	Metrics engine.Metrics
	Removed []engine.Handle
}

// Host guards a System with a mutex so ticks, API reads and admin mutations
// never overlap.
type Host struct {
	mu  sync.Mutex
	sys *engine.System

	// Cursors for Pending.
	flushedSeq  uint64
	flushedTick uint64

	onRemoved func([]engine.Handle)
}

// NewHost wraps sys. onRemoved, if set, receives the handles removed by
// each step's cleanup while the host lock is held.
func NewHost(sys *engine.System, onRemoved func([]engine.Handle)) *Host {
	return &Host{sys: sys, onRemoved: onRemoved}
}

// Name returns the wrapped system's name.
func (h *Host) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sys.Name()
}

// Step removes the entities the previous tick left terminal, then runs one
// tick of dt. A just-terminal entity stays readable for a whole tick before
// it disappears.
func (h *Host) Step(ctx context.Context, dt float64) StepResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := h.sys.Cleanup()
	if len(removed) > 0 && h.onRemoved != nil {
		h.onRemoved(removed)
	}
	h.sys.Update(ctx, dt)
	return StepResult{Metrics: h.sys.Metrics(), Removed: removed}
}

// View runs fn with exclusive access for reading.
func (h *Host) View(fn func(sys *engine.System)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.sys)
}

// Do runs fn with exclusive access and returns its error.
func (h *Host) Do(fn func(sys *engine.System) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.sys)
}

// Pending returns the events and tick metrics produced since the previous
// call. Anything evicted from the engine's rings in between is lost.
func (h *Host) Pending() ([]engine.Event, []engine.Metrics) {
	h.mu.Lock()
	defer h.mu.Unlock()

	events := h.sys.EventsSince(h.flushedSeq)
	h.flushedSeq = h.sys.LastEventSeq()

	var metrics []engine.Metrics
	for _, m := range h.sys.MetricsHistory() {
		if m.Tick > h.flushedTick {
			metrics = append(metrics, m)
		}
	}
	h.flushedTick = h.sys.Tick()

	return events, metrics
}
