package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/talgya/progression/internal/progression"
)

// ErrEntityNotFound is returned for handles that no longer resolve.
var ErrEntityNotFound = errors.New("entity not found")

func notFound(h Handle) error {
	return fmt.Errorf("%w: %s", ErrEntityNotFound, h)
}

// Ledger is the host's resource pool. Availability is snapshotted once per
// tick before the parallel phase; Consume is called from the sequential phase.
type Ledger interface {
	Availability() progression.Availability
	Consume(costs []Cost)
}

// Spec describes an entity to spawn.
type Spec struct {
	Progression progression.Progression
	Environment progression.Environment
	Conditions  *progression.Conditions
	Tags        []string
}

// Snapshot is a read-only copy of one entity.
type Snapshot struct {
	Handle      Handle                  `json:"handle"`
	Progression progression.Progression `json:"progression"`
	Band        string                  `json:"band"`
	Environment progression.Environment `json:"environment"`
	Conditions  *progression.Conditions `json:"conditions,omitempty"`
	Tags        []string                `json:"tags,omitempty"`
	LastTick    uint64                  `json:"last_tick"`
	Terminal    bool                    `json:"terminal"`
}

// Option configures a System.
type Option func(*System)

// WithHook installs the host hook. Nil restores the no-op hook.
func WithHook(h Hook) Option {
	return func(s *System) {
		if h == nil {
			h = NopHook{}
		}
		s.hook = h
	}
}

// WithWorkers sets the parallel phase's worker count. 0 or 1 runs it on the
// calling goroutine; results are identical either way.
func WithWorkers(n int) Option {
	return func(s *System) {
		if n < 0 {
			n = 0
		}
		s.workers = n
	}
}

// WithLedger supplies the resource pool consulted by conditions and charged by hook costs.
func WithLedger(l Ledger) Option {
	return func(s *System) { s.ledger = l }
}

// WithClock overrides the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *System) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithName labels the system in logs and metrics.
func WithName(name string) Option {
	return func(s *System) { s.name = name }
}

// System is one progression engine instance. It is not safe for concurrent
// use: Update, Cleanup and the direct mutation calls must be serialized by
// the caller, and entities may only be spawned or removed between ticks.
type System struct {
	name    string
	cfg     progression.Config
	store   *Store
	hook    Hook
	ledger  Ledger
	workers int
	clock   func() time.Time
	logger  *slog.Logger

	tick    uint64
	events  *EventLog
	metrics Metrics
	history *metricsRing
	removal []Handle
	work    []candidate // Reused between ticks
}

// New creates a System. The configuration is copied; later changes to cfg
// have no effect on the engine.
func New(cfg progression.Config, opts ...Option) *System {
	cfg = cfg.Normalized()
	s := &System{
		name:    cfg.Direction.String(),
		cfg:     cfg,
		store:   NewStore(),
		hook:    NopHook{},
		workers: runtime.NumCPU(),
		clock:   time.Now,
		logger:  slog.Default(),
		events:  NewEventLog(cfg.EventLimit),
		history: newMetricsRing(cfg.MetricsHistory),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the system's label.
func (s *System) Name() string { return s.name }

// Config returns a copy of the engine configuration.
func (s *System) Config() progression.Config { return s.cfg.Clone() }

// Direction returns the engine direction.
func (s *System) Direction() progression.Direction { return s.cfg.Direction }

// Tick returns the number of ticks run so far.
func (s *System) Tick() uint64 { return s.tick }

// Len returns the number of live entities.
func (s *System) Len() int { return s.store.Len() }

// Spawn inserts a new entity and returns its handle. Out-of-range inputs are clamped.
func (s *System) Spawn(spec Spec) Handle {
	p := spec.Progression
	progression.Init(&p, s.cfg.BandsFor(p.Category))
	env := spec.Environment
	env.Clamp()

	rec := record{
		prog:     p,
		env:      env,
		cond:     spec.Conditions.Clone(),
		tags:     append([]string(nil), spec.Tags...),
		lastTick: s.tick,
		// An entity born terminal is not announced as newly terminal.
		terminated: progression.IsTerminal(p, s.cfg.Direction),
	}
	return s.store.insert(rec)
}

// Remove deletes an entity immediately.
func (s *System) Remove(h Handle) error {
	if !s.store.remove(h) {
		return notFound(h)
	}
	return nil
}

// Cleanup removes every entity queued for auto-removal since the previous
// cleanup and returns their handles.
func (s *System) Cleanup() []Handle {
	if len(s.removal) == 0 {
		return nil
	}
	removed := make([]Handle, 0, len(s.removal))
	for _, h := range s.removal {
		// Entities repaired or reduced out of terminal since queuing stay.
		rec, ok := s.store.lookup(h)
		if !ok || !progression.IsTerminal(rec.prog, s.cfg.Direction) {
			continue
		}
		s.store.remove(h)
		removed = append(removed, h)
	}
	s.removal = s.removal[:0]
	if len(removed) > 0 {
		s.logger.Debug("removed terminal entities", "system", s.name, "count", len(removed))
	}
	return removed
}

// PendingRemoval returns handles queued for the next Cleanup.
func (s *System) PendingRemoval() []Handle {
	return append([]Handle(nil), s.removal...)
}

// Reduce lowers an entity's value by magnitude and returns the applied delta
// (zero or negative). Negative magnitudes count as zero.
func (s *System) Reduce(ctx context.Context, h Handle, magnitude float64) (float64, error) {
	return s.adjust(ctx, h, -nonNegative(magnitude), SourceReduce)
}

// Repair raises an entity's value by magnitude and returns the applied delta
// (zero or positive). Negative magnitudes count as zero.
func (s *System) Repair(ctx context.Context, h Handle, magnitude float64) (float64, error) {
	return s.adjust(ctx, h, nonNegative(magnitude), SourceRepair)
}

func (s *System) adjust(ctx context.Context, h Handle, magnitude float64, source string) (float64, error) {
	rec, ok := s.store.lookup(h)
	if !ok {
		return 0, notFound(h)
	}
	if math.IsInf(magnitude, 0) {
		magnitude = math.Copysign(rec.prog.Max, magnitude)
	}
	out := s.commit(ctx, h, rec, magnitude, source, nil)
	return out.Delta, nil
}

// Pause stops an entity from progressing until Resume.
func (s *System) Pause(ctx context.Context, h Handle) error {
	rec, ok := s.store.lookup(h)
	if !ok {
		return notFound(h)
	}
	if rec.prog.Paused {
		return nil
	}
	rec.prog.Paused = true
	s.hook.OnPaused(ctx, h)
	return nil
}

// Resume lets a paused entity progress again.
func (s *System) Resume(ctx context.Context, h Handle) error {
	rec, ok := s.store.lookup(h)
	if !ok {
		return notFound(h)
	}
	if !rec.prog.Paused {
		return nil
	}
	rec.prog.Paused = false
	s.hook.OnResumed(ctx, h)
	return nil
}

// SetEnvironment replaces an entity's environment, clamping bounded factors.
func (s *System) SetEnvironment(h Handle, env progression.Environment) error {
	rec, ok := s.store.lookup(h)
	if !ok {
		return notFound(h)
	}
	env.Clamp()
	rec.env = env
	return nil
}

// SetConditions replaces an entity's static conditions. Nil clears them.
func (s *System) SetConditions(h Handle, cond *progression.Conditions) error {
	rec, ok := s.store.lookup(h)
	if !ok {
		return notFound(h)
	}
	rec.cond = cond.Clone()
	return nil
}

// Get returns a snapshot of an entity.
func (s *System) Get(h Handle) (Snapshot, bool) {
	rec, ok := s.store.lookup(h)
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(h, rec), true
}

func (s *System) snapshot(h Handle, rec *record) Snapshot {
	return Snapshot{
		Handle:      h,
		Progression: rec.prog,
		Band:        s.bandName(rec),
		Environment: rec.env,
		Conditions:  rec.cond.Clone(),
		Tags:        append([]string(nil), rec.tags...),
		LastTick:    rec.lastTick,
		Terminal:    progression.IsTerminal(rec.prog, s.cfg.Direction),
	}
}

func (s *System) bandName(rec *record) string {
	return s.cfg.BandsFor(rec.prog.Category).Name(rec.prog.Band())
}

// All returns snapshots of every live entity in handle order.
func (s *System) All() []Snapshot {
	out := make([]Snapshot, 0, s.store.Len())
	s.store.each(func(h Handle, rec *record) {
		out = append(out, s.snapshot(h, rec))
	})
	return out
}

// Handles returns every live handle in ascending order.
func (s *System) Handles() []Handle {
	return s.store.handles()
}

// EntitiesWithStatus returns the handles whose current band is named band.
func (s *System) EntitiesWithStatus(band string) []Handle {
	var out []Handle
	s.store.each(func(h Handle, rec *record) {
		if s.bandName(rec) == band {
			out = append(out, h)
		}
	})
	return out
}

// CountByStatus returns the number of entities in each band.
func (s *System) CountByStatus() map[string]int {
	counts := make(map[string]int)
	s.store.each(func(_ Handle, rec *record) {
		counts[s.bandName(rec)]++
	})
	return counts
}

// PausedEntities returns the handles of paused entities.
func (s *System) PausedEntities() []Handle {
	var out []Handle
	s.store.each(func(h Handle, rec *record) {
		if rec.prog.Paused {
			out = append(out, h)
		}
	})
	return out
}

// EstimateTerminal projects the time until h reaches its terminal extreme.
// It reports false when the entity is paused or its rate never gets there.
func (s *System) EstimateTerminal(h Handle) (float64, bool, error) {
	rec, ok := s.store.lookup(h)
	if !ok {
		return 0, false, notFound(h)
	}
	if rec.prog.Paused && !progression.IsTerminal(rec.prog, s.cfg.Direction) {
		return 0, false, nil
	}
	t, ok := progression.EstimateTerminalTime(rec.prog, s.cfg.Profile(rec.prog.Category), rec.env, s.cfg.GlobalMultiplier, s.cfg.Direction)
	return t, ok, nil
}

// Metrics returns the metrics of the most recent tick.
func (s *System) Metrics() Metrics { return s.metrics }

// MetricsHistory returns retained per-tick metrics, oldest first.
func (s *System) MetricsHistory() []Metrics { return s.history.list() }

// RecentEvents returns up to limit events, newest first.
func (s *System) RecentEvents(limit int) []Event { return s.events.Recent(limit) }

// EventsSince returns retained events with Seq > seq, oldest first.
func (s *System) EventsSince(seq uint64) []Event { return s.events.Since(seq) }

// LastEventSeq returns the sequence number of the latest event.
func (s *System) LastEventSeq() uint64 { return s.events.LastSeq() }

// unqueue drops h from the removal queue.
func (s *System) unqueue(h Handle) {
	for i, q := range s.removal {
		if q == h {
			s.removal = append(s.removal[:i], s.removal[i+1:]...)
			return
		}
	}
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
