package engine

import (
	"context"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/progression/internal/progression"
)

// parallelThreshold is the entity count below which the calculation phase
// stays on the calling goroutine.
const parallelThreshold = 256

type skipReason uint8

const (
	skipNone skipReason = iota
	skipPaused
	skipConditions
	skipTerminal
)

// candidate is the advisory result of the calculation phase for one entity.
// Nothing in it is committed until the apply phase accepts it.
type candidate struct {
	h       Handle
	rec     *record
	skip    skipReason
	envTerm float64
	delta   float64
	next    float64
	band    int
}

// Update runs one tick of dt time units. A dt of zero or less only records
// the call's duration.
func (s *System) Update(ctx context.Context, dt float64) {
	start := time.Now()
	if !(dt > 0) {
		s.metrics.Duration = time.Since(start)
		return
	}

	s.tick++
	var avail progression.Availability
	if s.ledger != nil {
		avail = s.ledger.Availability()
	}

	s.work = s.work[:0]
	s.store.each(func(h Handle, rec *record) {
		s.work = append(s.work, candidate{h: h, rec: rec})
	})

	s.calculate(dt, avail)
	m := s.apply(ctx, dt)

	m.Tick = s.tick
	m.Duration = time.Since(start)
	s.metrics = m
	s.history.push(m)

	s.logger.Debug("tick",
		"system", s.name,
		"tick", s.tick,
		"processed", m.Processed,
		"skipped_paused", m.SkippedPaused,
		"skipped_conditions", m.SkippedConditions,
		"skipped_hook", m.SkippedHook,
		"newly_terminal", m.NewlyTerminal,
		"duration", m.Duration,
	)
}

// calculate fills in every candidate. Each evaluation reads only its own
// record and the immutable configuration and writes only its own slot of
// s.work, so chunks run concurrently without locks.
func (s *System) calculate(dt float64, avail progression.Availability) {
	n := len(s.work)
	if s.workers <= 1 || n < parallelThreshold {
		for i := range s.work {
			s.evaluate(&s.work[i], dt, avail)
		}
		return
	}

	chunk := (n + s.workers - 1) / s.workers
	var g errgroup.Group
	g.SetLimit(s.workers)
	for lo := 0; lo < n; lo += chunk {
		part := s.work[lo:min(lo+chunk, n)]
		g.Go(func() error {
			for i := range part {
				s.evaluate(&part[i], dt, avail)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *System) evaluate(c *candidate, dt float64, avail progression.Availability) {
	rec := c.rec
	switch {
	case rec.prog.Paused:
		c.skip = skipPaused
		return
	case !progression.CheckConditions(rec.cond, rec.env.Temperature, avail):
		c.skip = skipConditions
		return
	case progression.IsTerminal(rec.prog, s.cfg.Direction):
		c.skip = skipTerminal
		return
	}

	cat := rec.prog.Category
	c.envTerm = progression.EnvironmentTerm(s.cfg.Profile(cat), rec.env)
	c.delta = progression.DeltaWithTerm(rec.prog.BaseRate, c.envTerm, s.cfg.GlobalMultiplier, s.cfg.Direction, dt)

	p := rec.prog
	out := progression.Apply(&p, s.cfg.BandsFor(cat), c.delta)
	c.next = out.New
	c.band = out.NewBand
	c.skip = skipNone
}

// apply commits candidates in ascending handle order, consulting the hook
// for each one.
func (s *System) apply(ctx context.Context, dt float64) Metrics {
	var m Metrics
	for i := range s.work {
		c := &s.work[i]
		switch c.skip {
		case skipPaused:
			m.SkippedPaused++
			continue
		case skipConditions:
			m.SkippedConditions++
			continue
		case skipTerminal:
			continue
		}

		if !s.hook.ShouldProgress(ctx, c.h) {
			m.SkippedHook++
			if c.band != c.rec.prog.Band() {
				s.logger.Debug("gate discarded band change",
					"system", s.name, "handle", c.h, "value", c.rec.prog.Value, "candidate", c.next)
			}
			continue
		}

		delta := c.delta
		base := c.rec.prog.BaseRate
		if rate := s.hook.ModifyRate(ctx, c.h, base); rate != base {
			delta = progression.DeltaWithTerm(rate, c.envTerm, s.cfg.GlobalMultiplier, s.cfg.Direction, dt)
		}
		m.Processed++
		s.commit(ctx, c.h, c.rec, delta, SourceTick, &m)
	}
	return m
}

// commit writes delta into rec and runs the notification sequence: status
// change, terminal, resource cost, event. m may be nil for direct mutations.
func (s *System) commit(ctx context.Context, h Handle, rec *record, delta float64, source string, m *Metrics) progression.Outcome {
	out := progression.Apply(&rec.prog, s.cfg.BandsFor(rec.prog.Category), delta)
	if out.Delta == 0 && !out.StatusChanged {
		return out
	}
	rec.lastTick = s.tick

	if out.StatusChanged {
		s.hook.OnStatusChanged(ctx, h, out.New)
	}

	newlyTerminal := false
	if progression.IsTerminal(rec.prog, s.cfg.Direction) {
		if !rec.terminated {
			rec.terminated = true
			newlyTerminal = true
			s.hook.OnTerminal(ctx, h, s.snapshot(h, rec))
			if s.cfg.AutoRemove {
				s.removal = append(s.removal, h)
			}
		}
	} else if rec.terminated {
		rec.terminated = false
		s.unqueue(h)
	}

	costs := s.hook.ResourceCost(ctx, h, math.Abs(out.Delta))
	if len(costs) > 0 && s.ledger != nil {
		s.ledger.Consume(costs)
	}

	s.events.Append(Event{
		Tick:          s.tick,
		Handle:        h,
		Old:           out.Old,
		New:           out.New,
		Delta:         out.Delta,
		StatusChanged: out.StatusChanged,
		Band:          s.bandName(rec),
		Source:        source,
		Costs:         costs,
		At:            s.clock(),
	})

	if m != nil {
		m.Events++
		m.TotalDelta += out.Delta
		if newlyTerminal {
			m.NewlyTerminal++
		}
	}
	return out
}
