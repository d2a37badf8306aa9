// Package economy provides the shared goods stockpile that progression
// engines draw on: conditions read its availability and hook costs are
// charged against it.
package economy

import (
	"sort"
	"sync"

	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/progression"
)

// scarcityFloor keeps the scarcity ratio finite when a good runs out.
const scarcityFloor = 0.25

// Entry is the state of one good.
type Entry struct {
	Good      string  `json:"good"`
	Quantity  float64 `json:"quantity"`
	Income    float64 `json:"income"`    // Added per unit of simulated time
	Consumed  float64 `json:"consumed"`  // Lifetime consumption
	Shortfall float64 `json:"shortfall"` // Lifetime demand that could not be covered
	Demand    float64 `json:"demand"`    // Consumption since the last Replenish
}

// Scarcity returns recent demand over supply; above 1 the good is running down.
func (e Entry) Scarcity() float64 {
	supply := e.Quantity + e.Income
	if supply < scarcityFloor {
		supply = scarcityFloor
	}
	return e.Demand / supply
}

// Stockpile is a concurrency-safe goods ledger. It implements engine.Ledger
// so several engines can share it.
type Stockpile struct {
	mu      sync.Mutex
	entries map[string]*Entry
	tags    map[string]bool
}

var _ engine.Ledger = (*Stockpile)(nil)

// NewStockpile creates a stockpile holding the given goods.
func NewStockpile(goods map[string]float64) *Stockpile {
	s := &Stockpile{
		entries: make(map[string]*Entry, len(goods)),
		tags:    make(map[string]bool),
	}
	for g, q := range goods {
		s.entry(g).Quantity = nonNegative(q)
	}
	return s
}

func (s *Stockpile) entry(good string) *Entry {
	e, ok := s.entries[good]
	if !ok {
		e = &Entry{Good: good}
		s.entries[good] = e
	}
	return e
}

// SetIncome sets the per-unit-time replenishment of a good.
func (s *Stockpile) SetIncome(good string, perUnit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(good).Income = nonNegative(perUnit)
}

// Add deposits goods. Negative amounts are ignored.
func (s *Stockpile) Add(good string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(good).Quantity += nonNegative(amount)
}

// Quantity returns the amount of good on hand.
func (s *Stockpile) Quantity(good string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[good]; ok {
		return e.Quantity
	}
	return 0
}

// CanCover reports whether every cost could be paid in full right now.
func (s *Stockpile) CanCover(costs []engine.Cost) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := make(map[string]float64, len(costs))
	for _, c := range costs {
		need[c.Resource] += nonNegative(c.Amount)
	}
	for good, amt := range need {
		e, ok := s.entries[good]
		if amt > 0 && (!ok || e.Quantity < amt) {
			return false
		}
	}
	return true
}

// SetTag marks a facility or capability as present or absent.
func (s *Stockpile) SetTag(tag string, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if present {
		s.tags[tag] = true
	} else {
		delete(s.tags, tag)
	}
}

// Availability snapshots quantities and tags.
func (s *Stockpile) Availability() progression.Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := progression.Availability{
		Resources: make(map[string]float64, len(s.entries)),
		Tags:      make(map[string]bool, len(s.tags)),
	}
	for g, e := range s.entries {
		a.Resources[g] = e.Quantity
	}
	for t := range s.tags {
		a.Tags[t] = true
	}
	return a
}

// Consume withdraws costs. Quantities never go below zero; the uncovered
// remainder is recorded as shortfall.
func (s *Stockpile) Consume(costs []engine.Cost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range costs {
		amt := nonNegative(c.Amount)
		if amt == 0 {
			continue
		}
		e := s.entry(c.Resource)
		e.Demand += amt
		taken := min(amt, e.Quantity)
		e.Quantity -= taken
		e.Consumed += taken
		e.Shortfall += amt - taken
	}
}

// Replenish adds income for dt units of simulated time and starts a new
// demand window.
func (s *Stockpile) Replenish(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dt = nonNegative(dt)
	for _, e := range s.entries {
		e.Quantity += e.Income * dt
		e.Demand = 0
	}
}

// Entries returns a copy of every good, sorted by name.
func (s *Stockpile) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Good < out[j].Good })
	return out
}

func nonNegative(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
