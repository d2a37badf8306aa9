// Package engine runs progression ticks over an entity store.
// One System owns one Store; a tick is a parallel calculation phase followed
// by a sequential apply-and-notify phase.
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/talgya/progression/internal/progression"
)

// Handle identifies an entity. The high 32 bits hold the slot index, the low
// 32 bits the slot generation, so ascending handles follow slot order and a
// handle to a removed entity never resolves again.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(index)<<32 | uint64(gen))
}

// Index returns the slot index.
func (h Handle) Index() uint32 { return uint32(h >> 32) }

// Generation returns the slot generation.
func (h Handle) Generation() uint32 { return uint32(h) }

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Index(), h.Generation())
}

// ParseHandle parses the "index.generation" form produced by String.
func ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("malformed handle %q", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("handle index: %w", err)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("handle generation: %w", err)
	}
	return makeHandle(uint32(i), uint32(g)), nil
}

// MarshalText encodes h in its String form.
func (h Handle) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Handle) UnmarshalText(b []byte) error {
	v, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// record is everything the store keeps for one entity.
type record struct {
	prog       progression.Progression
	env        progression.Environment
	cond       *progression.Conditions
	tags       []string
	lastTick   uint64
	terminated bool // OnTerminal already delivered for the current terminal stay
}

type slot struct {
	gen   uint32
	alive bool
	rec   record
}

// Store is a generation-checked arena of entity records.
type Store struct {
	slots []slot
	free  []uint32
	live  int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{slots: make([]slot, 0, 64)}
}

func (s *Store) insert(rec record) Handle {
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	sl := &s.slots[idx]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1 // Generation 0 is never issued
	}
	sl.alive = true
	sl.rec = rec
	s.live++
	return makeHandle(idx, sl.gen)
}

// lookup resolves h to its live record.
func (s *Store) lookup(h Handle) (*record, bool) {
	idx := h.Index()
	if int(idx) >= len(s.slots) {
		return nil, false
	}
	sl := &s.slots[idx]
	if !sl.alive || sl.gen != h.Generation() {
		return nil, false
	}
	return &sl.rec, true
}

func (s *Store) remove(h Handle) bool {
	if _, ok := s.lookup(h); !ok {
		return false
	}
	idx := h.Index()
	sl := &s.slots[idx]
	sl.alive = false
	sl.rec = record{}
	s.free = append(s.free, idx)
	s.live--
	return true
}

// Len returns the number of live entities.
func (s *Store) Len() int { return s.live }

// each calls fn for every live entity in ascending handle order.
func (s *Store) each(fn func(h Handle, rec *record)) {
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.alive {
			fn(makeHandle(uint32(i), sl.gen), &sl.rec)
		}
	}
}

// handles returns all live handles in ascending order.
func (s *Store) handles() []Handle {
	out := make([]Handle, 0, s.live)
	s.each(func(h Handle, _ *record) {
		out = append(out, h)
	})
	return out
}
