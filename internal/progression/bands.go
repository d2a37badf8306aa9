package progression

import (
	"errors"
	"fmt"
)

// Band is a named range over value/max.
type Band struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
}

// BandSet is an ordered, non-overlapping, exhaustive set of bands.
// The first band is the point band ratio == 0 and the last the point band
// ratio == 1; the middle bands tile (0,1) as half-open [Min, Max) ranges.
type BandSet struct {
	bands []Band
}

// NewBandSet validates bands and returns a BandSet.
func NewBandSet(bands ...Band) (BandSet, error) {
	if len(bands) < 3 {
		return BandSet{}, errors.New("band set needs at least 3 bands")
	}
	first, last := bands[0], bands[len(bands)-1]
	if first.Min != 0 || first.Max != 0 {
		return BandSet{}, fmt.Errorf("first band %q must be the point range [0,0]", first.Name)
	}
	if last.Min != 1 || last.Max != 1 {
		return BandSet{}, fmt.Errorf("last band %q must be the point range [1,1]", last.Name)
	}

	seen := make(map[string]bool, len(bands))
	edge := 0.0
	for i, b := range bands {
		if b.Name == "" {
			return BandSet{}, fmt.Errorf("band %d has no name", i)
		}
		if seen[b.Name] {
			return BandSet{}, fmt.Errorf("duplicate band name %q", b.Name)
		}
		seen[b.Name] = true

		if i == 0 || i == len(bands)-1 {
			continue
		}
		if b.Min != edge {
			return BandSet{}, fmt.Errorf("band %q starts at %g, expected %g", b.Name, b.Min, edge)
		}
		if b.Max <= b.Min {
			return BandSet{}, fmt.Errorf("band %q is empty", b.Name)
		}
		edge = b.Max
	}
	if edge != 1 {
		return BandSet{}, fmt.Errorf("middle bands end at %g, expected 1", edge)
	}

	return BandSet{bands: append([]Band(nil), bands...)}, nil
}

func mustBands(bands ...Band) BandSet {
	bs, err := NewBandSet(bands...)
	if err != nil {
		panic(err)
	}
	return bs
}

// DefaultDecayBands returns the durability bands used by decay engines.
func DefaultDecayBands() BandSet {
	return mustBands(
		Band{Name: "destroyed", Min: 0, Max: 0},
		Band{Name: "critical", Min: 0, Max: 0.25},
		Band{Name: "damaged", Min: 0.25, Max: 0.5},
		Band{Name: "worn", Min: 0.5, Max: 0.75},
		Band{Name: "intact", Min: 0.75, Max: 1},
		Band{Name: "pristine", Min: 1, Max: 1},
	)
}

// DefaultGrowthBands returns the completion bands used by growth engines.
func DefaultGrowthBands() BandSet {
	return mustBands(
		Band{Name: "planned", Min: 0, Max: 0},
		Band{Name: "foundation", Min: 0, Max: 1.0 / 3},
		Band{Name: "framing", Min: 1.0 / 3, Max: 2.0 / 3},
		Band{Name: "finishing", Min: 2.0 / 3, Max: 1},
		Band{Name: "complete", Min: 1, Max: 1},
	)
}

// DefaultBands returns the default band set for a direction.
func DefaultBands(d Direction) BandSet {
	if d == Growth {
		return DefaultGrowthBands()
	}
	return DefaultDecayBands()
}

// Len returns the number of bands.
func (s BandSet) Len() int { return len(s.bands) }

// IsZero reports whether the set was never initialized.
func (s BandSet) IsZero() bool { return len(s.bands) == 0 }

// Bands returns a copy of the bands in order.
func (s BandSet) Bands() []Band {
	return append([]Band(nil), s.bands...)
}

// Classify returns the index of the band containing ratio.
// Ratios outside [0,1] clamp to the extremes.
func (s BandSet) Classify(ratio float64) int {
	n := len(s.bands)
	if n == 0 {
		return 0
	}
	if !(ratio > 0) {
		return 0
	}
	if ratio >= 1 {
		return n - 1
	}
	for i := 1; i < n-1; i++ {
		if ratio < s.bands[i].Max {
			return i
		}
	}
	return n - 2
}

// Name returns the band name at index i, or "" when out of range.
func (s BandSet) Name(i int) string {
	if i < 0 || i >= len(s.bands) {
		return ""
	}
	return s.bands[i].Name
}

// Index returns the position of the named band.
func (s BandSet) Index(name string) (int, bool) {
	for i, b := range s.bands {
		if b.Name == name {
			return i, true
		}
	}
	return 0, false
}

// IsTerminal reports whether p has reached the extreme its engine drives toward:
// zero for decay, Max for growth.
func IsTerminal(p Progression, d Direction) bool {
	if d == Decay {
		return p.Value <= 0
	}
	return p.Value >= p.Max
}
