// Package progression provides the data model and pure functions behind the
// progression engine: bounded per-entity values that decay toward zero or grow
// toward a maximum, driven by a base rate and environmental exposure.
package progression

import (
	"fmt"
	"math"
	"strings"
)

// Direction fixes which extreme an engine drives its entities toward.
type Direction uint8

const (
	Decay  Direction = iota // Values fall toward 0
	Growth                  // Values rise toward Max
)

// Sign returns -1 for decay and +1 for growth.
func (d Direction) Sign() float64 {
	if d == Decay {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	switch d {
	case Decay:
		return "decay"
	case Growth:
		return "growth"
	default:
		return "unknown"
	}
}

// ParseDirection accepts "decay" or "growth" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "decay":
		return Decay, nil
	case "growth":
		return Growth, nil
	default:
		return Decay, fmt.Errorf("unknown direction %q", s)
	}
}

// Category is an opaque tag used to look up environmental sensitivities.
type Category string

// Progression is the bounded scalar tracked per entity.
type Progression struct {
	Value    float64  `json:"value"`     // 0..Max
	Max      float64  `json:"max"`       // > 0
	BaseRate float64  `json:"base_rate"` // Magnitude per unit time; sign comes from the engine direction
	Category Category `json:"category"`
	Paused   bool     `json:"paused"`

	band int // Derived from Value/Max, never set by callers
}

// Band returns the index of the status band containing Value/Max.
func (p Progression) Band() int { return p.band }

// Ratio returns Value/Max.
func (p Progression) Ratio() float64 {
	if p.Max <= 0 {
		return 0
	}
	return p.Value / p.Max
}

// Normalize clamps all fields into their legal ranges.
func (p *Progression) Normalize() {
	if math.IsNaN(p.Max) || p.Max <= 0 {
		p.Max = 1
	}
	if math.IsInf(p.Max, 1) {
		p.Max = math.MaxFloat64
	}
	if math.IsNaN(p.BaseRate) {
		p.BaseRate = 0
	}
	p.Value = clamp(p.Value, 0, p.Max)
}

// Rederive recomputes the band from the current value.
func (p *Progression) Rederive(bands BandSet) {
	p.band = bands.Classify(p.Ratio())
}

// Environment holds the four exposure factors of one entity. Moisture, Exposure
// and Contamination live in [0,1]; Temperature is unbounded (degrees).
// Factors are clamped on write: use Clamp or the With* setters.
type Environment struct {
	Moisture      float64 `json:"moisture" yaml:"moisture"`
	Exposure      float64 `json:"exposure" yaml:"exposure"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
}

// Clamp forces the bounded factors into [0,1] and drops NaN values to 0.
func (e *Environment) Clamp() {
	e.Moisture = clamp(e.Moisture, 0, 1)
	e.Exposure = clamp(e.Exposure, 0, 1)
	e.Contamination = clamp(e.Contamination, 0, 1)
	if math.IsNaN(e.Temperature) {
		e.Temperature = 0
	}
}

func (e Environment) WithMoisture(v float64) Environment {
	e.Moisture = clamp(v, 0, 1)
	return e
}

func (e Environment) WithExposure(v float64) Environment {
	e.Exposure = clamp(v, 0, 1)
	return e
}

func (e Environment) WithTemperature(v float64) Environment {
	if math.IsNaN(v) {
		v = 0
	}
	e.Temperature = v
	return e
}

// Requirement is a resource that must be available in at least Min quantity.
type Requirement struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min" yaml:"min"`
}

// Range is an inclusive interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Conditions are static prerequisites checked before an entity may progress.
// A nil *Conditions is always satisfied.
type Conditions struct {
	Resources   []Requirement `json:"resources,omitempty" yaml:"resources"`
	Temperature *Range        `json:"temperature,omitempty" yaml:"temperature"`
	RequiredTag string        `json:"required_tag,omitempty" yaml:"required_tag"`
}

// Clone returns a deep copy.
func (c *Conditions) Clone() *Conditions {
	if c == nil {
		return nil
	}
	cp := &Conditions{RequiredTag: c.RequiredTag}
	if len(c.Resources) > 0 {
		cp.Resources = append([]Requirement(nil), c.Resources...)
	}
	if c.Temperature != nil {
		r := *c.Temperature
		cp.Temperature = &r
	}
	return cp
}

// Availability is what the host reports as on hand when conditions are checked.
type Availability struct {
	Resources map[string]float64 `json:"resources"`
	Tags      map[string]bool    `json:"tags"`
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
