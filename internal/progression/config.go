package progression

import "math"

// Default retention limits.
const (
	DefaultEventLimit     = 1024
	DefaultMetricsHistory = 120
)

// Sensitivity weights each environmental factor's contribution to the rate.
// A negative weight reverses that factor's effect.
type Sensitivity struct {
	Moisture      float64 `json:"moisture" yaml:"moisture"`
	Exposure      float64 `json:"exposure" yaml:"exposure"`
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Temperature   float64 `json:"temperature" yaml:"temperature"` // Linear weight, used only without a Curve
}

// TempCurve is a dead-band response: no contribution within Optimal ± Tolerance,
// then a linear slope per degree beyond it. Warm and cold sides slope independently.
type TempCurve struct {
	Optimal   float64 `json:"optimal" yaml:"optimal"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
	WarmSlope float64 `json:"warm_slope" yaml:"warm_slope"`
	ColdSlope float64 `json:"cold_slope" yaml:"cold_slope"`
}

// Response returns the curve's contribution at temperature t.
func (c TempCurve) Response(t float64) float64 {
	tol := c.Tolerance
	if tol < 0 {
		tol = -tol
	}
	switch {
	case t > c.Optimal+tol:
		return (t - c.Optimal - tol) * c.WarmSlope
	case t < c.Optimal-tol:
		return (c.Optimal - tol - t) * c.ColdSlope
	default:
		return 0
	}
}

// Profile is the sensitivity profile of one category.
type Profile struct {
	Sensitivity Sensitivity `json:"sensitivity"`
	Curve       *TempCurve  `json:"curve,omitempty"` // Replaces the linear temperature term when set
	Bands       *BandSet    `json:"-"`               // Overrides the engine's bands for this category
}

func (p Profile) clone() Profile {
	cp := Profile{Sensitivity: p.Sensitivity}
	if p.Curve != nil {
		c := *p.Curve
		cp.Curve = &c
	}
	if p.Bands != nil {
		b := BandSet{bands: p.Bands.Bands()}
		cp.Bands = &b
	}
	return cp
}

// Config is the read-only modifier configuration of one engine.
type Config struct {
	Direction        Direction
	GlobalMultiplier float64
	Bands            BandSet
	Default          Profile // Used for categories with no profile; zero means no environmental effect
	Profiles         map[Category]Profile
	EventLimit       int
	MetricsHistory   int
	AutoRemove       bool
}

// NewConfig returns a configuration with defaults for the given direction.
func NewConfig(d Direction) Config {
	return Config{
		Direction:        d,
		GlobalMultiplier: 1.0,
		Bands:            DefaultBands(d),
		Profiles:         make(map[Category]Profile),
		EventLimit:       DefaultEventLimit,
		MetricsHistory:   DefaultMetricsHistory,
	}
}

// Normalized returns a deep copy with missing or out-of-range fields defaulted.
func (c Config) Normalized() Config {
	cp := c.Clone()
	if cp.Bands.IsZero() {
		cp.Bands = DefaultBands(cp.Direction)
	}
	if math.IsNaN(cp.GlobalMultiplier) || math.IsInf(cp.GlobalMultiplier, 0) {
		cp.GlobalMultiplier = 1.0
	}
	if cp.EventLimit <= 0 {
		cp.EventLimit = DefaultEventLimit
	}
	if cp.MetricsHistory <= 0 {
		cp.MetricsHistory = DefaultMetricsHistory
	}
	if cp.Profiles == nil {
		cp.Profiles = make(map[Category]Profile)
	}
	return cp
}

// Clone returns a deep copy that shares no mutable state with c.
func (c Config) Clone() Config {
	cp := c
	cp.Bands = BandSet{bands: c.Bands.Bands()}
	cp.Default = c.Default.clone()
	cp.Profiles = make(map[Category]Profile, len(c.Profiles))
	for k, v := range c.Profiles {
		cp.Profiles[k] = v.clone()
	}
	return cp
}

// Profile returns the profile of cat, falling back to Default for unknown categories.
func (c Config) Profile(cat Category) Profile {
	if p, ok := c.Profiles[cat]; ok {
		return p
	}
	return c.Default
}

// BandsFor returns the band set that classifies entities of cat.
func (c Config) BandsFor(cat Category) BandSet {
	if p := c.Profile(cat); p.Bands != nil && !p.Bands.IsZero() {
		return *p.Bands
	}
	return c.Bands
}
