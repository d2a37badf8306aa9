package progression

import "math"

// Outcome describes one applied change.
type Outcome struct {
	Old           float64 `json:"old"`
	New           float64 `json:"new"`
	Delta         float64 `json:"delta"` // New - Old after clamping
	OldBand       int     `json:"old_band"`
	NewBand       int     `json:"new_band"`
	StatusChanged bool    `json:"status_changed"`
}

// EnvironmentTerm sums the environmental contributions of env under profile,
// before the direction sign, global multiplier and time step are applied.
func EnvironmentTerm(profile Profile, env Environment) float64 {
	s := profile.Sensitivity
	term := env.Moisture*s.Moisture + env.Exposure*s.Exposure + env.Contamination*s.Contamination
	if profile.Curve != nil {
		term += profile.Curve.Response(env.Temperature)
	} else {
		term += env.Temperature * s.Temperature
	}
	return term
}

// Rate returns the signed change per unit time.
func Rate(baseRate float64, profile Profile, env Environment, globalMultiplier float64, d Direction) float64 {
	return RateWithTerm(baseRate, EnvironmentTerm(profile, env), globalMultiplier, d)
}

// RateWithTerm is Rate with a precomputed environment term.
func RateWithTerm(baseRate, envTerm, globalMultiplier float64, d Direction) float64 {
	r := d.Sign() * (baseRate + envTerm) * globalMultiplier
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// ComputeDelta returns the signed change over dt. Negative dt counts as zero.
func ComputeDelta(baseRate float64, profile Profile, env Environment, globalMultiplier float64, d Direction, dt float64) float64 {
	return DeltaWithTerm(baseRate, EnvironmentTerm(profile, env), globalMultiplier, d, dt)
}

// DeltaWithTerm is ComputeDelta with a precomputed environment term.
func DeltaWithTerm(baseRate, envTerm, globalMultiplier float64, d Direction, dt float64) float64 {
	if !(dt > 0) {
		return 0
	}
	return RateWithTerm(baseRate, envTerm, globalMultiplier, d) * dt
}

// Apply adds delta to p, clamps to [0, Max] and re-derives the band.
// A zero or NaN delta leaves p untouched.
func Apply(p *Progression, bands BandSet, delta float64) Outcome {
	out := Outcome{Old: p.Value, New: p.Value, OldBand: p.band, NewBand: p.band}
	if delta == 0 || math.IsNaN(delta) {
		return out
	}

	next := clamp(p.Value+delta, 0, p.Max)
	p.Value = next
	p.band = bands.Classify(p.Ratio())

	out.New = next
	out.Delta = next - out.Old
	out.NewBand = p.band
	out.StatusChanged = out.NewBand != out.OldBand
	return out
}

// Adjust applies a direct signed adjustment outside the tick formula:
// negative magnitudes reduce, positive magnitudes repair.
func Adjust(p *Progression, bands BandSet, magnitude float64) Outcome {
	if math.IsInf(magnitude, 0) {
		magnitude = math.Copysign(p.Max, magnitude)
	}
	return Apply(p, bands, magnitude)
}

// CheckConditions reports whether cond is satisfied at the given temperature
// with the given availability. Nil conditions are always satisfied.
func CheckConditions(cond *Conditions, temperature float64, avail Availability) bool {
	if cond == nil {
		return true
	}
	for _, req := range cond.Resources {
		if avail.Resources[req.Name] < req.Min {
			return false
		}
	}
	if cond.Temperature != nil && !cond.Temperature.Contains(temperature) {
		return false
	}
	if cond.RequiredTag != "" && !avail.Tags[cond.RequiredTag] {
		return false
	}
	return true
}

// EstimateTerminalTime projects the time until p reaches its terminal extreme
// at the current rate. It reports false when the rate is zero or points away
// from the terminal extreme.
func EstimateTerminalTime(p Progression, profile Profile, env Environment, globalMultiplier float64, d Direction) (float64, bool) {
	if IsTerminal(p, d) {
		return 0, true
	}
	rate := Rate(p.BaseRate, profile, env, globalMultiplier, d)
	switch {
	case d == Decay && rate < 0:
		return p.Value / -rate, true
	case d == Growth && rate > 0:
		return (p.Max - p.Value) / rate, true
	default:
		return 0, false
	}
}

// Init normalizes p and derives its band for first insertion.
func Init(p *Progression, bands BandSet) {
	p.Normalize()
	p.Rederive(bands)
}
