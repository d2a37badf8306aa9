// Package field generates spatially coherent environments with layered
// simplex noise. Entities placed near each other see similar moisture,
// exposure, contamination and temperature.
package field

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/progression/internal/progression"
)

// Config holds field generation parameters.
type Config struct {
	Seed        int64   // Random seed (0 = random)
	Radius      float64 // Extent of the placement area
	Octaves     int
	Frequency   float64 // Base frequency of the first octave
	Persistence float64 // Amplitude falloff per octave
	TempMin     float64 // Degrees at the coldest point
	TempMax     float64 // Degrees at the hottest point
	DriftRate   float64 // Noise-space units per tick for SampleAt
}

// DefaultConfig returns a reasonable starting configuration.
func DefaultConfig() Config {
	return Config{
		Radius:      22,
		Octaves:     3,
		Frequency:   0.06,
		Persistence: 0.5,
		TempMin:     -5,
		TempMax:     35,
		DriftRate:   0.002,
	}
}

// Point is a position in the placement area.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Field samples environments. It is read-only after New and safe for
// concurrent use.
type Field struct {
	cfg   Config
	seed  int64
	moist opensimplex.Noise
	expo  opensimplex.Noise
	cont  opensimplex.Noise
	temp  opensimplex.Noise
}

// New builds a field from cfg.
func New(cfg Config) *Field {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	if cfg.Octaves <= 0 {
		cfg.Octaves = 1
	}
	if cfg.Radius <= 0 {
		cfg.Radius = 1
	}

	// Independent layers per factor.
	return &Field{
		cfg:   cfg,
		seed:  seed,
		moist: opensimplex.NewNormalized(seed),
		expo:  opensimplex.NewNormalized(seed + 1),
		cont:  opensimplex.NewNormalized(seed + 2),
		temp:  opensimplex.NewNormalized(seed + 3),
	}
}

// Seed returns the seed in use, which is random when the config left it 0.
func (f *Field) Seed() int64 { return f.seed }

// Sample returns the environment at (x, y).
func (f *Field) Sample(x, y float64) progression.Environment {
	return f.sample(x, y, func(n opensimplex.Noise, x, y, freq float64) float64 {
		return n.Eval2(x*freq, y*freq)
	})
}

// SampleAt returns the environment at (x, y) after tick ticks of drift.
func (f *Field) SampleAt(x, y float64, tick uint64) progression.Environment {
	z := float64(tick) * f.cfg.DriftRate
	return f.sample(x, y, func(n opensimplex.Noise, x, y, freq float64) float64 {
		return n.Eval3(x*freq, y*freq, z)
	})
}

type evalFn func(n opensimplex.Noise, x, y, freq float64) float64

func (f *Field) sample(x, y float64, eval evalFn) progression.Environment {
	c := f.cfg
	moist := octave(f.moist, eval, x, y, c.Octaves, c.Frequency, c.Persistence)
	expo := octave(f.expo, eval, x, y, c.Octaves, c.Frequency*0.8, c.Persistence)
	cont := octave(f.cont, eval, x, y, c.Octaves, c.Frequency*1.5, c.Persistence)
	temp := octave(f.temp, eval, x, y, c.Octaves, c.Frequency*0.6, c.Persistence)

	// Exposure rises toward the rim of the area.
	dist := math.Min(math.Hypot(x, y)/c.Radius, 1)
	expo = expo*0.7 + math.Pow(dist, 2)*0.3

	// Contamination sits in sparse hotspots.
	cont = math.Pow(cont, 3)

	// Warmest along the y = 0 band, cooling toward the edges.
	lat := 1 - math.Min(math.Abs(y)/c.Radius, 1)
	temp = temp*0.7 + lat*0.3

	env := progression.Environment{
		Moisture:      moist,
		Exposure:      expo,
		Contamination: cont,
		Temperature:   c.TempMin + (c.TempMax-c.TempMin)*temp,
	}
	env.Clamp()
	return env
}

// Place returns count points laid out on a hex spiral around the origin,
// one unit apart.
func (f *Field) Place(count int) []Point {
	pts := make([]Point, 0, count)
	if count <= 0 {
		return pts
	}
	pts = append(pts, axial(0, 0))

	// Axial neighbor directions, walked ring by ring.
	dirs := [6][2]int{{1, 0}, {1, -1}, {0, -1}, {-1, 0}, {-1, 1}, {0, 1}}
	for ring := 1; len(pts) < count; ring++ {
		q, r := -ring, ring // Start at direction 4 scaled by ring
		for side := 0; side < 6 && len(pts) < count; side++ {
			for step := 0; step < ring && len(pts) < count; step++ {
				pts = append(pts, axial(q, r))
				q += dirs[side][0]
				r += dirs[side][1]
			}
		}
	}
	return pts
}

// axial converts hex axial coordinates to continuous space.
func axial(q, r int) Point {
	return Point{
		X: float64(q) + float64(r)*0.5,
		Y: float64(r) * math.Sqrt(3.0) / 2.0,
	}
}

// octave layers multiple frequencies into fractal noise in [0,1).
func octave(n opensimplex.Noise, eval evalFn, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += eval(n, x, y, frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
