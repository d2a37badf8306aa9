// Package config loads the run configuration: engines, their profiles and
// populations, the shared stockpile, the environment field, the tick driver
// and the HTTP API.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/progression/internal/progression"
)

type Config struct {
	DBPath    string          `yaml:"db_path" json:"db_path"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
	Engines   []Engine        `yaml:"engines" json:"engines"`
	Stockpile StockpileConfig `yaml:"stockpile" json:"stockpile"`
	Field     FieldConfig     `yaml:"field" json:"field"`
	Driver    DriverConfig    `yaml:"driver" json:"driver"`
	API       APIConfig       `yaml:"api" json:"api"`
	Weather   WeatherConfig   `yaml:"weather" json:"weather"`

	EntropyKey string `yaml:"-" json:"-"` // random.org key for drawing the field seed
}

// Engine configures one progression system and the entities spawned into it.
type Engine struct {
	Name             string                   `yaml:"name" json:"name"`
	Direction        string                   `yaml:"direction" json:"direction"`
	GlobalMultiplier float64                  `yaml:"global_multiplier" json:"global_multiplier"`
	AutoRemove       bool                     `yaml:"auto_remove" json:"auto_remove"`
	EventLimit       int                      `yaml:"event_limit" json:"event_limit"`
	MetricsHistory   int                      `yaml:"metrics_history" json:"metrics_history"`
	Workers          int                      `yaml:"workers" json:"workers"` // 0 = one per CPU
	Bands            []progression.Band       `yaml:"bands" json:"bands,omitempty"`
	Default          ProfileConfig            `yaml:"default" json:"default"`
	Profiles         map[string]ProfileConfig `yaml:"profiles" json:"profiles,omitempty"`
	Upkeep           map[string][]UpkeepRule  `yaml:"upkeep" json:"upkeep,omitempty"`     // Category -> per-unit costs
	Seasonal         map[string]float64       `yaml:"seasonal" json:"seasonal,omitempty"` // Season name -> rate multiplier
	Populations      []Population             `yaml:"populations" json:"populations"`
}

type ProfileConfig struct {
	Sensitivity progression.Sensitivity `yaml:"sensitivity" json:"sensitivity"`
	Curve       *progression.TempCurve  `yaml:"curve" json:"curve,omitempty"`
	Bands       []progression.Band      `yaml:"bands" json:"bands,omitempty"`
}

// UpkeepRule charges PerUnit of Resource for every unit of progress.
type UpkeepRule struct {
	Resource string  `yaml:"resource" json:"resource"`
	PerUnit  float64 `yaml:"per_unit" json:"per_unit"`
}

// Population is a batch of identical entities spawned at startup.
type Population struct {
	Category   string                  `yaml:"category" json:"category"`
	Count      int                     `yaml:"count" json:"count"`
	Value      *float64                `yaml:"value" json:"value,omitempty"` // Nil starts at the far end from terminal
	Max        float64                 `yaml:"max" json:"max"`
	BaseRate   float64                 `yaml:"base_rate" json:"base_rate"`
	Conditions *progression.Conditions `yaml:"conditions" json:"conditions,omitempty"`
	Tags       []string                `yaml:"tags" json:"tags,omitempty"`
}

type StockpileConfig struct {
	Goods  map[string]float64 `yaml:"goods" json:"goods"`
	Income map[string]float64 `yaml:"income" json:"income"` // Added per unit of simulated time
	Tags   []string           `yaml:"tags" json:"tags"`
}

type FieldConfig struct {
	Seed        int64   `yaml:"seed" json:"seed"`
	Radius      float64 `yaml:"radius" json:"radius"`
	Octaves     int     `yaml:"octaves" json:"octaves"`
	Frequency   float64 `yaml:"frequency" json:"frequency"`
	Persistence float64 `yaml:"persistence" json:"persistence"`
	TempMin     float64 `yaml:"temp_min" json:"temp_min"`
	TempMax     float64 `yaml:"temp_max" json:"temp_max"`
	DriftRate   float64 `yaml:"drift_rate" json:"drift_rate"`
}

type DriverConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`
	Speed        float64       `yaml:"speed" json:"speed"`
	Step         float64       `yaml:"step" json:"step"` // Simulated time units per tick
	FlushEvery   uint64        `yaml:"flush_every" json:"flush_every"`
	WeatherEvery uint64        `yaml:"weather_every" json:"weather_every"`
	DriftEvery   uint64        `yaml:"drift_every" json:"drift_every"`
	SeasonLength uint64        `yaml:"season_length" json:"season_length"` // Ticks per season
}

type APIConfig struct {
	Port         int    `yaml:"port" json:"port"`
	AdminKey     string `yaml:"-" json:"-"`
	AdminPerHour int    `yaml:"admin_per_hour" json:"admin_per_hour"`
}

type WeatherConfig struct {
	APIKey   string `yaml:"-" json:"-"`
	Location string `yaml:"location" json:"location"`
}

// Load reads a YAML file and fills in defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML configuration and fills in defaults.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	return &c, nil
}

// FromEnv loads the file named by PROGSIM_CONFIG (or the built-in default
// when unset) and applies environment overrides.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path := getenv("PROGSIM_CONFIG"); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file settings from the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PROGSIM_DB"); v != "" {
		c.DBPath = v
	}
	if v := getEnvInt(getenv, "PROGSIM_PORT"); v > 0 {
		c.API.Port = v
	}
	if v := getenv("PROGSIM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.API.AdminKey = getenv("PROGSIM_ADMIN_KEY")
	c.Weather.APIKey = getenv("OPENWEATHER_API_KEY")
	c.EntropyKey = getenv("RANDOM_ORG_API_KEY")
	if v := getenv("OPENWEATHER_LOCATION"); v != "" {
		c.Weather.Location = v
	}
}

func getEnvInt(getenv func(string) string, key string) int {
	val := getenv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}

func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "data/progression.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Field.ApplyDefaults()
	c.Driver.ApplyDefaults()
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.AdminPerHour == 0 {
		c.API.AdminPerHour = 600
	}
	for i := range c.Engines {
		c.Engines[i].ApplyDefaults()
	}
}

func (f *FieldConfig) ApplyDefaults() {
	if f.Radius <= 0 {
		f.Radius = 22
	}
	if f.Octaves <= 0 {
		f.Octaves = 3
	}
	if f.Frequency <= 0 {
		f.Frequency = 0.06
	}
	if f.Persistence <= 0 {
		f.Persistence = 0.5
	}
	if f.TempMin == 0 && f.TempMax == 0 {
		f.TempMin, f.TempMax = -5, 35
	}
	if f.DriftRate == 0 {
		f.DriftRate = 0.002
	}
}

func (d *DriverConfig) ApplyDefaults() {
	if d.Interval <= 0 {
		d.Interval = time.Second
	}
	if d.Speed == 0 {
		d.Speed = 1
	}
	if d.Step <= 0 {
		d.Step = 1
	}
	if d.FlushEvery == 0 {
		d.FlushEvery = 60
	}
	if d.DriftEvery == 0 {
		d.DriftEvery = 30
	}
	if d.WeatherEvery == 0 {
		d.WeatherEvery = 300
	}
	if d.SeasonLength == 0 {
		d.SeasonLength = 900
	}
}

func (e *Engine) ApplyDefaults() {
	if e.Direction == "" {
		e.Direction = progression.Decay.String()
	}
	if e.Name == "" {
		e.Name = strings.ToLower(e.Direction)
	}
	if e.GlobalMultiplier == 0 {
		e.GlobalMultiplier = 1
	}
	for i := range e.Populations {
		if e.Populations[i].Max <= 0 {
			e.Populations[i].Max = 100
		}
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Engines))
	for _, e := range c.Engines {
		if seen[e.Name] {
			return fmt.Errorf("duplicate engine %q", e.Name)
		}
		seen[e.Name] = true
		if _, err := e.ProgressionConfig(); err != nil {
			return fmt.Errorf("engine %q: %w", e.Name, err)
		}
	}
	return nil
}

// ProgressionConfig converts the engine section into an engine configuration.
func (e Engine) ProgressionConfig() (progression.Config, error) {
	dir, err := progression.ParseDirection(e.Direction)
	if err != nil {
		return progression.Config{}, err
	}
	cfg := progression.NewConfig(dir)
	cfg.GlobalMultiplier = e.GlobalMultiplier
	cfg.AutoRemove = e.AutoRemove
	cfg.EventLimit = e.EventLimit
	cfg.MetricsHistory = e.MetricsHistory

	if len(e.Bands) > 0 {
		if cfg.Bands, err = bandSet(e.Bands); err != nil {
			return progression.Config{}, fmt.Errorf("bands: %w", err)
		}
	}
	if cfg.Default, err = e.Default.profile(); err != nil {
		return progression.Config{}, fmt.Errorf("default profile: %w", err)
	}
	for name, pc := range e.Profiles {
		p, err := pc.profile()
		if err != nil {
			return progression.Config{}, fmt.Errorf("profile %q: %w", name, err)
		}
		cfg.Profiles[progression.Category(name)] = p
	}
	return cfg, nil
}

func (pc ProfileConfig) profile() (progression.Profile, error) {
	p := progression.Profile{Sensitivity: pc.Sensitivity, Curve: pc.Curve}
	if len(pc.Bands) > 0 {
		bs, err := bandSet(pc.Bands)
		if err != nil {
			return progression.Profile{}, fmt.Errorf("bands: %w", err)
		}
		p.Bands = &bs
	}
	return p, nil
}

func bandSet(bands []progression.Band) (progression.BandSet, error) {
	return progression.NewBandSet(bands...)
}
