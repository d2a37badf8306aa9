package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/progression/internal/progression"
)

const sample = `
db_path: /tmp/runs.db
engines:
  - name: rot
    direction: decay
    global_multiplier: 2
    auto_remove: true
    profiles:
      wood:
        sensitivity: {moisture: 0.5}
        curve: {optimal: 22, tolerance: 5, warm_slope: 0.02, cold_slope: 0.02}
    populations:
      - {category: wood, count: 3, base_rate: 1}
  - name: build
    direction: growth
    bands:
      - {name: none, min: 0, max: 0}
      - {name: partial, min: 0, max: 1}
      - {name: done, min: 1, max: 1}
driver:
  interval: 250ms
  step: 0.5
`

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/runs.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.Driver.Interval)
	assert.Equal(t, 0.5, cfg.Driver.Step)
	assert.Equal(t, uint64(60), cfg.Driver.FlushEvery)
	assert.Equal(t, 8080, cfg.API.Port)
	require.Len(t, cfg.Engines, 2)

	rot, err := cfg.Engines[0].ProgressionConfig()
	require.NoError(t, err)
	assert.Equal(t, progression.Decay, rot.Direction)
	assert.Equal(t, 2.0, rot.GlobalMultiplier)
	assert.True(t, rot.AutoRemove)
	wood := rot.Profile("wood")
	require.NotNil(t, wood.Curve)
	assert.Equal(t, 22.0, wood.Curve.Optimal)
	assert.Equal(t, 0.5, wood.Sensitivity.Moisture)
	assert.Equal(t, 100.0, cfg.Engines[0].Populations[0].Max)

	build, err := cfg.Engines[1].ProgressionConfig()
	require.NoError(t, err)
	assert.Equal(t, 1.0, build.GlobalMultiplier)
	assert.Equal(t, "partial", build.Bands.Name(build.Bands.Classify(0.5)))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rot", cfg.Engines[0].Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := FromEnv(env(map[string]string{
		"PROGSIM_CONFIG":       path,
		"PROGSIM_DB":           "override.db",
		"PROGSIM_PORT":         "9100",
		"PROGSIM_ADMIN_KEY":    "secret",
		"PROGSIM_LOG_LEVEL":    "debug",
		"OPENWEATHER_API_KEY":  "owm",
		"OPENWEATHER_LOCATION": "Oslo,NO",
	}))
	require.NoError(t, err)
	assert.Equal(t, "override.db", cfg.DBPath)
	assert.Equal(t, 9100, cfg.API.Port)
	assert.Equal(t, "secret", cfg.API.AdminKey)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "owm", cfg.Weather.APIKey)
	assert.Equal(t, "Oslo,NO", cfg.Weather.Location)
}

func TestFromEnv_DefaultWhenUnset(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"PROGSIM_PORT": "not-a-number"}))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
	require.Len(t, cfg.Engines, 2)
	assert.Equal(t, "construction", cfg.Engines[1].Name)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Engines = append(cfg.Engines, Engine{Name: "decay", Direction: "decay"})
	assert.ErrorContains(t, cfg.Validate(), "duplicate engine")

	cfg = Default()
	cfg.Engines[0].Direction = "sideways"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engines[0].Bands = []progression.Band{{Name: "only", Min: 0, Max: 1}}
	assert.Error(t, cfg.Validate())
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	for _, e := range cfg.Engines {
		pc, err := e.ProgressionConfig()
		require.NoError(t, err, e.Name)
		assert.NotEmpty(t, e.Populations, e.Name)
		assert.False(t, pc.Bands.IsZero())
	}
}
