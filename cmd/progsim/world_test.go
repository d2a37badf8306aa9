package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/progression/internal/config"
	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/hooks"
	"github.com/talgya/progression/internal/persistence"
	"github.com/talgya/progression/internal/progression"
)

const testConfig = `
engines:
  - name: rot
    direction: decay
    auto_remove: true
    seasonal:
      winter: 2
    populations:
      - category: log
        count: 3
        value: 2
        base_rate: 1
  - name: build
    direction: growth
    upkeep:
      hut:
        - resource: wood
          per_unit: 1
    populations:
      - category: hut
        count: 2
        base_rate: 1
stockpile:
  goods:
    wood: 3
field:
  seed: 7
driver:
  season_length: 2
  drift_every: 1
`

func testWorld(t *testing.T) *world {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	w, err := buildWorld(cfg, slog.Default())
	require.NoError(t, err)
	return w
}

func TestBuildWorld_Spawns(t *testing.T) {
	w := testWorld(t)
	require.Len(t, w.sites, 2)
	assert.Nil(t, w.wx)
	assert.Equal(t, int64(7), w.field.Seed())

	rot, build := w.sites[0], w.sites[1]
	require.NotNil(t, rot.seasonal)
	assert.Nil(t, build.seasonal)

	rot.host.View(func(sys *engine.System) {
		assert.Equal(t, progression.Decay, sys.Direction())
		require.Equal(t, 3, sys.Len())
		for _, snap := range sys.All() {
			assert.Equal(t, 2.0, snap.Progression.Value)
			assert.Equal(t, progression.Category("log"), snap.Progression.Category)
		}
	})
	build.host.View(func(sys *engine.System) {
		for _, snap := range sys.All() {
			assert.Zero(t, snap.Progression.Value)
			assert.Equal(t, 100.0, snap.Progression.Max)
		}
	})
	assert.Len(t, rot.positions, 3)
	assert.Len(t, build.positions, 2)
}

func TestWorld_Ticks(t *testing.T) {
	w := testWorld(t)
	ctx := context.Background()
	rot, build := w.sites[0], w.sites[1]

	w.driver.Advance(ctx)
	rot.host.View(func(sys *engine.System) {
		for _, snap := range sys.All() {
			assert.Less(t, snap.Progression.Value, 2.0)
		}
	})

	// Huts draw one wood per unit of progress; three wood covers the first tick only.
	build.host.View(func(sys *engine.System) {
		assert.Equal(t, 2, sys.Metrics().Processed)
	})
	w.driver.Advance(ctx)
	build.host.View(func(sys *engine.System) {
		assert.Less(t, sys.Metrics().Processed, 2)
		assert.Positive(t, sys.Metrics().SkippedHook)
	})

	// Two ticks per season.
	assert.Equal(t, hooks.Summer, rot.seasonal.Season())

	// Logs rot away and are removed along with their positions.
	for range 4 {
		w.driver.Advance(ctx)
	}
	rot.host.View(func(sys *engine.System) { assert.Zero(t, sys.Len()) })
	assert.Empty(t, rot.positions)
}

func TestWorld_Flush(t *testing.T) {
	w := testWorld(t)
	ctx := context.Background()

	db, err := persistence.Open(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	run, err := db.StartRun(ctx, w.field.Seed(), w.cfg)
	require.NoError(t, err)
	w.record(db, run.ID)

	w.driver.Advance(ctx)
	w.flush(ctx)

	rows, err := db.MetricsHistory(ctx, run.ID, "rot", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	events, err := db.RecentEvents(ctx, run.ID, "", 50)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	tick, err := db.GetMeta(ctx, "last_tick")
	require.NoError(t, err)
	assert.Equal(t, "1", tick)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}
