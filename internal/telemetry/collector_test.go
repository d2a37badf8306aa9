package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/progression/internal/driver"
	"github.com/talgya/progression/internal/economy"
	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/progression"
)

func TestCollector(t *testing.T) {
	sys := engine.New(progression.NewConfig(progression.Decay), engine.WithName("decay"), engine.WithWorkers(1))
	sys.Spawn(engine.Spec{Progression: progression.Progression{Value: 100, Max: 100, BaseRate: 1}})
	p := sys.Spawn(engine.Spec{Progression: progression.Progression{Value: 40, Max: 100, BaseRate: 1}})
	require.NoError(t, sys.Pause(context.Background(), p))
	host := driver.NewHost(sys, nil)
	host.Step(context.Background(), 1)

	stock := economy.NewStockpile(map[string]float64{"wood": 12})
	c := NewCollector(stock, host)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP progsim_entities Live entities per engine.
# TYPE progsim_entities gauge
progsim_entities{engine="decay"} 2
# HELP progsim_entities_by_status Live entities per status band.
# TYPE progsim_entities_by_status gauge
progsim_entities_by_status{band="damaged",engine="decay"} 1
progsim_entities_by_status{band="intact",engine="decay"} 1
# HELP progsim_last_tick_skipped Entities skipped in the last tick by reason.
# TYPE progsim_last_tick_skipped gauge
progsim_last_tick_skipped{engine="decay",reason="conditions"} 0
progsim_last_tick_skipped{engine="decay",reason="hook"} 0
progsim_last_tick_skipped{engine="decay",reason="paused"} 1
# HELP progsim_stockpile_quantity Goods on hand.
# TYPE progsim_stockpile_quantity gauge
progsim_stockpile_quantity{good="wood"} 12
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"progsim_entities", "progsim_entities_by_status", "progsim_last_tick_skipped", "progsim_stockpile_quantity")
	assert.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(c, "progsim_events_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "progsim_tick"))
}

func TestCollector_NoStockpile(t *testing.T) {
	sys := engine.New(progression.NewConfig(progression.Growth), engine.WithName("growth"))
	c := NewCollector(nil, driver.NewHost(sys, nil))

	assert.Zero(t, testutil.CollectAndCount(c, "progsim_stockpile_quantity"))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "progsim_entities"))
}
