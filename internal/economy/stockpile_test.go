package economy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/progression"
)

func TestStockpile_ConsumeClampsAtZero(t *testing.T) {
	s := NewStockpile(map[string]float64{"wood": 5})

	s.Consume([]engine.Cost{{Resource: "wood", Amount: 3}, {Resource: "wood", Amount: 4}, {Resource: "nails", Amount: 1}})

	assert.Zero(t, s.Quantity("wood"))
	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "nails", entries[0].Good)
	assert.Equal(t, 1.0, entries[0].Shortfall)
	assert.Equal(t, 5.0, entries[1].Consumed)
	assert.Equal(t, 2.0, entries[1].Shortfall)
	assert.Equal(t, 7.0, entries[1].Demand)
}

func TestStockpile_AvailabilityIsSnapshot(t *testing.T) {
	s := NewStockpile(map[string]float64{"stone": 10})
	s.SetTag("forge", true)

	a := s.Availability()
	s.Consume([]engine.Cost{{Resource: "stone", Amount: 10}})
	s.SetTag("forge", false)
	a.Resources["stone"] = 99

	assert.Equal(t, 99.0, a.Resources["stone"])
	assert.True(t, a.Tags["forge"])
	assert.Zero(t, s.Quantity("stone"))
	assert.False(t, s.Availability().Tags["forge"])
}

func TestStockpile_Replenish(t *testing.T) {
	s := NewStockpile(map[string]float64{"wood": 1})
	s.SetIncome("wood", 2)
	s.Consume([]engine.Cost{{Resource: "wood", Amount: 1}})
	assert.Equal(t, 1.0/2, s.Entries()[0].Scarcity())

	s.Replenish(1.5)
	assert.Equal(t, 3.0, s.Quantity("wood"))
	assert.Zero(t, s.Entries()[0].Demand)

	s.Replenish(-1)
	assert.Equal(t, 3.0, s.Quantity("wood"))
}

func TestStockpile_CanCover(t *testing.T) {
	s := NewStockpile(map[string]float64{"wood": 5, "stone": 1})

	assert.True(t, s.CanCover([]engine.Cost{{Resource: "wood", Amount: 5}}))
	assert.False(t, s.CanCover([]engine.Cost{{Resource: "wood", Amount: 3}, {Resource: "wood", Amount: 3}}))
	assert.False(t, s.CanCover([]engine.Cost{{Resource: "iron", Amount: 1}}))
	assert.True(t, s.CanCover(nil))
}

func TestStockpile_ConcurrentUse(t *testing.T) {
	s := NewStockpile(map[string]float64{"wood": 1000})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.Consume([]engine.Cost{{Resource: "wood", Amount: 1}})
				_ = s.Availability()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200.0, s.Quantity("wood"))
}

func TestStockpile_GatesEngineConditions(t *testing.T) {
	s := NewStockpile(map[string]float64{"wood": 5})
	sys := engine.New(progression.NewConfig(progression.Growth), engine.WithLedger(s), engine.WithWorkers(1))
	h := sys.Spawn(engine.Spec{
		Progression: progression.Progression{Max: 100, BaseRate: 1},
		Conditions:  &progression.Conditions{Resources: []progression.Requirement{{Name: "wood", Min: 10}}},
	})
	ctx := context.Background()

	sys.Update(ctx, 1)
	assert.Equal(t, 1, sys.Metrics().SkippedConditions)

	s.Add("wood", 5)
	sys.Update(ctx, 1)
	snap, _ := sys.Get(h)
	assert.Equal(t, 1.0, snap.Progression.Value)
}
