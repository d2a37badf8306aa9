package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/progression"
)

func newHost(t *testing.T, name string, d progression.Direction, onRemoved func([]engine.Handle)) (*Host, engine.Handle) {
	t.Helper()
	cfg := progression.NewConfig(d)
	cfg.AutoRemove = true
	sys := engine.New(cfg, engine.WithName(name), engine.WithWorkers(1))
	h := sys.Spawn(engine.Spec{Progression: progression.Progression{Value: 5, Max: 10, BaseRate: 1}})
	return NewHost(sys, onRemoved), h
}

func TestAdvance_StepsHostsAndCallbacks(t *testing.T) {
	var removed []engine.Handle
	decay, dh := newHost(t, "decay", progression.Decay, func(hs []engine.Handle) { removed = append(removed, hs...) })
	growth, _ := newHost(t, "growth", progression.Growth, nil)

	d := New(time.Millisecond, 2, decay, growth)
	var ticks []uint64
	var lastResults []StepResult
	d.OnTick(func(_ context.Context, tick uint64, results []StepResult) {
		ticks = append(ticks, tick)
		lastResults = results
	})
	var every []uint64
	d.OnEvery(2, func(_ context.Context, tick uint64) { every = append(every, tick) })
	d.OnEvery(0, func(context.Context, uint64) { t.Fatal("never called") })

	ctx := context.Background()
	for range 3 {
		d.Advance(ctx)
	}

	assert.Equal(t, []uint64{1, 2, 3}, ticks)
	assert.Equal(t, []uint64{2}, every)
	assert.Equal(t, uint64(3), d.Tick())
	require.Len(t, lastResults, 2)

	// 5 - 2*1 - 2*1 - 2*1 drops below zero on the third tick. The entity
	// stays observable until the next step cleans it up.
	assert.Empty(t, removed)
	assert.Empty(t, lastResults[0].Removed)
	decay.View(func(sys *engine.System) {
		snap, ok := sys.Get(dh)
		require.True(t, ok)
		assert.True(t, snap.Terminal)
		assert.Zero(t, snap.Progression.Value)
	})

	d.Advance(ctx)
	assert.Equal(t, []engine.Handle{dh}, removed)
	assert.Equal(t, []engine.Handle{dh}, lastResults[0].Removed)
	decay.View(func(sys *engine.System) { assert.Zero(t, sys.Len()) })

	h, ok := d.Host("growth")
	require.True(t, ok)
	assert.Same(t, growth, h)
	_, ok = d.Host("nope")
	assert.False(t, ok)
}

func TestHost_TerminalVisibleForOneTick(t *testing.T) {
	cfg := progression.NewConfig(progression.Growth)
	cfg.AutoRemove = true
	sys := engine.New(cfg, engine.WithWorkers(1))
	h := sys.Spawn(engine.Spec{Progression: progression.Progression{Value: 99.5, Max: 100, BaseRate: 5}})
	host := NewHost(sys, nil)
	ctx := context.Background()

	res := host.Step(ctx, 1)
	assert.Empty(t, res.Removed)
	assert.Equal(t, 1, res.Metrics.NewlyTerminal)
	host.View(func(sys *engine.System) {
		snap, ok := sys.Get(h)
		require.True(t, ok)
		assert.True(t, snap.Terminal)
		assert.Equal(t, "complete", snap.Band)
		assert.Equal(t, 100.0, snap.Progression.Value)
	})

	res = host.Step(ctx, 1)
	assert.Equal(t, []engine.Handle{h}, res.Removed)
	host.View(func(sys *engine.System) {
		_, ok := sys.Get(h)
		assert.False(t, ok)
	})
}

func TestHost_Pending(t *testing.T) {
	host, h := newHost(t, "decay", progression.Decay, nil)
	ctx := context.Background()

	host.Step(ctx, 1)
	host.Step(ctx, 1)
	events, metrics := host.Pending()
	assert.Len(t, events, 2)
	assert.Len(t, metrics, 2)

	events, metrics = host.Pending()
	assert.Empty(t, events)
	assert.Empty(t, metrics)

	require.NoError(t, host.Do(func(sys *engine.System) error {
		_, err := sys.Reduce(ctx, h, 1)
		return err
	}))
	events, metrics = host.Pending()
	require.Len(t, events, 1)
	assert.Equal(t, engine.SourceReduce, events[0].Source)
	assert.Empty(t, metrics)
}

func TestRun_StopsOnCancel(t *testing.T) {
	host, _ := newHost(t, "growth", progression.Growth, nil)
	d := New(time.Millisecond, 0.01, host)

	var mu sync.Mutex
	count := 0
	reached := make(chan struct{})
	d.OnTick(func(_ context.Context, tick uint64, _ []StepResult) {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == 5 {
			close(reached)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not tick")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop")
	}
	assert.GreaterOrEqual(t, d.Tick(), uint64(5))
}

func TestRun_PausedDoesNotTick(t *testing.T) {
	host, _ := newHost(t, "growth", progression.Growth, nil)
	d := New(time.Millisecond, 1, host)
	d.SetSpeed(0)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	assert.Zero(t, d.Tick())
	assert.Equal(t, 0.0, d.Speed())
}
