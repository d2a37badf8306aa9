package driver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pausePoll is how often a stopped driver checks its speed again.
const pausePoll = 100 * time.Millisecond

type periodic struct {
	every uint64
	fn    func(ctx context.Context, tick uint64)
}

// Driver advances its hosts once per tick.
type Driver struct {
	hosts    []*Host
	step     float64       // Simulated time units per tick
	interval time.Duration // Base tick interval

	mu    sync.Mutex
	tick  uint64
	speed float64 // 1.0 = real-time, 0 = paused

	onTick   []func(ctx context.Context, tick uint64, results []StepResult)
	periodic []periodic
}

// New creates a driver at speed 1.
func New(interval time.Duration, step float64, hosts ...*Host) *Driver {
	if interval <= 0 {
		interval = time.Second
	}
	if step <= 0 {
		step = 1
	}
	return &Driver{hosts: hosts, step: step, interval: interval, speed: 1}
}

// OnTick registers fn to run after every tick with each host's result, in host order.
func (d *Driver) OnTick(fn func(ctx context.Context, tick uint64, results []StepResult)) {
	d.onTick = append(d.onTick, fn)
}

// OnEvery registers fn to run after every n-th tick.
func (d *Driver) OnEvery(n uint64, fn func(ctx context.Context, tick uint64)) {
	if n == 0 {
		return
	}
	d.periodic = append(d.periodic, periodic{every: n, fn: fn})
}

// Hosts returns the driven hosts.
func (d *Driver) Hosts() []*Host { return d.hosts }

// Host returns the host with the given name.
func (d *Driver) Host(name string) (*Host, bool) {
	for _, h := range d.hosts {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

func (d *Driver) Tick() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tick
}

func (d *Driver) Speed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// SetSpeed changes the tick rate multiplier. Zero or less pauses the loop.
func (d *Driver) SetSpeed(s float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speed = s
}

// Run drives ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	slog.Info("driver started", "tick", d.Tick(), "speed", d.Speed(), "hosts", len(d.hosts))
	defer func() { slog.Info("driver stopped", "tick", d.Tick()) }()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		speed := d.Speed()
		if speed <= 0 {
			timer.Reset(pausePoll)
			continue
		}

		start := time.Now()
		d.Advance(ctx)

		// Sleep for the remainder of the interval, adjusted for speed.
		target := time.Duration(float64(d.interval) / speed)
		wait := target - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Advance runs exactly one tick on every host and fires the callbacks.
func (d *Driver) Advance(ctx context.Context) uint64 {
	d.mu.Lock()
	d.tick++
	tick := d.tick
	d.mu.Unlock()

	results := make([]StepResult, len(d.hosts))
	for i, h := range d.hosts {
		results[i] = h.Step(ctx, d.step)
	}

	for _, fn := range d.onTick {
		fn(ctx, tick, results)
	}
	for _, p := range d.periodic {
		if tick%p.every == 0 {
			p.fn(ctx, tick)
		}
	}
	return tick
}
