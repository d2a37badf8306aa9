package engine

import "context"

// Cost is an amount of a named resource consumed by progress.
type Cost struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

// Hook is the host's customization surface. The System calls it only from
// the sequential phase of a tick and from direct mutation calls, one call at
// a time in handle order, so implementations may touch non-thread-safe state.
// There is no timeout: a blocking hook stalls the rest of the tick.
//
// Embed NopHook to implement only the methods you need.
type Hook interface {
	// ShouldProgress is the dynamic gate. Returning false discards this
	// tick's candidate result for h.
	ShouldProgress(ctx context.Context, h Handle) bool
	// ModifyRate maps the entity's base rate before the delta is committed.
	ModifyRate(ctx context.Context, h Handle, baseRate float64) float64
	// ResourceCost returns what the committed change of the given magnitude consumed.
	ResourceCost(ctx context.Context, h Handle, magnitude float64) []Cost
	OnStatusChanged(ctx context.Context, h Handle, newValue float64)
	OnTerminal(ctx context.Context, h Handle, snap Snapshot)
	OnPaused(ctx context.Context, h Handle)
	OnResumed(ctx context.Context, h Handle)
}

// NopHook implements Hook with the defaults: always progress, identity rate,
// no cost, no-op notifications.
type NopHook struct{}

func (NopHook) ShouldProgress(context.Context, Handle) bool { return true }

func (NopHook) ModifyRate(_ context.Context, _ Handle, baseRate float64) float64 { return baseRate }

func (NopHook) ResourceCost(context.Context, Handle, float64) []Cost { return nil }

func (NopHook) OnStatusChanged(context.Context, Handle, float64) {}

func (NopHook) OnTerminal(context.Context, Handle, Snapshot) {}

func (NopHook) OnPaused(context.Context, Handle) {}

func (NopHook) OnResumed(context.Context, Handle) {}

// Chain combines hooks. The gate passes only if every hook agrees, rates are
// folded left to right, costs are concatenated and notifications are
// delivered to each hook in order.
type Chain []Hook

func (c Chain) ShouldProgress(ctx context.Context, h Handle) bool {
	for _, hk := range c {
		if !hk.ShouldProgress(ctx, h) {
			return false
		}
	}
	return true
}

func (c Chain) ModifyRate(ctx context.Context, h Handle, baseRate float64) float64 {
	for _, hk := range c {
		baseRate = hk.ModifyRate(ctx, h, baseRate)
	}
	return baseRate
}

func (c Chain) ResourceCost(ctx context.Context, h Handle, magnitude float64) []Cost {
	var out []Cost
	for _, hk := range c {
		out = append(out, hk.ResourceCost(ctx, h, magnitude)...)
	}
	return out
}

func (c Chain) OnStatusChanged(ctx context.Context, h Handle, newValue float64) {
	for _, hk := range c {
		hk.OnStatusChanged(ctx, h, newValue)
	}
}

func (c Chain) OnTerminal(ctx context.Context, h Handle, snap Snapshot) {
	for _, hk := range c {
		hk.OnTerminal(ctx, h, snap)
	}
}

func (c Chain) OnPaused(ctx context.Context, h Handle) {
	for _, hk := range c {
		hk.OnPaused(ctx, h)
	}
}

func (c Chain) OnResumed(ctx context.Context, h Handle) {
	for _, hk := range c {
		hk.OnResumed(ctx, h)
	}
}
