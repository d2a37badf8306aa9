package hooks

import (
	"context"
	"sync"

	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/progression"
)

// Coverage reports whether costs could be paid in full.
type Coverage interface {
	CanCover(costs []engine.Cost) bool
}

// Rule charges PerUnit of Resource per unit of progress.
type Rule struct {
	Resource string
	PerUnit  float64
}

// Upkeep charges per-category resource costs for progress and holds back
// entities whose next step the ledger cannot pay for.
//
// The engine only passes handles to hooks, so the host registers each
// entity's category with Assign when it spawns it.
type Upkeep struct {
	engine.NopHook
	ledger  Coverage
	rules   map[progression.Category][]Rule
	reserve float64 // Magnitude the gate assumes the next step will need

	mu   sync.RWMutex
	cats map[engine.Handle]progression.Category
}

// NewUpkeep creates the hook. reserve <= 0 means one unit of progress.
func NewUpkeep(ledger Coverage, rules map[progression.Category][]Rule, reserve float64) *Upkeep {
	if reserve <= 0 {
		reserve = 1
	}
	return &Upkeep{
		ledger:  ledger,
		rules:   rules,
		reserve: reserve,
		cats:    make(map[engine.Handle]progression.Category),
	}
}

// Assign records the category of h.
func (u *Upkeep) Assign(h engine.Handle, cat progression.Category) {
	u.mu.Lock()
	u.cats[h] = cat
	u.mu.Unlock()
}

// Forget drops removed handles. Terminal entities stay tracked until the
// host removes them, since repair or reduce can move them back into play.
func (u *Upkeep) Forget(hs ...engine.Handle) {
	u.mu.Lock()
	for _, h := range hs {
		delete(u.cats, h)
	}
	u.mu.Unlock()
}

func (u *Upkeep) costs(h engine.Handle, magnitude float64) []engine.Cost {
	u.mu.RLock()
	cat, ok := u.cats[h]
	u.mu.RUnlock()
	if !ok {
		return nil
	}
	rules := u.rules[cat]
	if len(rules) == 0 {
		return nil
	}
	out := make([]engine.Cost, 0, len(rules))
	for _, r := range rules {
		out = append(out, engine.Cost{Resource: r.Resource, Amount: r.PerUnit * magnitude})
	}
	return out
}

func (u *Upkeep) ShouldProgress(_ context.Context, h engine.Handle) bool {
	need := u.costs(h, u.reserve)
	return len(need) == 0 || u.ledger.CanCover(need)
}

func (u *Upkeep) ResourceCost(_ context.Context, h engine.Handle, magnitude float64) []engine.Cost {
	return u.costs(h, magnitude)
}
