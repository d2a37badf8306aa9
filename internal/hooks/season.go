// Package hooks provides host-side engine hooks: structured logging,
// resource upkeep and seasonal rate modifiers.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/talgya/progression/internal/engine"
)

type Season uint8

const (
	Spring Season = iota
	Summer
	Autumn
	Winter
)

func (s Season) String() string {
	switch s {
	case Spring:
		return "spring"
	case Summer:
		return "summer"
	case Autumn:
		return "autumn"
	case Winter:
		return "winter"
	default:
		return "unknown"
	}
}

// ParseSeason accepts a season name, case-insensitive.
func ParseSeason(name string) (Season, error) {
	for s := Spring; s <= Winter; s++ {
		if strings.EqualFold(strings.TrimSpace(name), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown season %q", name)
}

// SeasonAt returns the season of tick when each season lasts length ticks.
func SeasonAt(tick, length uint64) Season {
	if length == 0 {
		return Spring
	}
	return Season((tick / length) % 4)
}

// Seasonal scales every entity's base rate by the current season's multiplier.
// Seasons without a multiplier leave the rate unchanged.
type Seasonal struct {
	engine.NopHook
	mult    [4]float64
	current atomic.Uint32
}

// NewSeasonal builds the hook from season names to multipliers.
func NewSeasonal(multipliers map[string]float64) (*Seasonal, error) {
	s := &Seasonal{mult: [4]float64{1, 1, 1, 1}}
	for name, m := range multipliers {
		season, err := ParseSeason(name)
		if err != nil {
			return nil, err
		}
		s.mult[season] = m
	}
	return s, nil
}

// SetSeason switches the active season. Safe to call from any goroutine.
func (s *Seasonal) SetSeason(season Season) {
	s.current.Store(uint32(season % 4))
}

func (s *Seasonal) Season() Season { return Season(s.current.Load()) }

// Multiplier returns the active season's multiplier.
func (s *Seasonal) Multiplier() float64 { return s.mult[s.Season()] }

func (s *Seasonal) ModifyRate(_ context.Context, _ engine.Handle, baseRate float64) float64 {
	return baseRate * s.Multiplier()
}
