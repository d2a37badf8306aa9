package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/talgya/progression/internal/config"
	"github.com/talgya/progression/internal/driver"
	"github.com/talgya/progression/internal/economy"
	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/field"
	"github.com/talgya/progression/internal/hooks"
	"github.com/talgya/progression/internal/persistence"
	"github.com/talgya/progression/internal/progression"
	"github.com/talgya/progression/internal/weather"
)

// site is one engine with the host-side state its hooks and drift need.
type site struct {
	host     *driver.Host
	logging  *hooks.Logging
	seasonal *hooks.Seasonal // Nil when the engine has no seasonal table
	upkeep   *hooks.Upkeep

	// Guarded by the host lock.
	positions map[engine.Handle]field.Point
}

// world is everything the driver callbacks touch.
type world struct {
	cfg    *config.Config
	field  *field.Field
	stock  *economy.Stockpile
	sites  []*site
	driver *driver.Driver

	db    *persistence.DB // Nil disables recording
	runID string

	wx *weather.Client // Nil disables live weather

	mu      sync.Mutex
	current *weather.Conditions
}

// buildWorld spawns every configured population and wires the driver.
func buildWorld(cfg *config.Config, logger *slog.Logger) (*world, error) {
	w := &world{
		cfg:   cfg,
		field: field.New(field.Config(cfg.Field)),
		stock: economy.NewStockpile(cfg.Stockpile.Goods),
		wx:    weather.NewClient(cfg.Weather.APIKey, cfg.Weather.Location),
	}
	for good, income := range cfg.Stockpile.Income {
		w.stock.SetIncome(good, income)
	}
	for _, tag := range cfg.Stockpile.Tags {
		w.stock.SetTag(tag, true)
	}

	total := 0
	for _, e := range cfg.Engines {
		for _, p := range e.Populations {
			total += p.Count
		}
	}
	points := w.field.Place(total)

	hosts := make([]*driver.Host, 0, len(cfg.Engines))
	for _, ec := range cfg.Engines {
		s, err := w.buildSite(ec, logger, &points)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", ec.Name, err)
		}
		w.sites = append(w.sites, s)
		hosts = append(hosts, s.host)
	}

	w.driver = driver.New(cfg.Driver.Interval, cfg.Driver.Step, hosts...)
	w.driver.SetSpeed(cfg.Driver.Speed)
	w.wire()
	return w, nil
}

func (w *world) buildSite(ec config.Engine, logger *slog.Logger, points *[]field.Point) (*site, error) {
	pcfg, err := ec.ProgressionConfig()
	if err != nil {
		return nil, err
	}

	rules := make(map[progression.Category][]hooks.Rule, len(ec.Upkeep))
	for cat, rs := range ec.Upkeep {
		for _, r := range rs {
			rules[progression.Category(cat)] = append(rules[progression.Category(cat)], hooks.Rule{Resource: r.Resource, PerUnit: r.PerUnit})
		}
	}

	s := &site{
		logging:   hooks.NewLogging(logger, ec.Name),
		upkeep:    hooks.NewUpkeep(w.stock, rules, 0),
		positions: make(map[engine.Handle]field.Point),
	}
	chain := engine.Chain{s.logging, s.upkeep}
	if len(ec.Seasonal) > 0 {
		if s.seasonal, err = hooks.NewSeasonal(ec.Seasonal); err != nil {
			return nil, err
		}
		chain = append(chain, s.seasonal)
	}

	opts := []engine.Option{
		engine.WithName(ec.Name),
		engine.WithHook(chain),
		engine.WithLedger(w.stock),
		engine.WithLogger(logger),
	}
	if ec.Workers > 0 {
		opts = append(opts, engine.WithWorkers(ec.Workers))
	}
	sys := engine.New(pcfg, opts...)

	for _, pop := range ec.Populations {
		for range pop.Count {
			var pt field.Point
			if len(*points) > 0 {
				pt, *points = (*points)[0], (*points)[1:]
			}
			h := sys.Spawn(engine.Spec{
				Progression: progression.Progression{
					Value:    startValue(pop, pcfg.Direction),
					Max:      pop.Max,
					BaseRate: pop.BaseRate,
					Category: progression.Category(pop.Category),
				},
				Environment: w.field.Sample(pt.X, pt.Y),
				Conditions:  pop.Conditions.Clone(),
				Tags:        pop.Tags,
			})
			s.positions[h] = pt
			s.upkeep.Assign(h, progression.Category(pop.Category))
		}
	}

	s.host = driver.NewHost(sys, func(removed []engine.Handle) {
		s.upkeep.Forget(removed...)
		for _, h := range removed {
			delete(s.positions, h)
		}
	})
	return s, nil
}

// startValue places a fresh entity at the end opposite its terminal state.
func startValue(p config.Population, d progression.Direction) float64 {
	if p.Value != nil {
		return *p.Value
	}
	if d == progression.Decay {
		return p.Max
	}
	return 0
}

func (w *world) wire() {
	d := w.cfg.Driver
	step := d.Step

	w.driver.OnTick(func(context.Context, uint64, []driver.StepResult) {
		w.stock.Replenish(step)
	})
	w.driver.OnEvery(d.SeasonLength, func(_ context.Context, tick uint64) {
		w.setSeason(hooks.SeasonAt(tick, d.SeasonLength))
	})
	w.driver.OnEvery(d.DriftEvery, func(_ context.Context, tick uint64) {
		w.refreshEnvironment(tick)
	})
	if w.wx != nil {
		w.driver.OnEvery(d.WeatherEvery, w.updateWeather)
	}
}

func (w *world) setSeason(season hooks.Season) {
	changed := false
	for _, s := range w.sites {
		if s.seasonal != nil && s.seasonal.Season() != season {
			s.seasonal.SetSeason(season)
			changed = true
		}
	}
	if changed {
		slog.Info("season changed", "season", season, "tick", w.driver.Tick())
	}
}

// refreshEnvironment resamples every entity at its position for the given
// tick and overlays the latest weather.
func (w *world) refreshEnvironment(tick uint64) {
	w.mu.Lock()
	wx := w.current
	w.mu.Unlock()

	for _, s := range w.sites {
		_ = s.host.Do(func(sys *engine.System) error {
			for h, pt := range s.positions {
				env := weather.ApplyToEnvironment(wx, w.field.SampleAt(pt.X, pt.Y, tick))
				if err := sys.SetEnvironment(h, env); err != nil {
					slog.Debug("environment refresh skipped", "handle", h, "error", err)
				}
			}
			return nil
		})
	}
}

func (w *world) updateWeather(ctx context.Context, tick uint64) {
	c, err := w.wx.Fetch(ctx)
	if err != nil {
		slog.Warn("weather fetch failed", "error", err)
		return
	}
	w.mu.Lock()
	w.current = c
	w.mu.Unlock()
	slog.Info("weather updated", "description", c.Description, "temp", c.Temp, "wind", c.WindSpeed)
	w.refreshEnvironment(tick)
}

// flush records everything produced since the last flush.
func (w *world) flush(ctx context.Context) {
	for _, s := range w.sites {
		events, metrics := s.host.Pending()
		name := s.host.Name()
		if err := w.db.SaveEvents(ctx, w.runID, name, events); err != nil {
			slog.Error("event flush failed", "engine", name, "error", err)
		}
		if err := w.db.SaveMetrics(ctx, w.runID, name, metrics); err != nil {
			slog.Error("metrics flush failed", "engine", name, "error", err)
		}
	}
	if err := w.db.SaveMeta(ctx, "last_tick", strconv.FormatUint(w.driver.Tick(), 10)); err != nil {
		slog.Error("meta save failed", "error", err)
	}
}

// record enables persistence. It must be called before the driver runs.
func (w *world) record(db *persistence.DB, runID string) {
	w.db = db
	w.runID = runID
	w.driver.OnEvery(w.cfg.Driver.FlushEvery, func(ctx context.Context, _ uint64) { w.flush(ctx) })
}
