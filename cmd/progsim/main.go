// Command progsim runs decay and growth progression engines over a noise
// generated environment, recording every tick to SQLite.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/talgya/progression/internal/api"
	"github.com/talgya/progression/internal/config"
	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/entropy"
	"github.com/talgya/progression/internal/persistence"
	"github.com/talgya/progression/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("progsim failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Config ────────────────────────────────────────────────────────
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	slog.Info("progression simulation", "engines", len(cfg.Engines), "db", cfg.DBPath)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// ── World ─────────────────────────────────────────────────────────
	if cfg.Field.Seed == 0 {
		src := entropy.NewClient(cfg.EntropyKey)
		cfg.Field.Seed = src.Seed(context.Background())
		slog.Info("field seed drawn", "seed", cfg.Field.Seed, "random_org", src.Enabled())
	}
	w, err := buildWorld(cfg, logger)
	if err != nil {
		return fmt.Errorf("build world: %w", err)
	}
	for _, s := range w.sites {
		s.host.View(func(sys *engine.System) {
			slog.Info("engine ready",
				"name", sys.Name(),
				"direction", sys.Direction(),
				"entities", humanize.Comma(int64(sys.Len())),
			)
		})
	}
	if w.wx != nil {
		slog.Info("live weather enabled", "location", cfg.Weather.Location)
	} else {
		slog.Warn("OPENWEATHER_API_KEY not set, environment follows the noise field only")
	}

	rec, err := db.StartRun(context.Background(), w.field.Seed(), cfg)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	w.record(db, rec.ID)
	slog.Info("run started", "id", rec.ID, "seed", rec.Seed)

	// ── Telemetry ─────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		telemetry.NewCollector(w.stock, w.driver.Hosts()...),
	)

	// ── HTTP API ──────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.API.AdminKey == "" {
		slog.Warn("PROGSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	srv := &api.Server{
		Driver:       w.driver,
		Stockpile:    w.stock,
		DB:           db,
		RunID:        rec.ID,
		Gatherer:     reg,
		Port:         cfg.API.Port,
		AdminKey:     cfg.API.AdminKey,
		AdminPerHour: cfg.API.AdminPerHour,
	}
	srv.Start(ctx)

	// ── Start ─────────────────────────────────────────────────────────
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")
	w.driver.Run(ctx)

	// Final flush on shutdown, outside the cancelled context.
	slog.Info("final flush...")
	w.flush(context.Background())
	logSummary(w.sites)
	fmt.Println("Simulation stopped. Run recorded.")
	return nil
}

func logSummary(sites []*site) {
	for _, s := range sites {
		var live int
		var events uint64
		s.host.View(func(sys *engine.System) {
			live = sys.Len()
			events = sys.LastEventSeq()
		})
		slog.Info("engine summary",
			"name", s.host.Name(),
			"entities", humanize.Comma(int64(live)),
			"events", humanize.Comma(int64(events)),
			"status_changes", humanize.Comma(int64(s.logging.StatusChanges())),
			"terminals", humanize.Comma(int64(s.logging.Terminals())),
		)
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
