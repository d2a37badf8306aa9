// Package api serves progression state over HTTP.
// GET endpoints are public and read-only.
// POST endpoints require a bearer token and are rate limited.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/progression/internal/driver"
	"github.com/talgya/progression/internal/economy"
	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/persistence"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	maxSpeed          = 1000
)

// Server exposes a driver's hosts. Stockpile, DB and Gatherer are optional.
type Server struct {
	Driver       *driver.Driver
	Stockpile    *economy.Stockpile
	DB           *persistence.DB
	RunID        string
	Gatherer     prometheus.Gatherer
	Port         int
	AdminKey     string // Bearer token for POST endpoints. Empty = POST disabled.
	AdminPerHour int
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	adminLimiter := NewRateLimiter(s.AdminPerHour, time.Hour)
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return s.adminOnly(RateLimitMiddleware(adminLimiter, h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/engines", s.handleEngines)
	mux.HandleFunc("GET /api/v1/stockpile", s.handleStockpile)
	mux.HandleFunc("GET /api/v1/engine/{name}/metrics", s.withHost(s.handleMetrics))
	mux.HandleFunc("GET /api/v1/engine/{name}/history", s.withHost(s.handleHistory))
	mux.HandleFunc("GET /api/v1/engine/{name}/events", s.withHost(s.handleEvents))
	mux.HandleFunc("GET /api/v1/engine/{name}/entities", s.withHost(s.handleEntities))
	mux.HandleFunc("GET /api/v1/engine/{name}/entity/{handle}", s.withHost(s.handleEntity))

	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/v1/speed", admin(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/engine/{name}/entity/{handle}/{action}", admin(s.withHost(s.handleAction)))

	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS is a comma-separated list added to the localhost defaults.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && token == s.AdminKey
}

// adminOnly requires the bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no PROGSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type hostHandler func(w http.ResponseWriter, r *http.Request, h *driver.Host)

// withHost resolves the {name} path segment to a host.
func (s *Server) withHost(next hostHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		h, ok := s.Driver.Host(name)
		if !ok {
			http.Error(w, "unknown engine "+strconv.Quote(name), http.StatusNotFound)
			return
		}
		next(w, r, h)
	}
}

type engineSummary struct {
	Name      string         `json:"name"`
	Direction string         `json:"direction"`
	Tick      uint64         `json:"tick"`
	Entities  int            `json:"entities"`
	Paused    int            `json:"paused"`
	Events    uint64         `json:"events"`
	ByStatus  map[string]int `json:"by_status"`
	Last      engine.Metrics `json:"last_tick"`
}

func summarize(sys *engine.System) engineSummary {
	return engineSummary{
		Name:      sys.Name(),
		Direction: sys.Direction().String(),
		Tick:      sys.Tick(),
		Entities:  sys.Len(),
		Paused:    len(sys.PausedEntities()),
		Events:    sys.LastEventSeq(),
		ByStatus:  sys.CountByStatus(),
		Last:      sys.Metrics(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entities := 0
	for _, h := range s.Driver.Hosts() {
		h.View(func(sys *engine.System) { entities += sys.Len() })
	}
	speed := s.Driver.Speed()
	writeJSON(w, map[string]any{
		"run_id":   s.RunID,
		"tick":     s.Driver.Tick(),
		"speed":    speed,
		"running":  speed > 0,
		"engines":  len(s.Driver.Hosts()),
		"entities": entities,
	})
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	result := make([]engineSummary, 0, len(s.Driver.Hosts()))
	for _, h := range s.Driver.Hosts() {
		h.View(func(sys *engine.System) { result = append(result, summarize(sys)) })
	}
	writeJSON(w, result)
}

func (s *Server) handleStockpile(w http.ResponseWriter, r *http.Request) {
	if s.Stockpile == nil {
		writeJSON(w, []economy.Entry{})
		return
	}
	type entryView struct {
		economy.Entry
		Scarcity float64 `json:"scarcity"`
	}
	entries := s.Stockpile.Entries()
	result := make([]entryView, len(entries))
	for i, e := range entries {
		result[i] = entryView{Entry: e, Scarcity: e.Scarcity()}
	}
	writeJSON(w, result)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, h *driver.Host) {
	var current engine.Metrics
	var history []engine.Metrics
	h.View(func(sys *engine.System) {
		current = sys.Metrics()
		history = sys.MetricsHistory()
	})
	writeJSON(w, map[string]any{"current": current, "history": history})
}

// handleHistory serves recorded tick metrics for the current run.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, h *driver.Host) {
	if s.DB == nil {
		http.Error(w, "no recorder configured", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.DB.MetricsHistory(r.Context(), s.RunID, h.Name(), queryLimit(r, 200, 5000))
	if err != nil {
		slog.Error("metrics history query failed", "engine", h.Name(), "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, h *driver.Host) {
	limit := queryLimit(r, defaultEventLimit, maxEventLimit)
	var events []engine.Event
	h.View(func(sys *engine.System) { events = sys.RecentEvents(limit) })
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request, h *driver.Host) {
	status := r.URL.Query().Get("status")
	var result []engine.Snapshot
	h.View(func(sys *engine.System) {
		if status == "" {
			result = sys.All()
			return
		}
		for _, eh := range sys.EntitiesWithStatus(status) {
			if snap, ok := sys.Get(eh); ok {
				result = append(result, snap)
			}
		}
	})
	if result == nil {
		result = []engine.Snapshot{}
	}
	writeJSON(w, result)
}

type entityDetail struct {
	engine.Snapshot
	TimeToTerminal *float64              `json:"time_to_terminal,omitempty"`
	History        []persistence.EventRow `json:"history,omitempty"`
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request, h *driver.Host) {
	eh, err := engine.ParseHandle(r.PathValue("handle"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var detail entityDetail
	var found bool
	h.View(func(sys *engine.System) {
		detail.Snapshot, found = sys.Get(eh)
		if !found {
			return
		}
		if t, ok, _ := sys.EstimateTerminal(eh); ok && !math.IsInf(t, 0) {
			detail.TimeToTerminal = &t
		}
	})
	if !found {
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	}

	if s.DB != nil {
		rows, err := s.DB.EntityHistory(r.Context(), s.RunID, h.Name(), eh)
		if err != nil {
			slog.Warn("entity history query failed", "handle", eh, "error", err)
		}
		detail.History = rows
	}
	writeJSON(w, detail)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > maxSpeed {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Driver.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Driver.Speed()})
}

// handleAction applies reduce, repair, pause or resume to one entity.
// Reduce and repair take {"magnitude": n}; a missing body means magnitude 0.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, h *driver.Host) {
	eh, err := engine.ParseHandle(r.PathValue("handle"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	action := r.PathValue("action")

	var req struct {
		Magnitude float64 `json:"magnitude"`
	}
	if action == "reduce" || action == "repair" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if math.IsNaN(req.Magnitude) {
			http.Error(w, "magnitude must be a number", http.StatusBadRequest)
			return
		}
	}

	var (
		delta float64
		snap  engine.Snapshot
	)
	err = h.Do(func(sys *engine.System) error {
		var err error
		switch action {
		case "reduce":
			delta, err = sys.Reduce(r.Context(), eh, req.Magnitude)
		case "repair":
			delta, err = sys.Repair(r.Context(), eh, req.Magnitude)
		case "pause":
			err = sys.Pause(r.Context(), eh)
		case "resume":
			err = sys.Resume(r.Context(), eh)
		default:
			return errUnknownAction
		}
		if err == nil {
			snap, _ = sys.Get(eh)
		}
		return err
	})
	switch {
	case errors.Is(err, errUnknownAction):
		http.Error(w, "unknown action "+strconv.Quote(action), http.StatusNotFound)
		return
	case errors.Is(err, engine.ErrEntityNotFound):
		http.Error(w, "entity not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("entity action", "engine", h.Name(), "handle", eh, "action", action, "delta", delta)
	writeJSON(w, map[string]any{"action": action, "delta": delta, "entity": snap})
}

var errUnknownAction = errors.New("unknown action")

// queryLimit reads ?limit=, falling back to def when absent or out of range.
func queryLimit(r *http.Request, def, upper int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= upper {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}
