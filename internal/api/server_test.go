package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/progression/internal/driver"
	"github.com/talgya/progression/internal/economy"
	"github.com/talgya/progression/internal/engine"
	"github.com/talgya/progression/internal/persistence"
	"github.com/talgya/progression/internal/progression"
	"github.com/talgya/progression/internal/telemetry"
)

const adminKey = "secret"

type fixture struct {
	srv     *httptest.Server
	drv     *driver.Driver
	host    *driver.Host
	handles []engine.Handle
}

func newFixture(t *testing.T, mutate func(*Server)) *fixture {
	t.Helper()
	sys := engine.New(progression.NewConfig(progression.Decay), engine.WithName("decay"), engine.WithWorkers(1))
	var handles []engine.Handle
	for _, v := range []float64{100, 60, 10} {
		handles = append(handles, sys.Spawn(engine.Spec{
			Progression: progression.Progression{Value: v, Max: 100, BaseRate: 1},
		}))
	}
	host := driver.NewHost(sys, nil)
	drv := driver.New(time.Second, 1, host)
	drv.Advance(context.Background())

	stock := economy.NewStockpile(map[string]float64{"wood": 50})
	reg := prometheus.NewRegistry()
	reg.MustRegister(telemetry.NewCollector(stock, host))

	s := &Server{
		Driver:       drv,
		Stockpile:    stock,
		Gatherer:     reg,
		AdminKey:     adminKey,
		AdminPerHour: 100,
	}
	if mutate != nil {
		mutate(s)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, drv: drv, host: host, handles: handles}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, token, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestStatusAndEngines(t *testing.T) {
	f := newFixture(t, nil)

	var status map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/status", &status))
	assert.Equal(t, 1.0, status["tick"])
	assert.Equal(t, 3.0, status["entities"])
	assert.Equal(t, true, status["running"])

	var engines []engineSummary
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engines", &engines))
	require.Len(t, engines, 1)
	assert.Equal(t, "decay", engines[0].Name)
	assert.Equal(t, "decay", engines[0].Direction)
	assert.Equal(t, 3, engines[0].Last.Processed)
	assert.Equal(t, 1, engines[0].ByStatus["intact"])
}

func TestEntityQueries(t *testing.T) {
	f := newFixture(t, nil)

	var all []engine.Snapshot
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/entities", &all))
	assert.Len(t, all, 3)

	var critical []engine.Snapshot
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/entities?status=critical", &critical))
	require.Len(t, critical, 1)
	assert.Equal(t, f.handles[2], critical[0].Handle)
	assert.InDelta(t, 9.0, critical[0].Progression.Value, 1e-9)

	var detail struct {
		engine.Snapshot
		TimeToTerminal *float64 `json:"time_to_terminal"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/entity/"+f.handles[2].String(), &detail))
	assert.Equal(t, "critical", detail.Band)
	require.NotNil(t, detail.TimeToTerminal)
	assert.InDelta(t, 9.0, *detail.TimeToTerminal, 1e-9)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/engine/decay/entity/nope", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/engine/decay/entity/999.1", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/engine/missing/entities", nil))
}

func TestEventsAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.drv.Advance(context.Background())

	var events []engine.Event
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/events?limit=2", &events))
	require.Len(t, events, 2)
	assert.Greater(t, events[0].Seq, events[1].Seq)

	var metrics struct {
		Current engine.Metrics   `json:"current"`
		History []engine.Metrics `json:"history"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/metrics", &metrics))
	assert.Equal(t, uint64(2), metrics.Current.Tick)
	assert.Len(t, metrics.History, 2)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `progsim_entities{engine="decay"} 3`)
	assert.Contains(t, string(body), `progsim_stockpile_quantity{good="wood"} 50`)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, nil)
	path := "/api/v1/engine/decay/entity/" + f.handles[0].String() + "/pause"

	assert.Equal(t, http.StatusUnauthorized, f.post(t, path, "", "", nil))
	assert.Equal(t, http.StatusUnauthorized, f.post(t, path, "wrong", "", nil))
	assert.Equal(t, http.StatusOK, f.post(t, path, adminKey, "", nil))

	disabled := newFixture(t, func(s *Server) { s.AdminKey = "" })
	assert.Equal(t, http.StatusForbidden, disabled.post(t, "/api/v1/speed", "", `{"speed":2}`, nil))
}

func TestEntityActions(t *testing.T) {
	f := newFixture(t, nil)
	base := "/api/v1/engine/decay/entity/" + f.handles[1].String()

	var out struct {
		Delta  float64         `json:"delta"`
		Entity engine.Snapshot `json:"entity"`
	}
	require.Equal(t, http.StatusOK, f.post(t, base+"/reduce", adminKey, `{"magnitude":20}`, &out))
	assert.InDelta(t, -20.0, out.Delta, 1e-9)
	assert.InDelta(t, 39.0, out.Entity.Progression.Value, 1e-9)

	require.Equal(t, http.StatusOK, f.post(t, base+"/repair", adminKey, `{"magnitude":1000}`, &out))
	assert.InDelta(t, 100.0, out.Entity.Progression.Value, 1e-9)

	require.Equal(t, http.StatusOK, f.post(t, base+"/pause", adminKey, "", &out))
	assert.True(t, out.Entity.Progression.Paused)
	require.Equal(t, http.StatusOK, f.post(t, base+"/resume", adminKey, "", &out))
	assert.False(t, out.Entity.Progression.Paused)

	assert.Equal(t, http.StatusNotFound, f.post(t, base+"/explode", adminKey, "", nil))
	assert.Equal(t, http.StatusBadRequest, f.post(t, base+"/reduce", adminKey, `{`, nil))
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/v1/engine/decay/entity/999.1/pause", adminKey, "", nil))
}

func TestSpeed(t *testing.T) {
	f := newFixture(t, nil)

	var out map[string]float64
	require.Equal(t, http.StatusOK, f.post(t, "/api/v1/speed", adminKey, `{"speed":4}`, &out))
	assert.Equal(t, 4.0, out["speed"])
	assert.Equal(t, 4.0, f.drv.Speed())

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/v1/speed", adminKey, `{"speed":-1}`, nil))
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/speed", &out))
	assert.Equal(t, 4.0, out["speed"])
}

func TestAdminRateLimit(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.AdminPerHour = 2 })

	for range 2 {
		assert.Equal(t, http.StatusOK, f.post(t, "/api/v1/speed", adminKey, `{"speed":1}`, nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, f.post(t, "/api/v1/speed", adminKey, `{"speed":1}`, nil))
}

func TestHistoryFromRecorder(t *testing.T) {
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	run, err := db.StartRun(context.Background(), 1, nil)
	require.NoError(t, err)

	f := newFixture(t, func(s *Server) {
		s.DB = db
		s.RunID = run.ID
	})
	events, metrics := f.host.Pending()
	require.NoError(t, db.SaveEvents(context.Background(), run.ID, "decay", events))
	require.NoError(t, db.SaveMetrics(context.Background(), run.ID, "decay", metrics))

	var rows []persistence.MetricsRow
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/history", &rows))
	assert.Len(t, rows, 1)

	var detail struct {
		History []persistence.EventRow `json:"history"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/api/v1/engine/decay/entity/"+f.handles[0].String(), &detail))
	assert.Len(t, detail.History, 1)

	noDB := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, noDB.get(t, "/api/v1/engine/decay/history", nil))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, nil)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}
