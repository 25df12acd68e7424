package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/refdata/internal/domain"
	"github.com/aristath/refdata/internal/events"
	"github.com/aristath/refdata/internal/modules/factors"
	"github.com/aristath/refdata/internal/modules/mapfiles"
	"github.com/aristath/refdata/internal/modules/market_hours"
	"github.com/aristath/refdata/internal/modules/universe"
)

// newTestServer wires a server over engines with no upstream gateway.
// Handlers only succeed for artifacts pre-seeded on disk or via SeedFilings.
func newTestServer(t *testing.T) (*Server, string, *events.Bus) {
	t.Helper()
	dataDir := t.TempDir()
	log := zerolog.Nop()
	bus := events.NewBus(log)

	s := New(Config{
		Log:      log,
		DataDir:  dataDir,
		Port:     0,
		DevMode:  true,
		Factors:  factors.NewEngine(dataDir, nil, market_hours.NewService(), nil, log),
		Maps:     mapfiles.NewEngine(dataDir, nil, nil, log),
		Universe: universe.NewEngine(universe.Options{DataDir: dataDir}, nil, nil, nil, nil, log),
		EventBus: bus,
	})
	return s, dataDir, bus
}

func seedFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func doGet(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(s, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 0, resp.KnownSecurities)
}

func TestFactorFileEndpoint(t *testing.T) {
	s, dataDir, _ := newTestServer(t)

	today := time.Now().UTC().Format(domain.DateFormatCompact)
	seedFile(t, factors.FilePath(dataDir, "AAPL"), "20000101,1,1,0\n"+today+",1,1,0\n")

	rec := doGet(s, "/api/factor-files/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "20000101,1,1,0\n"))
}

func TestMapFileEndpoint(t *testing.T) {
	s, dataDir, _ := newTestServer(t)

	seedFile(t, mapfiles.FilePath(dataDir, "AAPL"), "20000101,AAPL,Q\n20501231,AAPL,Q\n")

	rec := doGet(s, "/api/map-files/aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "20501231,AAPL,Q")
}

func TestCoarseEndpoint(t *testing.T) {
	s, dataDir, _ := newTestServer(t)

	date := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	content := "AAPL 19801212,AAPL,189.95,48087681,9134255005,False,1,1\n"
	seedFile(t, universe.CoarseFilePath(dataDir, date), content)

	rec := doGet(s, "/api/universe/coarse/20250103")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.String())
}

func TestCoarseEndpointRejectsBadDate(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(s, "/api/universe/coarse/2025-01-03")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFundamentalEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	s.artifacts.universe.SeedFilings("AAPL", []universe.FilingRecord{{
		Ticker:       "AAPL",
		FiscalYear:   "2024",
		FiscalPeriod: "Q1",
		FilingDate:   "2024-04-15",
		Timeframe:    "quarterly",
		Statements: universe.Statements{
			Income: map[string]float64{"revenues": 100000},
		},
	}})

	rec := doGet(s, "/api/fundamental?ticker=AAPL&property=FinancialStatements_IncomeStatement_TotalRevenue_ThreeMonths&date=2024-05-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 100000.0, resp["value"])
}

func TestFundamentalEndpointUnknownPropertyIsNull(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.artifacts.universe.SeedFilings("AAPL", nil)

	rec := doGet(s, "/api/fundamental?ticker=AAPL&property=NotAProperty&date=2024-05-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp["value"])
}

func TestFundamentalEndpointValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(s, "/api/fundamental?property=HasFundamentalData&date=2024-05-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing ticker and perm_id")

	rec = doGet(s, "/api/fundamental?ticker=AAPL&property=HasFundamentalData&date=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "malformed date")
}

func TestEventsStreamSendsConnectedMessage(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/events/stream", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel() // Handler writes the greeting, then observes the closed context.
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"type":"connected"`)
}

func TestEventsWebsocketForwardsEvents(t *testing.T) {
	s, _, bus := newTestServer(t)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Give the handler a moment to register its subscriptions.
	time.Sleep(100 * time.Millisecond)
	bus.Publish(&events.Event{
		Type:   events.CoarseGenerated,
		Module: "universe",
		Data:   map[string]interface{}{"date": "20250103"},
	})

	var msg map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.CoarseGenerated), msg["type"])
	assert.Equal(t, "universe", msg["module"])
}
