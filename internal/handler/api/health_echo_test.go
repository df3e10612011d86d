package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PegWatch/internal/domain/models"
	"PegWatch/internal/registry"
	"PegWatch/internal/usecase"
)

type staticSource struct {
	prices    map[string][]float64
	available bool
}

func (s *staticSource) Name() string      { return "static" }
func (s *staticSource) IsAvailable() bool { return s.available }

func (s *staticSource) FetchPrices(_ context.Context, symbols []string, _ string) ([]models.PriceObservation, error) {
	var out []models.PriceObservation
	for _, sym := range symbols {
		for i, p := range s.prices[sym] {
			out = append(out, models.PriceObservation{
				Symbol:    sym,
				Price:     p,
				Source:    "static-" + string(rune('a'+i)),
				Timestamp: time.Now(),
			})
		}
	}
	return out, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*echo.Echo, *usecase.HealthMonitor, *staticSource) {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)

	src := &staticSource{
		prices:    map[string][]float64{"USDT": {1.00, 1.01, 0.99}},
		available: true,
	}
	monitor, _ := usecase.NewTestHealthMonitor(reg, src)
	t.Cleanup(func() { monitor.StopAllMonitoring() })

	e := echo.New()
	NewHealthEchoHandler(monitor, reg, nil, nil).RegisterRoutes(e)
	return e, monitor, src
}

func do(e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	e, _, _ := setup(t)

	rec, env := do(e, http.MethodGet, "/api/v1/health/usdt?chain=Ethereum", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.HealthReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "USDT", report.Symbol)
	assert.Equal(t, "ethereum", report.Chain)
	assert.Equal(t, models.StatusHealthy, report.Status)
	assert.Equal(t, 27, report.RiskScore)
}

func TestHealthEndpointErrors(t *testing.T) {
	e, _, _ := setup(t)

	rec, env := do(e, http.MethodGet, "/api/v1/health/FAKE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_UNSUPPORTED_ASSET")

	rec, env = do(e, http.MethodGet, "/api/v1/health/DAI", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, string(env.Data), "ERR_NO_DATA")

	rec, _ = do(e, http.MethodGet, "/api/v1/health/WAYTOOLONGSYMBOLNAME", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchHealthDropsFailures(t *testing.T) {
	e, _, _ := setup(t)

	rec, env := do(e, http.MethodGet, "/api/v1/health?symbols=dai,usdt,fake", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var reports []models.HealthReport
	require.NoError(t, json.Unmarshal(env.Data, &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "USDT", reports[0].Symbol)

	rec, env = do(e, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &reports))
	assert.Len(t, reports, 1)
}

func TestAssetsEndpoint(t *testing.T) {
	e, _, _ := setup(t)

	rec, env := do(e, http.MethodGet, "/api/v1/assets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var assets []models.AssetMetadata
	require.NoError(t, json.Unmarshal(env.Data, &assets))
	require.NotEmpty(t, assets)
	for i := 1; i < len(assets); i++ {
		assert.Less(t, assets[i-1].Symbol, assets[i].Symbol)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	e, monitor, _ := setup(t)

	rec, _ := do(e, http.MethodPost, "/api/v1/monitors", `{"symbol":"USDT","interval_ms":60000}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = do(e, http.MethodPost, "/api/v1/monitors", `{"symbol":"FAKE"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(e, http.MethodPost, "/api/v1/monitors", `{"symbol":"USDC","interval_ms":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := do(e, http.MethodGet, "/api/v1/monitors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var active []models.MonitorInfo
	require.NoError(t, json.Unmarshal(env.Data, &active))
	require.Len(t, active, 1)
	assert.Equal(t, "USDT", active[0].Symbol)
	assert.Equal(t, time.Minute, active[0].Interval)

	rec, _ = do(e, http.MethodDelete, "/api/v1/monitors/usdt", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, monitor.ActiveMonitors())

	rec, _ = do(e, http.MethodDelete, "/api/v1/monitors/usdt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, monitor.StartMonitoring(context.Background(), "USDC", "", time.Minute))
	rec, env = do(e, http.MethodDelete, "/api/v1/monitors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stopped":1}`, string(env.Data))
}

func TestHealthzReportsDegradedSource(t *testing.T) {
	e, _, src := setup(t)

	rec, _ := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	src.available = false
	rec, _ = do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitedGroup(t *testing.T) {
	reg, err := registry.Default()
	require.NoError(t, err)
	monitor, _ := usecase.NewTestHealthMonitor(reg, &staticSource{available: true})

	e := echo.New()
	NewHealthEchoHandler(monitor, reg, denyAll{}, nil).RegisterRoutes(e)

	rec, _ := do(e, http.MethodGet, "/api/v1/assets", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
