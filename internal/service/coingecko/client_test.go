package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PegWatch/internal/domain/models"
	"PegWatch/internal/domain/repository"
	"PegWatch/internal/registry"
)

var _ repository.PriceSource = (*Client)(nil)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New(
		models.AssetMetadata{Symbol: "USDT", PegCurrency: "USD", TargetPrice: 1, CoingeckoID: "tether"},
		models.AssetMetadata{Symbol: "PAXG", PegCurrency: "XAU", TargetPrice: 1, CoingeckoID: "pax-gold"},
		models.AssetMetadata{Symbol: "NOID", PegCurrency: "USD", TargetPrice: 1},
	)
	require.NoError(t, err)
	return r
}

func TestFetchPrices(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "tether,pax-gold", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd,xau", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "true", r.URL.Query().Get("include_24hr_vol"))
		assert.Equal(t, "secret", r.Header.Get("x-cg-pro-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tether":{"usd":1.0004,"usd_24h_vol":45000000000},"pax-gold":{"xau":0.9987}}`))
	}))
	defer srv.Close()

	c := New(testRegistry(t), Config{BaseURL: srv.URL, APIKey: "secret", RPS: 100, Burst: 10}, WithClock(func() time.Time { return now }))

	obs, err := c.FetchPrices(context.Background(), []string{"usdt", "PAXG", "NOID", "FAKE"}, "ethereum")
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "USDT", obs[0].Symbol)
	assert.Equal(t, 1.0004, obs[0].Price)
	assert.Equal(t, SourceName, obs[0].Source)
	assert.Equal(t, now, obs[0].Timestamp)
	require.NotNil(t, obs[0].Volume24h)
	assert.Equal(t, 45e9, *obs[0].Volume24h)

	assert.Equal(t, "PAXG", obs[1].Symbol)
	assert.Equal(t, 0.9987, obs[1].Price)
	assert.Nil(t, obs[1].Volume24h)
}

func TestFetchPricesNothingToAsk(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	c := New(testRegistry(t), Config{BaseURL: srv.URL})
	obs, err := c.FetchPrices(context.Background(), []string{"NOID"}, "")
	assert.NoError(t, err)
	assert.Empty(t, obs)
	assert.Zero(t, hits.Load())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(testRegistry(t), Config{BaseURL: srv.URL, RPS: 100, Burst: 10, MaxFailures: 2, OpenTimeout: time.Hour})
	ctx := context.Background()

	assert.True(t, c.IsAvailable())
	_, err := c.FetchPrices(ctx, []string{"USDT"}, "")
	assert.Error(t, err)
	_, err = c.FetchPrices(ctx, []string{"USDT"}, "")
	assert.Error(t, err)
	assert.False(t, c.IsAvailable())

	_, err = c.FetchPrices(ctx, []string{"USDT"}, "")
	assert.ErrorContains(t, err, "unavailable")
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchPricesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := New(testRegistry(t), Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, RPS: 100, Burst: 10})
	_, err := c.FetchPrices(context.Background(), []string{"USDT"}, "")
	assert.Error(t, err)
}
