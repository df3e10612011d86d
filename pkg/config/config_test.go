package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 30*time.Second, c.Monitor.ReportTTL)
	assert.Equal(t, 5*time.Minute, c.Cache.DefaultTTL)
	assert.Equal(t, 10000, c.Sources.Stream.MaxKeys)
	assert.Equal(t, 24*time.Hour, c.Monitor.ScoreTTL)
	assert.Equal(t, 10, c.Monitor.RiskChangeThreshold)
	assert.Equal(t, "ethereum", c.Monitor.DefaultChain)
	assert.Equal(t, 0.5, c.Risk.DepegWarning)
	assert.Equal(t, 2.0, c.Risk.DepegCritical)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.Equal(t, "pegwatch.events", c.Kafka.Topics.Events)
	assert.True(t, c.Sources.CoinGecko.Enabled)
	assert.Equal(t, uint32(3), c.Sources.CoinGecko.MaxFailures)
	assert.False(t, c.NeedsClickHouse())
	assert.False(t, c.NeedsRedis())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9090
monitor:
  report_ttl: 5s
  watchlist:
    - symbol: USDT
    - symbol: DAI
      chain: polygon
cache:
  backend: layered
  default_ttl: 2m
sources:
  clickhouse:
    enabled: true
    lookback: 90s
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 5*time.Second, c.Monitor.ReportTTL)
	assert.Equal(t, 2*time.Minute, c.Cache.DefaultTTL)
	assert.Equal(t, 24*time.Hour, c.Monitor.ScoreTTL)
	assert.Equal(t, []WatchItem{{Symbol: "USDT"}, {Symbol: "DAI", Chain: "polygon"}}, c.Monitor.Watchlist)
	assert.Equal(t, 90*time.Second, c.Sources.ClickHouse.Lookback)
	assert.Equal(t, "price_ticks", c.Sources.ClickHouse.Table)
	assert.True(t, c.NeedsClickHouse())
	assert.True(t, c.NeedsRedis())
}

func TestValidateCrossFieldRules(t *testing.T) {
	cases := map[string]string{
		"depeg order":     "risk:\n  depeg_warning: 3\n  depeg_critical: 2\n",
		"risk order":      "risk:\n  risk_medium: 80\n  risk_high: 70\n",
		"kafka brokers":   "kafka:\n  enabled: true\n",
		"consumer stream": "kafka:\n  enabled: true\n  brokers: [k:9092]\n  consumer:\n    enabled: true\n",
		"finnhub key":     "sources:\n  stream:\n    enabled: true\n  finnhub:\n    enabled: true\n    symbols: {\"BINANCE:USDCUSDT\": USDC}\n",
		"no sources":      "sources:\n  coingecko:\n    enabled: false\n",
		"bad backend":     "cache:\n  backend: disk\n",
		"bad env":         "environment: moon\n",
		"bad port":        "server:\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	env := map[string]string{
		"PEGWATCH_ENV":      "staging",
		"LOG_LEVEL":         "DEBUG",
		"HTTP_PORT":         "8181",
		"REDIS_ADDR":        "cache.internal:6380",
		"KAFKA_BROKERS":     "k1:9092, k2:9092,",
		"COINGECKO_API_KEY": "cg-key",
		"CLICKHOUSE_HOST":   "ch.internal",
		"WATCHLIST":         "usdt,dai:Polygon",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 8181, c.Server.Port)
	assert.Equal(t, "cache.internal", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "cg-key", c.Sources.CoinGecko.APIKey)
	assert.Equal(t, "ch.internal", c.ClickHouse.Host)
	assert.Equal(t, []WatchItem{{Symbol: "USDT"}, {Symbol: "DAI", Chain: "polygon"}}, c.Monitor.Watchlist)
	require.NoError(t, c.Validate())
}

func TestLoadWithEnvReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "7070")
	c, err := LoadWithEnv("")
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Server.Port)
}
