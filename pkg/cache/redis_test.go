package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheSetGet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "pegwatch")

	in := report{Symbol: "USDT", Score: 5, Alerts: []string{"x"}}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	mock.ExpectSet("pegwatch:health:USDT:ethereum", data, 30*time.Second).SetVal("OK")
	mock.ExpectGet("pegwatch:health:USDT:ethereum").SetVal(string(data))
	mock.ExpectGet("pegwatch:health:USDC:ethereum").RedisNil()

	require.NoError(t, rc.Set(ctx, "health:USDT:ethereum", in, 30*time.Second))

	var out report
	require.NoError(t, rc.Get(ctx, "health:USDT:ethereum", &out))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, rc.Get(ctx, "health:USDC:ethereum", &out), ErrCacheMiss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheDelete(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheFromClient(db, "pegwatch")

	mock.ExpectUnlink("pegwatch:a", "pegwatch:b").SetVal(1)
	mock.ExpectScan(0, "pegwatch:*", scanPageSize).SetVal([]string{"pegwatch:x", "pegwatch:y"}, 7)
	mock.ExpectUnlink("pegwatch:x", "pegwatch:y").SetVal(2)
	mock.ExpectScan(7, "pegwatch:*", scanPageSize).SetVal([]string{"pegwatch:z"}, 0)
	mock.ExpectUnlink("pegwatch:z").SetVal(1)
	mock.ExpectExists("pegwatch:a").SetVal(0)

	n, err := rc.Delete(ctx, "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = rc.DeleteByPattern(ctx, "*")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	ok, err := rc.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCacheBackfillsMemory(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	lc := NewLayeredCache(NewRedisCacheFromClient(db, "pegwatch"))
	defer lc.memCache.Close()

	data, _ := json.Marshal(report{Symbol: "DAI", Score: 3})
	mock.ExpectGet("pegwatch:k").SetVal(string(data))

	var out report
	require.NoError(t, lc.Get(ctx, "k", &out))
	assert.Equal(t, "DAI", out.Symbol)

	// Second read is served from memory; no further Redis expectation is registered.
	var again report
	require.NoError(t, lc.Get(ctx, "k", &again))
	assert.Equal(t, out, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisOptionsKeepDefaults(t *testing.T) {
	cfg := defaultRedisConfig()
	for _, opt := range []RedisOption{
		WithRedisHost(""),
		WithRedisPort(0),
		WithRedisDB(-1),
		WithRedisPool(4, 9, 0),
		WithRedisDialTimeout(-time.Second),
	} {
		opt(cfg)
	}

	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, 0, cfg.DB)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Equal(t, 4, cfg.MinIdleConns)
	assert.Equal(t, 30*time.Second, cfg.PoolTimeout)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
}
