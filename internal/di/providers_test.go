package di

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PegWatch/pkg/cache"
	"PegWatch/pkg/config"
	applogger "PegWatch/pkg/logger"
)

func TestProvideFreshCacheUsesCacheDefaultTTL(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.DefaultTTL = 7 * time.Minute
	cfg.Monitor.ReportTTL = 15 * time.Second

	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	fresh := ProvideFreshCache(cfg, mem, applogger.NewNop())
	assert.Equal(t, 7*time.Minute, fresh.DefaultTTL())
	assert.True(t, fresh.Enabled())
}
