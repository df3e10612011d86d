package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowPerKey(t *testing.T) {
	l := New(0.001, 2)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestUnlimited(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("k"))
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(0.001, 1)
	require.NoError(t, l.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "k"))
}

func TestKeysAreBounded(t *testing.T) {
	l := New(10, 1, WithMaxKeys(100))
	for i := 0; i < 1000; i++ {
		l.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	assert.Equal(t, 100, l.Len())

	// the most recent key survived and keeps its spent bucket
	assert.False(t, l.Allow("10.0.3.231"))
}

func TestIdleBucketsExpire(t *testing.T) {
	l := New(0, 1, WithIdleTTL(30*time.Millisecond))
	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	require.Equal(t, 50, l.Len())
	assert.Eventually(t, func() bool { return l.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIdleTTLCoversRefill(t *testing.T) {
	l := New(1, 5, WithIdleTTL(time.Millisecond))
	require.True(t, l.Allow("k"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, l.Len())
}

func TestAllowAtUsesCallerClock(t *testing.T) {
	l := New(2, 1)
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, l.AllowAt("k", t0))
	assert.False(t, l.AllowAt("k", t0.Add(100*time.Millisecond)))
	assert.True(t, l.AllowAt("k", t0.Add(600*time.Millisecond)))
}
