package handlers

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func (r *rateLimiter) size() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.bucket)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := newRateLimiter(rate.Limit(1), 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		limiter.limiterFor(fmt.Sprintf("10.0.0.%d", i))
	}
	require.Equal(t, 50, limiter.size())

	now = now.Add(limiterIdleTTL / 2)
	limiter.limiterFor("10.0.0.1")

	now = now.Add(limiterIdleTTL)
	limiter.limiterFor("192.168.1.1")
	require.Equal(t, 1, limiter.size())
}

func TestRateLimiterKeepsActiveClientBucket(t *testing.T) {
	limiter := newRateLimiter(rate.Limit(0.001), 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	first := limiter.limiterFor("10.0.0.1")
	require.True(t, first.Allow())

	now = now.Add(limiterIdleTTL - time.Second)
	second := limiter.limiterFor("10.0.0.1")
	require.Same(t, first, second)
	require.False(t, second.Allow())
}
