// Package abuse_test provides unit tests for the abuse recorder.
package abuse_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/leylinehq/session-service/internal/infrastructure/cache/redis"
	"github.com/leylinehq/session-service/internal/services/abuse"
)

func setupRecorder(t *testing.T) (*miniredis.Miniredis, abuse.Recorder) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := rediscache.NewCacheWithClient(client, time.Minute)

	t.Cleanup(func() {
		c.Close()
		mr.Close()
	})

	return mr, abuse.NewRecorder(c, time.Hour, zerolog.Nop())
}

func TestRecorder_FlagsSuspiciousSession(t *testing.T) {
	_, recorder := setupRecorder(t)
	ctx := context.Background()

	assert.False(t, recorder.IsFlagged(ctx, "sid_aaa"))

	recorder.RecordSuspiciousSession(ctx, "rlm_xxx", "sid_aaa", "token from ancient era")

	assert.True(t, recorder.IsFlagged(ctx, "sid_aaa"))
	assert.False(t, recorder.IsFlagged(ctx, "sid_bbb"))
}

func TestRecorder_FlagExpires(t *testing.T) {
	mr, recorder := setupRecorder(t)
	ctx := context.Background()

	recorder.RecordSuspiciousSession(ctx, "rlm_xxx", "sid_aaa", "fingerprint mismatch")
	require.True(t, recorder.IsFlagged(ctx, "sid_aaa"))

	mr.FastForward(2 * time.Hour)

	assert.False(t, recorder.IsFlagged(ctx, "sid_aaa"))
}

func TestRecorder_SuspiciousTokenStoresDigestOnly(t *testing.T) {
	mr, recorder := setupRecorder(t)
	ctx := context.Background()

	encoded := "AAEC-presented-token-material"
	recorder.RecordSuspiciousToken(ctx, "rlm_xxx", encoded)

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, key := range keys {
		assert.NotContains(t, key, encoded, "raw tokens must never be cache keys")
	}
	assert.Contains(t, keys, "abuse:token:"+abuse.TokenDigest(encoded))
}

func TestRecorder_CacheDownIsBestEffort(t *testing.T) {
	mr, recorder := setupRecorder(t)
	ctx := context.Background()

	mr.Close()

	// Nothing may panic or error out to the caller.
	recorder.RecordSuspiciousSession(ctx, "rlm_xxx", "sid_aaa", "reason")
	recorder.RecordSuspiciousToken(ctx, "rlm_xxx", "token")
	assert.False(t, recorder.IsFlagged(ctx, "sid_aaa"))
}
