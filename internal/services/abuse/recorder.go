// Package abuse keeps short-lived operational counters about prejudicial
// credential presentations so operators can spot token theft in flight.
// Everything here is best effort: the cache being down must never block
// an access attempt from being adjudicated.
package abuse

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leylinehq/session-service/internal/core/cache"
)

const (
	// DefaultWindow is how long a suspicious marker stays visible.
	DefaultWindow = 24 * time.Hour

	sessionKeyPrefix = "abuse:session:"
	tokenKeyPrefix   = "abuse:token:"
	counterKeyPrefix = "abuse:count:"
)

// Recorder notes prejudicial presentations and answers whether a session
// has recently been flagged.
type Recorder interface {
	// RecordSuspiciousSession flags a session that was invalidated with
	// prejudice and bumps the realm's rolling counter.
	RecordSuspiciousSession(ctx context.Context, realmID, sessionID, reason string)

	// RecordSuspiciousToken flags a token that triggered a prejudicial
	// rejection. Only a digest of the token is stored.
	RecordSuspiciousToken(ctx context.Context, realmID, encodedToken string)

	// IsFlagged reports whether a session currently carries a suspicion
	// marker. Cache errors read as not flagged.
	IsFlagged(ctx context.Context, sessionID string) bool
}

type recorder struct {
	cache  cache.Cache
	window time.Duration
	logger zerolog.Logger
}

// NewRecorder creates a cache-backed recorder. A non-positive window
// falls back to DefaultWindow.
func NewRecorder(c cache.Cache, window time.Duration, logger zerolog.Logger) Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &recorder{cache: c, window: window, logger: logger}
}

func (r *recorder) RecordSuspiciousSession(ctx context.Context, realmID, sessionID, reason string) {
	if err := r.cache.Set(ctx, sessionKeyPrefix+sessionID, []byte(reason), r.window); err != nil {
		r.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to flag suspicious session")
	}
	r.bumpCounter(ctx, realmID)
}

func (r *recorder) RecordSuspiciousToken(ctx context.Context, realmID, encodedToken string) {
	key := tokenKeyPrefix + TokenDigest(encodedToken)
	if err := r.cache.Set(ctx, key, []byte(realmID), r.window); err != nil {
		r.logger.Warn().Err(err).Str("realmId", realmID).Msg("Failed to flag suspicious token")
	}
}

func (r *recorder) IsFlagged(ctx context.Context, sessionID string) bool {
	flagged, err := r.cache.Exists(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		r.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("Failed to read suspicion flag")
		return false
	}
	return flagged
}

func (r *recorder) bumpCounter(ctx context.Context, realmID string) {
	key := fmt.Sprintf("%s%s:%s", counterKeyPrefix, realmID, time.Now().UTC().Format("2006010215"))
	if _, err := r.cache.Increment(ctx, key, r.window); err != nil {
		r.logger.Warn().Err(err).Str("realmId", realmID).Msg("Failed to bump abuse counter")
	}
}

// TokenDigest derives the cache key material for a presented token. Raw
// tokens never go into the cache.
func TokenDigest(encodedToken string) string {
	sum := sha256.Sum256([]byte(encodedToken))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
