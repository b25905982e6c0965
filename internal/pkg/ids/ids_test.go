// Package ids_test provides unit tests for id generation and validation.
package ids_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leylinehq/session-service/internal/pkg/ids"
)

func TestNew_Shape(t *testing.T) {
	for _, prefix := range []string{ids.RealmPrefix, ids.SessionPrefix, ids.TokenPrefix} {
		id := ids.New(prefix)

		assert.True(t, strings.HasPrefix(id, prefix+"_"), id)
		assert.True(t, ids.Valid(id, prefix), id)
		assert.Len(t, id, len(prefix)+1+32, id)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := ids.New(ids.SessionPrefix)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	assert.True(t, ids.Valid("sid_mzxw6ytboi2tqojq", "sid"))

	assert.False(t, ids.Valid("", "sid"))
	assert.False(t, ids.Valid("sid_", "sid"))
	assert.False(t, ids.Valid("sid_short", "sid"))
	assert.False(t, ids.Valid("rlm_mzxw6ytboi2tqojq", "sid"), "wrong namespace")
	assert.False(t, ids.Valid("sid_MZXW6YTBOI2TQOJQ", "sid"), "uppercase is not canonical")
	assert.False(t, ids.Valid("sid_mzxw6ytboi1tqojq", "sid"), "1 is outside the base32 alphabet")
	assert.False(t, ids.Valid("sid mzxw6ytboi2tqojq", "sid"))
}
