// Package ids generates and validates the prefixed, globally unique
// identifiers used for realms, sessions, and tokens.
package ids

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"regexp"
	"strings"
)

// Prefixes for the entity id namespaces.
const (
	RealmPrefix   = "rlm"
	SessionPrefix = "sid"
	TokenPrefix   = "tkn"
)

// 20 random bytes encode to 32 base32 characters, comfortably unguessable
// for an identifier that is not itself a secret.
const randomBytes = 20

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var idPattern = regexp.MustCompile(`^[a-z]{2,8}_[a-z2-7]{16,64}$`)

// New returns a fresh id in the given prefix namespace.
func New(prefix string) string {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("ids: reading random bytes: %v", err))
	}

	return prefix + "_" + strings.ToLower(idEncoding.EncodeToString(buf))
}

// Valid reports whether id is well formed and belongs to the given prefix
// namespace.
func Valid(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_") && idPattern.MatchString(id)
}
