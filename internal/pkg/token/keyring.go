// Package token implements the signed binary envelope that carries one era
// credential, and the keyring that signs and verifies envelopes.
package token

import (
	"fmt"
)

// Key is one named symmetric signing key.
type Key struct {
	ID      string
	Secret  []byte
	Default bool
}

// Keyring is a small set of named symmetric keys. Exactly one key, marked
// default, signs new tokens; every key verifies. Multiple keys exist
// specifically to support rotation: a retiring key stays on the ring for
// verification until the tokens it signed have aged out.
type Keyring struct {
	secrets   map[string][]byte
	defaultID string
}

// NewKeyring builds a keyring from the given keys.
func NewKeyring(keys []Key) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one signing key is required")
	}

	secrets := make(map[string][]byte, len(keys))
	defaultID := ""
	for _, k := range keys {
		if k.ID == "" {
			return nil, fmt.Errorf("signing key id must not be empty")
		}
		if len(k.ID) > maxSigningKeyIDLength {
			return nil, fmt.Errorf("signing key id too long: %s", k.ID)
		}
		if len(k.Secret) == 0 {
			return nil, fmt.Errorf("signing key %s has no secret", k.ID)
		}
		if _, dup := secrets[k.ID]; dup {
			return nil, fmt.Errorf("duplicate signing key id: %s", k.ID)
		}

		secrets[k.ID] = k.Secret
		if k.Default {
			if defaultID != "" {
				return nil, fmt.Errorf("multiple default signing keys: %s and %s", defaultID, k.ID)
			}
			defaultID = k.ID
		}
	}

	if defaultID == "" {
		return nil, fmt.Errorf("no signing key is marked default")
	}

	return &Keyring{secrets: secrets, defaultID: defaultID}, nil
}

// SignerID returns the id of the key that signs new tokens.
func (r *Keyring) SignerID() string {
	return r.defaultID
}

// secret returns the secret for the named key, or nil if the key is not on
// the ring.
func (r *Keyring) secret(id string) []byte {
	return r.secrets[id]
}
