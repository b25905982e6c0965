// Package token_test provides unit tests for the token envelope codec.
package token_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/pkg/token"
)

func testKeyring(t *testing.T) *token.Keyring {
	t.Helper()

	keyring, err := token.NewKeyring([]token.Key{
		{ID: "primary", Secret: []byte("primary-secret-material"), Default: true},
		{ID: "retiring", Secret: []byte("retiring-secret-material")},
	})
	require.NoError(t, err)
	return keyring
}

func testCredential(era uint32, tokenID string) models.EraCredential {
	return models.EraCredential{
		EraNumber:       era,
		SecurityContext: models.SecurityContextRef{Name: "authenticated", Version: 3},
		TokenID:         tokenID,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	keyring := testKeyring(t)
	credential := testCredential(42, "tkn_abcdefghijklmnop")

	encoded, err := token.Encode("sid_mzxw6ytboi2tqojq", credential, keyring)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "=")

	decoded, err := token.Decode(encoded, keyring)
	require.NoError(t, err)

	assert.Equal(t, "sid_mzxw6ytboi2tqojq", decoded.SessionID)
	assert.Equal(t, credential, decoded.Credential)
	assert.Equal(t, encoded, decoded.Original)
}

func TestEncode_OversizedInputs(t *testing.T) {
	keyring := testKeyring(t)

	_, err := token.Encode(strings.Repeat("s", 256), testCredential(1, "tkn_a"), keyring)
	assert.Error(t, err)

	oversized := models.EraCredential{
		EraNumber:       1,
		SecurityContext: models.SecurityContextRef{Name: strings.Repeat("c", 256), Version: 1},
		TokenID:         "tkn_a",
	}
	_, err = token.Encode("sid_a", oversized, keyring)
	assert.Error(t, err)
}

func TestDecode_GarbageEncoding(t *testing.T) {
	keyring := testKeyring(t)

	for _, garbage := range []string{"", "!!!not-base64!!!", "AAAA", base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x02})} {
		_, err := token.Decode(garbage, keyring)
		require.Error(t, err, "input %q", garbage)
		assert.True(t, domainerrors.IsMalformedToken(err))
		assert.False(t, domainerrors.IsPrejudicial(err), "garbage must not be prejudicial: %q", garbage)
	}
}

func TestDecode_UnknownSigningKey(t *testing.T) {
	signer, err := token.NewKeyring([]token.Key{
		{ID: "alpha", Secret: []byte("alpha-secret"), Default: true},
	})
	require.NoError(t, err)

	verifier, err := token.NewKeyring([]token.Key{
		{ID: "beta", Secret: []byte("beta-secret"), Default: true},
	})
	require.NoError(t, err)

	encoded, err := token.Encode("sid_a", testCredential(1, "tkn_a"), signer)
	require.NoError(t, err)

	_, err = token.Decode(encoded, verifier)
	require.Error(t, err)
	assert.True(t, domainerrors.IsMalformedToken(err))
	assert.False(t, domainerrors.IsPrejudicial(err))
}

func TestDecode_SignatureMismatchIsPrejudicial(t *testing.T) {
	signer, err := token.NewKeyring([]token.Key{
		{ID: "primary", Secret: []byte("the-real-secret"), Default: true},
	})
	require.NoError(t, err)

	imposter, err := token.NewKeyring([]token.Key{
		{ID: "primary", Secret: []byte("a-different-secret"), Default: true},
	})
	require.NoError(t, err)

	encoded, err := token.Encode("sid_a", testCredential(1, "tkn_a"), signer)
	require.NoError(t, err)

	_, err = token.Decode(encoded, imposter)
	require.Error(t, err)
	assert.True(t, domainerrors.IsMalformedToken(err))
	assert.True(t, domainerrors.IsPrejudicial(err))
}

func TestDecode_EveryByteMutationRejected(t *testing.T) {
	keyring := testKeyring(t)

	encoded, err := token.Encode("sid_mzxw6ytboi2tqojq", testCredential(7, "tkn_abcdefghijklmnop"), keyring)
	require.NoError(t, err)

	envelope, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)

	for i := range envelope {
		mutated := make([]byte, len(envelope))
		copy(mutated, envelope)
		mutated[i] ^= 0x01

		_, err := token.Decode(base64.RawURLEncoding.EncodeToString(mutated), keyring)
		require.Error(t, err, "mutation at byte %d must not decode", i)
		assert.True(t, domainerrors.IsMalformedToken(err), "mutation at byte %d", i)
	}
}

func TestDecode_TruncationRejected(t *testing.T) {
	keyring := testKeyring(t)

	encoded, err := token.Encode("sid_a", testCredential(1, "tkn_a"), keyring)
	require.NoError(t, err)

	envelope, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)

	for length := 0; length < len(envelope); length++ {
		_, err := token.Decode(base64.RawURLEncoding.EncodeToString(envelope[:length]), keyring)
		assert.Error(t, err, "truncation to %d bytes must not decode", length)
	}
}

func TestDecodeValid_GroupsBySessionAndFiltersContext(t *testing.T) {
	keyring := testKeyring(t)

	authA1, err := token.Encode("sid_aaa", testCredential(1, "tkn_a1"), keyring)
	require.NoError(t, err)
	authA2, err := token.Encode("sid_aaa", testCredential(2, "tkn_a2"), keyring)
	require.NoError(t, err)
	authB, err := token.Encode("sid_bbb", testCredential(5, "tkn_b"), keyring)
	require.NoError(t, err)

	otherContext, err := token.Encode("sid_aaa", models.EraCredential{
		EraNumber:       1,
		SecurityContext: models.SecurityContextRef{Name: "secure", Version: 1},
		TokenID:         "tkn_other",
	}, keyring)
	require.NoError(t, err)

	grouped := token.DecodeValid(
		[]string{authA1, "garbage-token", authB, otherContext, authA2},
		"authenticated",
		keyring,
	)

	require.Len(t, grouped, 2)
	require.Len(t, grouped["sid_aaa"], 2)
	require.Len(t, grouped["sid_bbb"], 1)
	assert.Equal(t, "tkn_a1", grouped["sid_aaa"][0].Credential.TokenID)
	assert.Equal(t, "tkn_a2", grouped["sid_aaa"][1].Credential.TokenID)
	assert.Equal(t, "tkn_b", grouped["sid_bbb"][0].Credential.TokenID)
}

func TestNewKeyring_Validation(t *testing.T) {
	_, err := token.NewKeyring(nil)
	assert.Error(t, err)

	_, err = token.NewKeyring([]token.Key{{ID: "a", Secret: []byte("s")}})
	assert.Error(t, err, "a keyring without a default key must be rejected")

	_, err = token.NewKeyring([]token.Key{
		{ID: "a", Secret: []byte("s"), Default: true},
		{ID: "b", Secret: []byte("s"), Default: true},
	})
	assert.Error(t, err, "two default keys must be rejected")

	_, err = token.NewKeyring([]token.Key{
		{ID: "a", Secret: []byte("s"), Default: true},
		{ID: "a", Secret: []byte("t")},
	})
	assert.Error(t, err, "duplicate key ids must be rejected")

	_, err = token.NewKeyring([]token.Key{{ID: "", Secret: []byte("s"), Default: true}})
	assert.Error(t, err)

	_, err = token.NewKeyring([]token.Key{{ID: "a", Secret: nil, Default: true}})
	assert.Error(t, err)
}
