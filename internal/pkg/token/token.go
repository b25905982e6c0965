package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
)

// protocolVersion is the version byte of both the outer envelope and the
// signed payload.
const protocolVersion byte = 0x00

const (
	maxSessionIDLength        = 255
	maxSecurityContextLength  = 255
	maxSigningKeyIDLength     = 255
	maxPayloadLength          = 65535
	truncatedSignatureLength  = 4
	eraNumberLength           = 4
	minimumOuterEnvelopeBytes = 1 + 2 + 1 + truncatedSignatureLength
)

// transportEncoding is the base encoding the envelope travels in. No
// padding: the tokens end up in cookies and query strings.
var transportEncoding = base64.RawURLEncoding

// Decoded is the result of successfully opening one envelope.
type Decoded struct {
	SessionID  string
	Credential models.EraCredential
	Protocol   byte

	// Original is the encoded token exactly as presented, kept so the
	// pipeline can echo it back in retire and suspicious lists.
	Original string
}

// Encode packs one era credential into a signed envelope:
//
//	[protocol][uint16 payload length][payload][uint8 key id length][key id][4-byte HMAC]
//
// where the payload is
//
//	[protocol][uint8 session id length][session id][uint32 era number]
//	[uint8 context ref length][context ref][token id]
//
// and the HMAC is an HMAC-SHA256 over the payload, truncated to four bytes,
// keyed by the keyring's default key. Encode fails only on oversized
// inputs, which are programming errors rather than user errors.
func Encode(sessionID string, credential models.EraCredential, keyring *Keyring) (string, error) {
	if len(sessionID) > maxSessionIDLength {
		return "", fmt.Errorf("session id too long: %s", sessionID)
	}

	contextRef := credential.SecurityContext.String()
	if len(contextRef) > maxSecurityContextLength {
		return "", fmt.Errorf("security context reference too long: %s", contextRef)
	}

	payload := make([]byte, 0,
		1+1+len(sessionID)+eraNumberLength+1+len(contextRef)+len(credential.TokenID))
	payload = append(payload, protocolVersion)
	payload = append(payload, byte(len(sessionID)))
	payload = append(payload, sessionID...)
	payload = binary.BigEndian.AppendUint32(payload, credential.EraNumber)
	payload = append(payload, byte(len(contextRef)))
	payload = append(payload, contextRef...)
	payload = append(payload, credential.TokenID...)

	if len(payload) > maxPayloadLength {
		return "", fmt.Errorf("token payload too long: %d bytes", len(payload))
	}

	signerID := keyring.SignerID()
	signature := sign(keyring.secret(signerID), payload)

	envelope := make([]byte, 0,
		1+2+len(payload)+1+len(signerID)+truncatedSignatureLength)
	envelope = append(envelope, protocolVersion)
	envelope = binary.BigEndian.AppendUint16(envelope, uint16(len(payload)))
	envelope = append(envelope, payload...)
	envelope = append(envelope, byte(len(signerID)))
	envelope = append(envelope, signerID...)
	envelope = append(envelope, signature...)

	return transportEncoding.EncodeToString(envelope), nil
}

// Decode opens one envelope, verifying the outer HMAC against the named
// signing key before trusting any field. Every rejection is a
// MalformedToken domain error; its prejudice flag is true only when the
// bytes parse but the signature does not verify, which signals tampering
// rather than corruption.
func Decode(encoded string, keyring *Keyring) (*Decoded, error) {
	envelope, err := transportEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.NewMalformedTokenError("undecodable transport encoding", false)
	}

	if len(envelope) < minimumOuterEnvelopeBytes {
		return nil, errors.NewMalformedTokenError("truncated envelope", false)
	}
	if envelope[0] != protocolVersion {
		return nil, errors.NewMalformedTokenError("unrecognized envelope protocol", false)
	}

	payloadLength := int(binary.BigEndian.Uint16(envelope[1:3]))
	rest := envelope[3:]
	if len(rest) < payloadLength+1 {
		return nil, errors.NewMalformedTokenError("truncated payload", false)
	}
	payload := rest[:payloadLength]
	rest = rest[payloadLength:]

	keyIDLength := int(rest[0])
	rest = rest[1:]
	if len(rest) != keyIDLength+truncatedSignatureLength {
		return nil, errors.NewMalformedTokenError("truncated signature", false)
	}
	keyID := string(rest[:keyIDLength])
	signature := rest[keyIDLength:]

	secret := keyring.secret(keyID)
	if secret == nil {
		return nil, errors.NewMalformedTokenError("unknown signing key", false)
	}
	if !hmac.Equal(signature, sign(secret, payload)) {
		return nil, errors.NewMalformedTokenError("signature mismatch", true)
	}

	// The payload is now authenticated; anything structurally wrong past
	// this point came out of our own encoder.
	decoded, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	decoded.Original = encoded

	return decoded, nil
}

func decodePayload(payload []byte) (*Decoded, error) {
	if len(payload) < 2 {
		return nil, errors.NewMalformedTokenError("truncated payload", false)
	}
	if payload[0] != protocolVersion {
		return nil, errors.NewMalformedTokenError("unrecognized payload protocol", false)
	}

	sessionIDLength := int(payload[1])
	rest := payload[2:]
	if len(rest) < sessionIDLength+eraNumberLength+1 {
		return nil, errors.NewMalformedTokenError("truncated payload", false)
	}
	sessionID := string(rest[:sessionIDLength])
	rest = rest[sessionIDLength:]

	eraNumber := binary.BigEndian.Uint32(rest[:eraNumberLength])
	rest = rest[eraNumberLength:]

	contextRefLength := int(rest[0])
	rest = rest[1:]
	if len(rest) < contextRefLength {
		return nil, errors.NewMalformedTokenError("truncated payload", false)
	}
	contextRef, err := models.ParseSecurityContextRef(string(rest[:contextRefLength]))
	if err != nil {
		return nil, errors.NewMalformedTokenError("malformed security context reference", false)
	}
	tokenID := string(rest[contextRefLength:])
	if tokenID == "" {
		return nil, errors.NewMalformedTokenError("missing token id", false)
	}

	return &Decoded{
		SessionID: sessionID,
		Protocol:  protocolVersion,
		Credential: models.EraCredential{
			EraNumber:       eraNumber,
			SecurityContext: contextRef,
			TokenID:         tokenID,
		},
	}, nil
}

// DecodeValid is the batch form used by the access attempt pipeline. It
// decodes every presented token, keeping only the ones signed by us and
// minted for the desired security context, grouped by session id. Tokens
// that individually fail to decode are silently dropped: one corrupt cookie
// must not deny service to the valid ones beside it.
func DecodeValid(tokens []string, desiredContext string, keyring *Keyring) map[string][]Decoded {
	bySession := make(map[string][]Decoded)
	for _, encoded := range tokens {
		decoded, err := Decode(encoded, keyring)
		if err != nil {
			continue
		}
		if desiredContext != "" && decoded.Credential.SecurityContext.Name != desiredContext {
			continue
		}

		bySession[decoded.SessionID] = append(bySession[decoded.SessionID], *decoded)
	}

	return bySession
}

func sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)[:truncatedSignatureLength]
}
