package models

// EraCredential is one credential of a session era. It is transient: only
// its token id is ever persisted, inside the session's accepted-id sets.
type EraCredential struct {
	EraNumber       uint32             `json:"eraNumber"`
	SecurityContext SecurityContextRef `json:"securityContext"`

	// TokenID is the base64url form of the credential's random token id.
	TokenID string `json:"tokenId"`
}
