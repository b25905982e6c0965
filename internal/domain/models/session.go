package models

import (
	"time"
)

// PreconditionMemo caches the most recent successful precondition
// evaluation for a session. The memo may only be trusted while its hash
// still equals the hash of the security context's current precondition.
type PreconditionMemo struct {
	Hash        string    `bson:"hash" json:"hash"`
	EvaluatedAt time.Time `bson:"evaluatedAt" json:"evaluatedAt"`
}

// Session is the primary entity: one authenticated line of activity within a
// realm, living through numbered credential eras. Sessions are never
// deleted; invalidated sessions remain as an audit trail.
type Session struct {
	ID              string             `bson:"_id" json:"id"`
	RealmID         string             `bson:"realmId" json:"realmId"`
	SecurityContext SecurityContextRef `bson:"securityContext" json:"securityContext"`

	// SubjectID is the opaque claim-derived identity; empty for anonymous
	// sessions.
	SubjectID string `bson:"subjectId,omitempty" json:"subjectId,omitempty"`

	// AgentFingerprint, once set, must match on every subsequent
	// presentation or the session is invalidated with prejudice.
	AgentFingerprint string `bson:"agentFingerprint,omitempty" json:"agentFingerprint,omitempty"`

	CurrentEraNumber            uint32    `bson:"currentEraNumber" json:"currentEraNumber"`
	CurrentEraStartedAt         time.Time `bson:"currentEraStartedAt" json:"currentEraStartedAt"`
	AcceptedCurrentEraTokenIDs  []string  `bson:"acceptedCurrentEraTokenIds" json:"-"`
	AcceptedPreviousEraTokenIDs []string  `bson:"acceptedPreviousEraTokenIds" json:"-"`

	GoverningPeriodLength        time.Duration `bson:"governingPeriodLength" json:"governingPeriodLength"`
	InactivityExpirationDuration time.Duration `bson:"inactivityExpirationDuration" json:"inactivityExpirationDuration"`

	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	LastUsedAt time.Time `bson:"lastUsedAt" json:"lastUsedAt"`
	ExpiresAt  time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	Invalidated       bool   `bson:"invalidated,omitempty" json:"invalidated,omitempty"`
	InvalidatedReason string `bson:"invalidatedReason,omitempty" json:"invalidatedReason,omitempty"`

	// Claims is the JSON serialization of the claims asserted when the
	// session was created. Preconditions are re-evaluated against these,
	// never against newly presented claims.
	Claims string `bson:"claims,omitempty" json:"-"`

	PreconditionMemo *PreconditionMemo `bson:"preconditionMemo,omitempty" json:"-"`
}

// HasAcceptedCurrentEraTokenID reports whether id is in the current era's
// accepted set.
func (s *Session) HasAcceptedCurrentEraTokenID(id string) bool {
	return containsString(s.AcceptedCurrentEraTokenIDs, id)
}

// HasAcceptedPreviousEraTokenID reports whether id is in the previous era's
// accepted set.
func (s *Session) HasAcceptedPreviousEraTokenID(id string) bool {
	return containsString(s.AcceptedPreviousEraTokenIDs, id)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
