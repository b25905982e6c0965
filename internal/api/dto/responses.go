// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/leylinehq/session-service/internal/domain/models"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`

	// Relog and Retry steer the agent after a credential rejection:
	// relog means re-authenticate from scratch, retry means the same
	// tokens may succeed if presented again.
	Relog bool `json:"relog,omitempty"`
	Retry bool `json:"retry,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// SecurityContextResponse represents one security context of a realm.
type SecurityContextResponse struct {
	Version        int            `json:"version"`
	Precondition   string         `json:"precondition"`
	SessionOptions SessionOptions `json:"sessionOptions"`
}

// RealmResponse represents a realm in API responses.
type RealmResponse struct {
	ID               string                             `json:"id"`
	FriendlyName     string                             `json:"friendlyName"`
	SecurityContexts map[string]SecurityContextResponse `json:"securityContexts"`
	CreatedAt        time.Time                          `json:"createdAt"`
	UpdatedAt        time.Time                          `json:"updatedAt"`
}

// ListRealmsResponse represents one page of realms.
type ListRealmsResponse struct {
	Realms []RealmResponse `json:"realms"`
	After  string          `json:"after,omitempty"`
}

// SessionResponse represents a session in API responses. Token ids and
// stored claims never leave the service.
type SessionResponse struct {
	ID                string     `json:"id"`
	RealmID           string     `json:"realmId"`
	SecurityContext   string     `json:"securityContext"`
	SubjectID         string     `json:"subjectId,omitempty"`
	CurrentEraNumber  uint32     `json:"currentEraNumber"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastUsedAt        time.Time  `json:"lastUsedAt"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	Invalidated       bool       `json:"invalidated,omitempty"`
	InvalidatedReason string     `json:"invalidatedReason,omitempty"`

	// Flagged is set when anti-abuse tooling has recently marked the
	// session suspicious. Populated on single-session reads only.
	Flagged bool `json:"flagged,omitempty"`
}

// CreateSessionResponse represents a freshly minted session. The token is
// returned exactly once.
type CreateSessionResponse struct {
	Session SessionResponse `json:"session"`
	Token   string          `json:"token"`
}

// ListSessionsResponse represents one page of sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	After    string            `json:"after,omitempty"`
}

// SessionAccessResponse represents one session an access attempt proved
// live membership in.
type SessionAccessResponse struct {
	SessionID       string `json:"sessionId"`
	SubjectID       string `json:"subjectId,omitempty"`
	SecurityContext string `json:"securityContext"`
}

// AccessAttemptResponse represents the adjudication of an access attempt.
type AccessAttemptResponse struct {
	Sessions             []SessionAccessResponse `json:"sessions"`
	AddTokens            []string                `json:"addTokens"`
	RetireTokens         []string                `json:"retireTokens"`
	SuspiciousTokens     []string                `json:"suspiciousTokens"`
	SuspiciousSessionIDs []string                `json:"suspiciousSessionIds"`
}

// ConfigResponse represents the service configuration document. Signing
// key secrets are redacted.
type ConfigResponse struct {
	SigningKeyIDs          []string `json:"signingKeyIds"`
	DefaultSigningKeyID    string   `json:"defaultSigningKeyId,omitempty"`
	SessionEraGracePeriod  string   `json:"sessionEraGracePeriod,omitempty"`
	SessionGoverningPeriod string   `json:"sessionGoverningPeriodLength,omitempty"`
	Version                int64    `json:"version"`
}

// FromRealm converts a realm model to its API representation.
func FromRealm(realm *models.Realm) RealmResponse {
	contexts := make(map[string]SecurityContextResponse, len(realm.SecurityContexts))
	for name, sc := range realm.SecurityContexts {
		contexts[name] = SecurityContextResponse{
			Version:      sc.Version,
			Precondition: sc.Precondition,
			SessionOptions: SessionOptions{
				InactivityExpirationSeconds: int64(sc.SessionOptions.InactivityExpirationDuration.Seconds()),
				AbsoluteExpirationSeconds:   int64(sc.SessionOptions.AbsoluteExpirationDuration.Seconds()),
				GoverningPeriodSeconds:      int64(sc.SessionOptions.GoverningPeriodLength.Seconds()),
			},
		}
	}
	return RealmResponse{
		ID:               realm.ID,
		FriendlyName:     realm.FriendlyName,
		SecurityContexts: contexts,
		CreatedAt:        realm.CreatedAt,
		UpdatedAt:        realm.UpdatedAt,
	}
}

// FromSession converts a session model to its API representation.
func FromSession(session *models.Session) SessionResponse {
	resp := SessionResponse{
		ID:                session.ID,
		RealmID:           session.RealmID,
		SecurityContext:   session.SecurityContext.Name,
		SubjectID:         session.SubjectID,
		CurrentEraNumber:  session.CurrentEraNumber,
		CreatedAt:         session.CreatedAt,
		LastUsedAt:        session.LastUsedAt,
		Invalidated:       session.Invalidated,
		InvalidatedReason: session.InvalidatedReason,
	}
	if !session.ExpiresAt.IsZero() {
		expiresAt := session.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}
