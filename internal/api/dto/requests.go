// Package dto provides Data Transfer Objects for API requests and responses.
package dto

// SessionOptions carries per-context session durations, in seconds.
type SessionOptions struct {
	InactivityExpirationSeconds int64 `json:"inactivityExpirationSeconds" binding:"min=0"`
	AbsoluteExpirationSeconds   int64 `json:"absoluteExpirationSeconds" binding:"min=0"`
	GoverningPeriodSeconds      int64 `json:"governingPeriodSeconds" binding:"min=0"`
}

// SecurityContextDefinition represents one security context in a create or
// update request. An empty precondition means "true".
type SecurityContextDefinition struct {
	Precondition   string         `json:"precondition" binding:"max=1000"`
	SessionOptions SessionOptions `json:"sessionOptions"`
}

// CreateRealmRequest represents the request body for creating a realm.
type CreateRealmRequest struct {
	FriendlyName     string                               `json:"friendlyName" binding:"required,min=1,max=100"`
	SecurityContexts map[string]SecurityContextDefinition `json:"securityContexts"`
}

// UpsertSecurityContextRequest represents the request body for creating or
// editing one security context of a realm.
type UpsertSecurityContextRequest struct {
	Precondition   string         `json:"precondition" binding:"max=1000"`
	SessionOptions SessionOptions `json:"sessionOptions"`
}

// CreateSessionRequest represents the request body for minting a session.
type CreateSessionRequest struct {
	SecurityContext  string                 `json:"securityContext" binding:"required,min=1,max=50"`
	Claims           map[string]interface{} `json:"claims"`
	AgentFingerprint string                 `json:"agentFingerprint" binding:"max=200"`
}

// AccessAttemptRequest represents the request body for adjudicating a
// bundle of presented tokens.
type AccessAttemptRequest struct {
	SecurityContext  string   `json:"securityContext" binding:"required,min=1,max=50"`
	Tokens           []string `json:"tokens" binding:"required,min=1,max=32"`
	AgentFingerprint string   `json:"agentFingerprint" binding:"max=200"`
}

// InvalidateSessionRequest represents the request body for invalidating a
// session.
type InvalidateSessionRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

// SigningKeyUpdate represents one signing key in a configuration update.
type SigningKeyUpdate struct {
	Secret  string `json:"secret" binding:"required"`
	Default bool   `json:"default"`
}

// UpdateConfigRequest represents the request body for replacing the
// service configuration document. ExpectedVersion must match the version
// being replaced; zero means the document is being created.
type UpdateConfigRequest struct {
	SigningKeys            map[string]SigningKeyUpdate `json:"signingKeys"`
	SessionEraGracePeriod  string                      `json:"sessionEraGracePeriod"`
	SessionGoverningPeriod string                      `json:"sessionGoverningPeriodLength"`
	ExpectedVersion        int64                       `json:"expectedVersion" binding:"min=0"`
}
