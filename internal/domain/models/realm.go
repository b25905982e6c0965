// Package models contains domain models for the Leyline Session Service.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Realm is the tenant boundary. A realm owns its security contexts and is
// the unit of isolation for all session queries.
type Realm struct {
	ID               string                     `bson:"_id" json:"id"`
	FriendlyName     string                     `bson:"friendlyName" json:"friendlyName"`
	SecurityContexts map[string]SecurityContext `bson:"securityContexts" json:"securityContexts"`
	CreatedAt        time.Time                  `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time                  `bson:"updatedAt" json:"updatedAt"`
}

// SecurityContext is a named, versioned authorization policy a session is
// created under. The version increments whenever the definition is edited so
// that existing sessions can detect the change and re-validate against the
// version in effect when they were minted.
type SecurityContext struct {
	Version          int            `bson:"version" json:"version"`
	Precondition     string         `bson:"precondition" json:"precondition"`
	PreconditionHash string         `bson:"preconditionHash" json:"preconditionHash"`
	SessionOptions   SessionOptions `bson:"sessionOptions" json:"sessionOptions"`
}

// SessionOptions holds the duration policy of a security context.
type SessionOptions struct {
	InactivityExpirationDuration time.Duration `bson:"inactivityExpirationDuration" json:"inactivityExpirationDuration"`
	AbsoluteExpirationDuration   time.Duration `bson:"absoluteExpirationDuration,omitempty" json:"absoluteExpirationDuration,omitempty"`
	GoverningPeriodLength        time.Duration `bson:"governingPeriodLength,omitempty" json:"governingPeriodLength,omitempty"`
}

// SecurityContextRef identifies the exact versioned definition a session was
// minted under.
type SecurityContextRef struct {
	Name    string `bson:"name" json:"name"`
	Version int    `bson:"version" json:"version"`
}

// String renders the reference in its canonical "name:version" form.
func (r SecurityContextRef) String() string {
	return fmt.Sprintf("%s:%d", r.Name, r.Version)
}

// ParseSecurityContextRef parses a "name:version" reference.
func ParseSecurityContextRef(s string) (SecurityContextRef, error) {
	name, versionStr, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return SecurityContextRef{}, fmt.Errorf("malformed security context reference: %q", s)
	}

	version, err := strconv.Atoi(versionStr)
	if err != nil || version < 1 {
		return SecurityContextRef{}, fmt.Errorf("malformed security context version in %q", s)
	}

	return SecurityContextRef{Name: name, Version: version}, nil
}
