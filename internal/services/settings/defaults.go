package settings

import (
	"time"

	"github.com/leylinehq/session-service/internal/domain/models"
)

// Defaults applied when the explicit configuration leaves a value unset.
const (
	// DefaultSessionEraGracePeriod is how long the previous era's
	// credentials remain acceptable after an era advances.
	DefaultSessionEraGracePeriod = 30 * time.Second

	// DefaultSessionGoverningPeriodLength is how long into an era the
	// server waits before proactively offering next-era credentials.
	DefaultSessionGoverningPeriodLength = 5 * time.Minute
)

// ContextSeed is the definition a default security context is created from
// when a new realm does not supply its own.
type ContextSeed struct {
	Precondition   string                `bson:"precondition" json:"precondition"`
	SessionOptions models.SessionOptions `bson:"sessionOptions" json:"sessionOptions"`
}

// DefaultRealmSecurityContexts returns the security contexts every new
// realm starts with. Preconditions are CEL over `claims` and `now`;
// `authenticated` and `secure` require a subject claim issued within the
// last five minutes.
func DefaultRealmSecurityContexts() map[string]ContextSeed {
	const freshClaims = `"sub" in claims && int(claims["iat"]) >= int(now) - 300`

	return map[string]ContextSeed{
		"anonymous": {
			Precondition: "true",
			SessionOptions: models.SessionOptions{
				InactivityExpirationDuration: 24 * time.Hour,
			},
		},
		"authenticated": {
			Precondition: freshClaims,
			SessionOptions: models.SessionOptions{
				InactivityExpirationDuration: 90 * 24 * time.Hour,
			},
		},
		"secure": {
			Precondition: freshClaims,
			SessionOptions: models.SessionOptions{
				InactivityExpirationDuration: 30 * time.Minute,
				AbsoluteExpirationDuration:   6 * time.Hour,
			},
		},
	}
}
