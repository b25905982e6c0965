package sessions

import (
	"fmt"
	"time"

	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/pkg/token"
)

// assessment is the outcome of holding a session up against the clock
// before any of its presented credentials are looked at.
type assessment struct {
	// Accepted means the session is live and its credentials may be
	// classified.
	Accepted bool

	// Relog tells the agent its session is unrecoverable and it should
	// authenticate from scratch.
	Relog bool

	Reason string
}

// assessSession checks the session-level liveness gates that apply before
// any credential is even looked at.
func assessSession(session *models.Session, now time.Time) *assessment {
	if session.Invalidated {
		return &assessment{Relog: true, Reason: "session has been invalidated"}
	}
	if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
		return &assessment{Relog: true, Reason: "session has reached its absolute expiration"}
	}
	if session.InactivityExpirationDuration > 0 &&
		now.After(session.LastUsedAt.Add(session.InactivityExpirationDuration)) {
		return &assessment{Relog: true, Reason: "session has expired from inactivity"}
	}
	return &assessment{Accepted: true}
}

// eraOutcome is the era state machine's ruling on one presented
// credential group.
type eraOutcome int

const (
	// eraPrejudice kills the session: the group is evidence of token
	// theft or forgery.
	eraPrejudice eraOutcome = iota

	// eraRetry is a transient rejection: the agent should re-fetch its
	// credentials and present again.
	eraRetry

	// eraAcceptCurrent honors the group against the current era.
	eraAcceptCurrent

	// eraAcceptPrevious honors the group against the previous era's
	// grace window.
	eraAcceptPrevious

	// eraAdvance honors the group and moves the session into the era the
	// credentials claim.
	eraAdvance
)

// eraDirective carries an eraOutcome together with everything the
// pipeline needs to act on it.
type eraDirective struct {
	Outcome eraOutcome

	// Unretired are the credentials from the latest era the group
	// represents; Retired are the rest, which the agent should discard.
	Unretired []token.Decoded
	Retired   []token.Decoded

	// AdditionalTokenIDs are unretired ids not yet recorded in the
	// matched era's accepted set; on acceptance they are adopted into it
	// so sibling devices holding them keep working.
	AdditionalTokenIDs []string

	// MintNextEra is set when the current era is in its lame duck period
	// and the agent should be offered successor credentials.
	MintNextEra bool

	Reason string
}

// classifyEra runs one session's presented credential group through the
// era state machine. The group is first split by the latest era it
// represents: credentials from earlier eras are superseded and only need
// retiring. The interesting quantity is then the offset between that
// latest era and the era the session is actually in:
//
//	offset < -1  an era already two rotations dead; the token can only
//	             have been replayed from a stolen archive
//	offset = -1  the previous era; honored inside the grace window when
//	             at least one id was minted for it, transient once the
//	             window closes
//	offset =  0  the governing era; honored when at least one id was
//	             minted for it, and the lame duck period may additionally
//	             offer successor credentials
//	offset = +1  the era this service offered during the lame duck
//	             period; presenting it is what actually advances the era
//	offset > +1  an era this service never minted; forged
//
// At offsets 0 and -1, a group whose unretired ids all miss the era's
// accepted set is prejudicial: the signatures prove the tokens came from
// our keys, so a set matching nothing the session ever issued means a
// parallel copy of the session's credential stream is in play.
func classifyEra(session *models.Session, group []token.Decoded, now time.Time, gracePeriod time.Duration) *eraDirective {
	directive := &eraDirective{}

	var latest uint32
	for _, c := range group {
		if c.Credential.EraNumber > latest {
			latest = c.Credential.EraNumber
		}
	}
	for _, c := range group {
		if c.Credential.EraNumber == latest {
			directive.Unretired = append(directive.Unretired, c)
		} else {
			directive.Retired = append(directive.Retired, c)
		}
	}

	offset := int64(latest) - int64(session.CurrentEraNumber)

	switch {
	case offset < -1:
		directive.Outcome = eraPrejudice
		directive.Reason = fmt.Sprintf("presented ancient token from era %d", latest)

	case offset == -1:
		additional := additionalTokenIDs(directive.Unretired, session.HasAcceptedPreviousEraTokenID)
		if len(additional) == len(directive.Unretired) {
			directive.Outcome = eraPrejudice
			directive.Reason = "presented token from alternate timeline"
			return directive
		}
		if now.After(session.CurrentEraStartedAt.Add(gracePeriod)) {
			directive.Outcome = eraRetry
			directive.Reason = "previous era token presented after the grace window closed"
			return directive
		}
		directive.Outcome = eraAcceptPrevious
		directive.AdditionalTokenIDs = additional

	case offset == 0:
		additional := additionalTokenIDs(directive.Unretired, session.HasAcceptedCurrentEraTokenID)
		if len(additional) == len(directive.Unretired) {
			directive.Outcome = eraPrejudice
			directive.Reason = "presented token from alternate timeline"
			return directive
		}
		directive.Outcome = eraAcceptCurrent
		directive.AdditionalTokenIDs = additional
		directive.MintNextEra = lameDuck(session, now)

	case offset == 1:
		directive.Outcome = eraAdvance

	default:
		directive.Outcome = eraPrejudice
		directive.Reason = fmt.Sprintf("presented far future token claiming era %d", latest)
	}

	return directive
}

// additionalTokenIDs returns the unretired token ids missing from the
// accepted set.
func additionalTokenIDs(unretired []token.Decoded, accepted func(string) bool) []string {
	var additional []string
	for _, c := range unretired {
		if !accepted(c.Credential.TokenID) {
			additional = append(additional, c.Credential.TokenID)
		}
	}
	return additional
}

// credentialTokenIDs collects the token ids of a credential group.
func credentialTokenIDs(group []token.Decoded) []string {
	tokenIDs := make([]string, 0, len(group))
	for _, c := range group {
		tokenIDs = append(tokenIDs, c.Credential.TokenID)
	}
	return tokenIDs
}

// lameDuck reports whether the session's current era has outlived its
// governing period, meaning successful presentations should be offered
// next-era credentials.
func lameDuck(session *models.Session, now time.Time) bool {
	if session.GoverningPeriodLength <= 0 {
		return false
	}
	return !now.Before(session.CurrentEraStartedAt.Add(session.GoverningPeriodLength))
}
