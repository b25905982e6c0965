// Package sessions implements the session lifecycle and the adjudication
// of access attempts against the era-based credential rotation scheme.
package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/pkg/ids"
	"github.com/leylinehq/session-service/internal/pkg/token"
	"github.com/leylinehq/session-service/internal/services/abuse"
	"github.com/leylinehq/session-service/internal/services/realms"
	"github.com/leylinehq/session-service/internal/services/settings"
)

const (
	maxTokensPerAttempt      = 32
	maxAgentFingerprintBytes = 200
	maxClaimsBytes           = 2000
	initialEraNumber         = 0
)

// SettingsProvider supplies the current effective service configuration.
type SettingsProvider interface {
	Snapshot() *settings.Snapshot
}

// Config holds the dependencies of the sessions service.
type Config struct {
	Store    Store
	Realms   *realms.Service
	Settings SettingsProvider
	Abuse    abuse.Recorder
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Service owns sessions end to end: minting, adjudicating access
// attempts, rotating eras, and invalidation.
type Service struct {
	store    Store
	realms   *realms.Service
	settings SettingsProvider
	abuse    abuse.Recorder
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a new sessions service.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Realms == nil {
		return nil, fmt.Errorf("realms service is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings provider is required")
	}
	if cfg.Abuse == nil {
		return nil, fmt.Errorf("abuse recorder is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:    cfg.Store,
		realms:   cfg.Realms,
		settings: cfg.Settings,
		abuse:    cfg.Abuse,
		now:      now,
		logger:   cfg.Logger,
	}, nil
}

// CreateParams are the inputs for minting a session.
type CreateParams struct {
	SecurityContext  string
	Claims           map[string]interface{}
	AgentFingerprint string
}

// CreatedSession is a freshly minted session together with its first
// credential. The token is returned exactly once; only its id is stored.
type CreatedSession struct {
	Session *models.Session
	Token   string
}

// Create mints a session in the named security context. The asserted
// claims must satisfy the context's precondition; they are frozen into
// the session and re-tested whenever the precondition later changes.
func (s *Service) Create(ctx context.Context, realmID string, params *CreateParams) (*CreatedSession, error) {
	if len(params.AgentFingerprint) > maxAgentFingerprintBytes {
		return nil, domainerrors.NewValidationError("agent fingerprint too long", "")
	}

	realm, err := s.realms.FetchByID(ctx, realmID)
	if err != nil {
		return nil, err
	}

	resolution, err := s.realms.Resolve(ctx, realm, params.SecurityContext, params.Claims)
	if err != nil {
		return nil, err
	}

	claimsJSON, err := json.Marshal(params.Claims)
	if err != nil {
		return nil, domainerrors.NewValidationError("claims are not serializable", "")
	}
	if len(claimsJSON) > maxClaimsBytes {
		return nil, domainerrors.NewValidationError("claims too large",
			fmt.Sprintf("%d bytes serialized", len(claimsJSON)))
	}

	snapshot := s.settings.Snapshot()
	now := s.now().UTC()
	options := resolution.Definition.SessionOptions

	governingPeriod := options.GoverningPeriodLength
	if governingPeriod <= 0 {
		governingPeriod = snapshot.GoverningPeriodLength
	}

	tokenID := ids.New(ids.TokenPrefix)
	memo := resolution.Memo
	session := &models.Session{
		ID:                           ids.New(ids.SessionPrefix),
		RealmID:                      realm.ID,
		SecurityContext:              resolution.Ref,
		SubjectID:                    subjectID(params.Claims),
		AgentFingerprint:             params.AgentFingerprint,
		CurrentEraNumber:             initialEraNumber,
		CurrentEraStartedAt:          now,
		AcceptedCurrentEraTokenIDs:   []string{tokenID},
		GoverningPeriodLength:        governingPeriod,
		InactivityExpirationDuration: options.InactivityExpirationDuration,
		CreatedAt:                    now,
		LastUsedAt:                   now,
		Claims:                       string(claimsJSON),
		PreconditionMemo:             &memo,
	}
	if options.AbsoluteExpirationDuration > 0 {
		session.ExpiresAt = now.Add(options.AbsoluteExpirationDuration)
	}

	if err := s.store.Insert(ctx, session); err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to create session", err)
	}

	encoded, err := token.Encode(session.ID, models.EraCredential{
		EraNumber:       initialEraNumber,
		SecurityContext: resolution.Ref,
		TokenID:         tokenID,
	}, snapshot.Keyring)
	if err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to encode session token", err)
	}

	s.logger.Info().
		Str("realmId", realm.ID).
		Str("sessionId", session.ID).
		Str("securityContext", resolution.Ref.Name).
		Msg("Session created")

	return &CreatedSession{Session: session, Token: encoded}, nil
}

// FetchByID loads one session within a realm.
func (s *Service) FetchByID(ctx context.Context, realmID, sessionID string) (*models.Session, error) {
	if !ids.Valid(sessionID, ids.SessionPrefix) {
		return nil, domainerrors.NewValidationError("malformed session id", sessionID)
	}
	if _, err := s.realms.FetchByID(ctx, realmID); err != nil {
		return nil, err
	}

	found, err := s.store.FindByIDs(ctx, realmID, []string{sessionID})
	if err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to fetch session", err)
	}
	if len(found) == 0 {
		return nil, domainerrors.NewNoSuchSessionError(sessionID)
	}
	return &found[0], nil
}

// Flagged reports whether anti-abuse tooling has recently marked the
// session as suspicious. Read straight from the recorder; never an
// error, a cold cache just reads as not flagged.
func (s *Service) Flagged(ctx context.Context, sessionID string) bool {
	return s.abuse.IsFlagged(ctx, sessionID)
}

// Invalidate administratively kills a session. The operation is
// idempotent; an already dead session keeps its original reason.
func (s *Service) Invalidate(ctx context.Context, realmID, sessionID, reason string) error {
	if _, err := s.FetchByID(ctx, realmID, sessionID); err != nil {
		return err
	}
	if reason == "" {
		reason = "administratively invalidated"
	}
	if err := s.store.Invalidate(ctx, realmID, sessionID, reason); err != nil {
		return domainerrors.NewUnexpectedError("failed to invalidate session", err)
	}

	s.logger.Info().
		Str("realmId", realmID).
		Str("sessionId", sessionID).
		Str("reason", reason).
		Msg("Session invalidated")
	return nil
}

// SessionPage is one page of sessions.
type SessionPage struct {
	Sessions []models.Session
	After    string
}

// List returns a realm's sessions by creation time.
func (s *Service) List(ctx context.Context, realmID, after string, limit int64) (*SessionPage, error) {
	if _, err := s.realms.FetchByID(ctx, realmID); err != nil {
		return nil, err
	}

	page, err := s.store.Page(ctx, realmID, after, limit)
	if err != nil {
		return nil, err
	}
	sessions, err := decodeSessions(page)
	if err != nil {
		return nil, err
	}
	return &SessionPage{Sessions: sessions, After: page.After}, nil
}

// AccessAttemptParams describe one bundle of presented credentials.
type AccessAttemptParams struct {
	SecurityContext  string
	Tokens           []string
	AgentFingerprint string
}

// SessionAccess is one session that an access attempt proved live
// membership in.
type SessionAccess struct {
	SessionID       string
	SubjectID       string
	SecurityContext models.SecurityContextRef
}

// AccessAttemptResult is the adjudication of an attempt. Token-shaped
// instructions are keyed by the presented encoding: retire means discard
// and never present again, add means adopt alongside what is kept.
// Absence of a presented token from every list means the agent should
// retry it unchanged.
type AccessAttemptResult struct {
	Sessions             []SessionAccess
	AddTokens            []string
	RetireTokens         []string
	SuspiciousTokens     []string
	SuspiciousSessionIDs []string
}

// RecordAccessAttempt adjudicates a bundle of presented tokens against a
// realm's security context. Decoding, session liveness, agent
// fingerprint, precondition, and the era state machine are applied in
// that order; the first prejudicial finding for a session kills it. All
// persistence the adjudication triggers is best effort: a failed write
// never withholds the verdict from the agent.
func (s *Service) RecordAccessAttempt(ctx context.Context, realmID string, params *AccessAttemptParams) (*AccessAttemptResult, error) {
	if len(params.Tokens) == 0 {
		return nil, domainerrors.NewValidationError("no tokens presented", "")
	}
	if len(params.Tokens) > maxTokensPerAttempt {
		return nil, domainerrors.NewValidationError("too many tokens presented", fmt.Sprintf("%d tokens", len(params.Tokens)))
	}
	if len(params.AgentFingerprint) > maxAgentFingerprintBytes {
		return nil, domainerrors.NewValidationError("agent fingerprint too long", "")
	}

	realm, err := s.realms.FetchByID(ctx, realmID)
	if err != nil {
		return nil, err
	}
	if _, ok := realm.SecurityContexts[params.SecurityContext]; !ok {
		return nil, domainerrors.NewNoSuchSecurityContextError(realm.ID, params.SecurityContext)
	}

	snapshot := s.settings.Snapshot()
	now := s.now().UTC()
	result := &AccessAttemptResult{}

	decoded := token.DecodeValid(params.Tokens, params.SecurityContext, snapshot.Keyring)

	// Tokens that did not survive decoding and filtering are useless to
	// the agent regardless of why.
	usable := map[string]bool{}
	for _, group := range decoded {
		for _, d := range group {
			usable[d.Original] = true
		}
	}
	for _, presented := range params.Tokens {
		if !usable[presented] {
			result.RetireTokens = append(result.RetireTokens, presented)
		}
	}

	sessionIDs := make([]string, 0, len(decoded))
	for sessionID := range decoded {
		sessionIDs = append(sessionIDs, sessionID)
	}
	loaded, err := s.store.FindByIDs(ctx, realmID, sessionIDs)
	if err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to load sessions for access attempt", err)
	}

	found := map[string]bool{}
	for i := range loaded {
		session := &loaded[i]
		found[session.ID] = true
		s.adjudicate(ctx, realm, session, decoded[session.ID], params.AgentFingerprint, snapshot, now, result)
	}

	// A well-signed token naming a session this realm does not have is
	// dead weight, not evidence of theft.
	for sessionID, group := range decoded {
		if found[sessionID] {
			continue
		}
		for _, d := range group {
			result.RetireTokens = append(result.RetireTokens, d.Original)
		}
	}

	return result, nil
}

// adjudicate runs one session's presented credentials through the
// pipeline stages and folds the outcome into the attempt result.
func (s *Service) adjudicate(ctx context.Context, realm *models.Realm, session *models.Session, group []token.Decoded, fingerprint string, snapshot *settings.Snapshot, now time.Time, result *AccessAttemptResult) {
	liveness := assessSession(session, now)
	if !liveness.Accepted {
		s.retireGroup(result, group)
		return
	}

	if session.AgentFingerprint != "" && fingerprint != session.AgentFingerprint {
		s.condemn(ctx, session, group, "agent fingerprint changed", result)
		return
	}

	if !s.reconfirmPrecondition(ctx, realm, session, group, result) {
		return
	}

	directive := classifyEra(session, group, now, snapshot.EraGracePeriod)

	switch directive.Outcome {
	case eraPrejudice:
		s.condemn(ctx, session, group, directive.Reason, result)
		return

	case eraRetry:
		// Transient: the agent should fetch fresh credentials and try
		// again.
		s.logger.Debug().Str("sessionId", session.ID).Str("reason", directive.Reason).Msg("Access attempt rejected for retry")
		s.retireGroup(result, group)
		return

	case eraAcceptPrevious:
		if err := s.store.AddAcceptedPreviousEraTokenIDs(ctx, session, directive.AdditionalTokenIDs); err != nil {
			s.logger.Warn().Err(err).Str("sessionId", session.ID).Msg("Failed to record previous era token ids")
		}

	case eraAcceptCurrent:
		if err := s.store.AddAcceptedCurrentEraTokenIDs(ctx, session, directive.AdditionalTokenIDs); err != nil {
			s.logger.Warn().Err(err).Str("sessionId", session.ID).Msg("Failed to record current era token ids")
		}
		if directive.MintNextEra {
			s.mintNextEra(session, snapshot, result)
		}

	case eraAdvance:
		if !s.advance(ctx, session, group, directive, now, result) {
			return
		}
	}

	result.Sessions = append(result.Sessions, SessionAccess{
		SessionID:       session.ID,
		SubjectID:       session.SubjectID,
		SecurityContext: session.SecurityContext,
	})

	// Credentials superseded within the presented group itself.
	for _, d := range directive.Retired {
		result.RetireTokens = append(result.RetireTokens, d.Original)
	}

	if err := s.store.BumpLastUsed(ctx, session.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("sessionId", session.ID).Msg("Failed to bump session activity")
	}
}

// mintNextEra offers the agent successor credentials while the current
// era is in its lame duck period. The era itself does not advance until
// the agent presents what was minted here.
func (s *Service) mintNextEra(session *models.Session, snapshot *settings.Snapshot, result *AccessAttemptResult) {
	encoded, err := token.Encode(session.ID, models.EraCredential{
		EraNumber:       session.CurrentEraNumber + 1,
		SecurityContext: session.SecurityContext,
		TokenID:         ids.New(ids.TokenPrefix),
	}, snapshot.Keyring)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to encode next era token")
		return
	}

	result.AddTokens = append(result.AddTokens, encoded)

	s.logger.Debug().
		Str("sessionId", session.ID).
		Uint32("eraNumber", session.CurrentEraNumber+1).
		Msg("Offered next era credentials")
}

// advance moves the session into the era the presented credentials
// claim: the presented ids become the current era's accepted set and the
// old current set slides into the grace window. Exactly one concurrent
// presentation may win the guard; a loser is told to fetch fresh
// credentials and retry. Reports whether the session was accepted.
func (s *Service) advance(ctx context.Context, session *models.Session, group []token.Decoded, directive *eraDirective, now time.Time, result *AccessAttemptResult) bool {
	presented := credentialTokenIDs(directive.Unretired)

	advanced, err := s.store.AdvanceEra(ctx, session, presented, now)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to advance session era")
		return false
	}
	if !advanced {
		s.logger.Debug().Str("sessionId", session.ID).Msg("Session era advanced concurrently")
		s.retireGroup(result, group)
		return false
	}

	session.AcceptedPreviousEraTokenIDs = session.AcceptedCurrentEraTokenIDs
	session.AcceptedCurrentEraTokenIDs = presented
	session.CurrentEraNumber++
	session.CurrentEraStartedAt = now
	session.LastUsedAt = now

	s.logger.Debug().
		Str("sessionId", session.ID).
		Uint32("eraNumber", session.CurrentEraNumber).
		Msg("Session era advanced")
	return true
}

// condemn kills a session with prejudice and marks everything it touched
// as suspicious.
func (s *Service) condemn(ctx context.Context, session *models.Session, group []token.Decoded, reason string, result *AccessAttemptResult) {
	if err := s.store.Invalidate(ctx, session.RealmID, session.ID, reason); err != nil {
		s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to invalidate session with prejudice")
	}
	s.abuse.RecordSuspiciousSession(ctx, session.RealmID, session.ID, reason)

	result.SuspiciousSessionIDs = append(result.SuspiciousSessionIDs, session.ID)
	for _, d := range group {
		result.SuspiciousTokens = append(result.SuspiciousTokens, d.Original)
		result.RetireTokens = append(result.RetireTokens, d.Original)
		s.abuse.RecordSuspiciousToken(ctx, session.RealmID, d.Original)
	}

	s.logger.Warn().
		Str("realmId", session.RealmID).
		Str("sessionId", session.ID).
		Str("reason", reason).
		Msg("Session invalidated with prejudice")
}

// reconfirmPrecondition re-tests the session's frozen claims when the
// security context's precondition has changed since the memo was taken.
// It reports whether the session may proceed.
func (s *Service) reconfirmPrecondition(ctx context.Context, realm *models.Realm, session *models.Session, group []token.Decoded, result *AccessAttemptResult) bool {
	definition, ok := realm.SecurityContexts[session.SecurityContext.Name]
	if !ok {
		// The session's context was removed from the realm entirely.
		s.invalidateOrdinary(ctx, session, "security context no longer exists", group, result)
		return false
	}

	var claims map[string]interface{}
	if session.Claims != "" {
		if err := json.Unmarshal([]byte(session.Claims), &claims); err != nil {
			s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to decode stored session claims")
			s.invalidateOrdinary(ctx, session, "stored claims are unreadable", group, result)
			return false
		}
	}

	memo, refreshed, err := s.realms.Reconfirm(ctx, session, definition, claims)
	if err != nil {
		if domainerrors.IsInvalidCredentials(err) {
			s.invalidateOrdinary(ctx, session, "claims no longer satisfy the security context precondition", group, result)
			return false
		}
		s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to reconfirm session precondition")
		return false
	}

	if refreshed {
		session.PreconditionMemo = memo
		if err := s.store.RefreshPreconditionMemo(ctx, session.ID, memo); err != nil {
			s.logger.Warn().Err(err).Str("sessionId", session.ID).Msg("Failed to persist precondition memo")
		}
	}
	return true
}

// invalidateOrdinary kills a session without prejudice; nothing is
// flagged as suspicious, the agent just has to log in again.
func (s *Service) invalidateOrdinary(ctx context.Context, session *models.Session, reason string, group []token.Decoded, result *AccessAttemptResult) {
	if err := s.store.Invalidate(ctx, session.RealmID, session.ID, reason); err != nil {
		s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("Failed to invalidate session")
	}
	s.retireGroup(result, group)

	s.logger.Info().
		Str("realmId", session.RealmID).
		Str("sessionId", session.ID).
		Str("reason", reason).
		Msg("Session invalidated")
}

func (s *Service) retireGroup(result *AccessAttemptResult, group []token.Decoded) {
	for _, d := range group {
		result.RetireTokens = append(result.RetireTokens, d.Original)
	}
}

func subjectID(claims map[string]interface{}) string {
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
