package realms

import (
	"context"
	"fmt"

	"github.com/leylinehq/session-service/internal/core/expr"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
)

// Resolution is a security context whose precondition the asserted claims
// have satisfied.
type Resolution struct {
	Ref        models.SecurityContextRef
	Definition models.SecurityContext
	Memo       models.PreconditionMemo
}

// Resolve looks up the named security context in a realm and tests its
// precondition against the asserted claims. Claims that fail the
// precondition are rejected as invalid credentials, not as a missing
// context.
func (s *Service) Resolve(ctx context.Context, realm *models.Realm, contextName string, claims map[string]interface{}) (*Resolution, error) {
	definition, ok := realm.SecurityContexts[contextName]
	if !ok {
		return nil, domainerrors.NewNoSuchSecurityContextError(realm.ID, contextName)
	}

	now := s.now().UTC()
	passed, err := s.testPrecondition(ctx, realm.ID, contextName, definition.Precondition, claims)
	if err != nil {
		return nil, err
	}
	if !passed {
		return nil, domainerrors.NewInvalidCredentialsError(
			fmt.Sprintf("claims do not satisfy the precondition of security context %q", contextName),
			domainerrors.CredentialFlags{Relog: true})
	}

	return &Resolution{
		Ref:        models.SecurityContextRef{Name: contextName, Version: definition.Version},
		Definition: definition,
		Memo:       models.PreconditionMemo{Hash: definition.PreconditionHash, EvaluatedAt: now},
	}, nil
}

// Reconfirm re-tests a session's claims against the current precondition
// of its security context. When the session's memo already matches the
// precondition in force nothing is evaluated and the memo is returned
// unchanged; otherwise a fresh memo is returned with refreshed set, and
// the caller is expected to persist it.
func (s *Service) Reconfirm(ctx context.Context, session *models.Session, definition models.SecurityContext, claims map[string]interface{}) (memo *models.PreconditionMemo, refreshed bool, err error) {
	if session.PreconditionMemo != nil && session.PreconditionMemo.Hash == definition.PreconditionHash {
		return session.PreconditionMemo, false, nil
	}

	passed, err := s.testPrecondition(ctx, session.RealmID, session.SecurityContext.Name, definition.Precondition, claims)
	if err != nil {
		return nil, false, err
	}
	if !passed {
		return nil, false, domainerrors.NewInvalidCredentialsError(
			fmt.Sprintf("claims no longer satisfy the precondition of security context %q", session.SecurityContext.Name),
			domainerrors.CredentialFlags{Relog: true})
	}

	return &models.PreconditionMemo{
		Hash:        definition.PreconditionHash,
		EvaluatedAt: s.now().UTC(),
	}, true, nil
}

// testPrecondition evaluates a precondition. A broken expression is the
// realm operator's bug, not the subject's; it is logged and treated as an
// ordinary precondition failure rather than surfaced as a server error.
func (s *Service) testPrecondition(ctx context.Context, realmID, contextName, precondition string, claims map[string]interface{}) (bool, error) {
	passed, err := s.evaluator.Evaluate(ctx, precondition, expr.Input{
		Claims: claims,
		Now:    s.now().UTC(),
	})
	if err != nil {
		if expr.IsEvaluationError(err) {
			s.logger.Warn().
				Err(err).
				Str("realmId", realmID).
				Str("securityContext", contextName).
				Msg("Security context precondition failed to evaluate")
			return false, nil
		}
		return false, domainerrors.NewUnexpectedError("failed to evaluate precondition", err)
	}
	return passed, nil
}
