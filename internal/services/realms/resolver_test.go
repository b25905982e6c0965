package realms_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leylinehq/session-service/internal/core/expr"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/services/realms"
)

func TestResolve_PassingClaims(t *testing.T) {
	stored := storedRealm()
	evaluator := &fakeEvaluator{result: true}
	service := newService(t, newFakeCollection(stored), evaluator)

	claims := map[string]interface{}{"sub": "user-1"}
	resolution, err := service.Resolve(context.Background(), stored, "authenticated", claims)
	require.NoError(t, err)

	assert.Equal(t, "authenticated", resolution.Ref.Name)
	assert.Equal(t, 3, resolution.Ref.Version)
	assert.Equal(t, stored.SecurityContexts["authenticated"].PreconditionHash, resolution.Memo.Hash)
	assert.Equal(t, realmsNow, resolution.Memo.EvaluatedAt)
	assert.Equal(t, `"sub" in claims`, evaluator.last)
}

func TestResolve_UnknownContext(t *testing.T) {
	stored := storedRealm()
	service := newService(t, newFakeCollection(stored), &fakeEvaluator{result: true})

	_, err := service.Resolve(context.Background(), stored, "nonexistent", nil)
	assert.True(t, domainerrors.IsNoSuchSecurityContext(err))
}

func TestResolve_FailingClaimsRequireRelog(t *testing.T) {
	stored := storedRealm()
	service := newService(t, newFakeCollection(stored), &fakeEvaluator{result: false})

	_, err := service.Resolve(context.Background(), stored, "authenticated", nil)
	require.True(t, domainerrors.IsInvalidCredentials(err))

	domainErr, ok := domainerrors.GetDomainError(err)
	require.True(t, ok)
	assert.True(t, domainErr.Flags.Relog)
	assert.False(t, domainErr.Flags.Prejudice, "a precondition failure is not theft")
}

func TestResolve_BrokenExpressionIsOrdinaryFailure(t *testing.T) {
	stored := storedRealm()
	evaluator := &fakeEvaluator{err: &expr.CompileError{Expression: "claims[", Detail: "unexpected EOF"}}
	service := newService(t, newFakeCollection(stored), evaluator)

	// The realm operator broke the expression; the subject sees a plain
	// credential rejection, not a server error.
	_, err := service.Resolve(context.Background(), stored, "authenticated", nil)
	assert.True(t, domainerrors.IsInvalidCredentials(err))
}

func TestResolve_EvaluatorMalfunctionIsUnexpected(t *testing.T) {
	stored := storedRealm()
	evaluator := &fakeEvaluator{err: errors.New("evaluator exploded")}
	service := newService(t, newFakeCollection(stored), evaluator)

	_, err := service.Resolve(context.Background(), stored, "authenticated", nil)
	require.Error(t, err)
	domainErr, ok := domainerrors.GetDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domainerrors.ErrCodeUnexpected, domainErr.Code)
}

func reconfirmSession(stored *models.Realm, memoHash string) *models.Session {
	return &models.Session{
		ID:              "sid_mzxw6ytboi2tqojqmzxw6ytboi2tqojq",
		RealmID:         stored.ID,
		SecurityContext: models.SecurityContextRef{Name: "authenticated", Version: 3},
		PreconditionMemo: &models.PreconditionMemo{
			Hash:        memoHash,
			EvaluatedAt: realmsNow.Add(-time.Hour),
		},
	}
}

func TestReconfirm_MemoMatchSkipsEvaluation(t *testing.T) {
	stored := storedRealm()
	evaluator := &fakeEvaluator{result: true}
	service := newService(t, newFakeCollection(stored), evaluator)

	definition := stored.SecurityContexts["authenticated"]
	session := reconfirmSession(stored, definition.PreconditionHash)

	memo, refreshed, err := service.Reconfirm(context.Background(), session, definition, nil)
	require.NoError(t, err)

	assert.False(t, refreshed)
	assert.Same(t, session.PreconditionMemo, memo)
	assert.Zero(t, evaluator.calls)
}

func TestReconfirm_ChangedPreconditionReevaluates(t *testing.T) {
	stored := storedRealm()
	evaluator := &fakeEvaluator{result: true}
	service := newService(t, newFakeCollection(stored), evaluator)

	definition := stored.SecurityContexts["authenticated"]
	session := reconfirmSession(stored, realms.PreconditionHash("some older precondition"))

	memo, refreshed, err := service.Reconfirm(context.Background(), session, definition,
		map[string]interface{}{"sub": "user-1"})
	require.NoError(t, err)

	assert.True(t, refreshed)
	assert.Equal(t, definition.PreconditionHash, memo.Hash)
	assert.Equal(t, realmsNow, memo.EvaluatedAt)
	assert.Equal(t, 1, evaluator.calls)
}

func TestReconfirm_ChangedPreconditionRejectsFrozenClaims(t *testing.T) {
	stored := storedRealm()
	service := newService(t, newFakeCollection(stored), &fakeEvaluator{result: false})

	definition := stored.SecurityContexts["authenticated"]
	session := reconfirmSession(stored, realms.PreconditionHash("some older precondition"))

	_, _, err := service.Reconfirm(context.Background(), session, definition, nil)
	require.True(t, domainerrors.IsInvalidCredentials(err))

	domainErr, ok := domainerrors.GetDomainError(err)
	require.True(t, ok)
	assert.True(t, domainErr.Flags.Relog)
}

func TestReconfirm_MissingMemoForcesEvaluation(t *testing.T) {
	stored := storedRealm()
	evaluator := &fakeEvaluator{result: true}
	service := newService(t, newFakeCollection(stored), evaluator)

	definition := stored.SecurityContexts["authenticated"]
	session := reconfirmSession(stored, "")
	session.PreconditionMemo = nil

	_, refreshed, err := service.Reconfirm(context.Background(), session, definition,
		map[string]interface{}{"sub": "user-1"})
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, 1, evaluator.calls)
}
