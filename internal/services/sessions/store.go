package sessions

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/leylinehq/session-service/internal/core/docdb"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/pkg/paging"
)

// Store persists sessions. All reads and writes are realm-scoped; a
// session id from the wrong realm behaves as if it does not exist.
type Store interface {
	// Insert persists a newly minted session.
	Insert(ctx context.Context, session *models.Session) error

	// FindByIDs loads the sessions with the given ids within a realm.
	// Unknown ids are silently absent from the result.
	FindByIDs(ctx context.Context, realmID string, sessionIDs []string) ([]models.Session, error)

	// AdvanceEra rotates a session into its next era: the presented
	// next-era token ids become the current accepted set and the old
	// current set slides into the previous-era set. The write is
	// compare-and-swapped on the era number the caller read; a lost race
	// returns advanced=false with no change.
	AdvanceEra(ctx context.Context, session *models.Session, nextAcceptedTokenIDs []string, startedAt time.Time) (advanced bool, err error)

	// AddAcceptedCurrentEraTokenIDs appends token ids to the current
	// era's accepted set, guarded on the era number the caller read.
	AddAcceptedCurrentEraTokenIDs(ctx context.Context, session *models.Session, tokenIDs []string) error

	// AddAcceptedPreviousEraTokenIDs appends token ids to the previous
	// era's accepted set, guarded on the era number the caller read.
	AddAcceptedPreviousEraTokenIDs(ctx context.Context, session *models.Session, tokenIDs []string) error

	// BumpLastUsed advances a session's activity timestamp. Writes never
	// move the timestamp backwards.
	BumpLastUsed(ctx context.Context, sessionID string, lastUsedAt time.Time) error

	// Invalidate marks a session dead. Invalidating an already
	// invalidated session keeps the original reason.
	Invalidate(ctx context.Context, realmID, sessionID, reason string) error

	// RefreshPreconditionMemo records a successful precondition
	// re-evaluation.
	RefreshPreconditionMemo(ctx context.Context, sessionID string, memo *models.PreconditionMemo) error

	// Page returns one page of a realm's sessions by creation time.
	Page(ctx context.Context, realmID, after string, limit int64) (*paging.Page, error)
}

type store struct {
	collection     docdb.Collection
	byCreationTime *paging.Order
}

// NewStore creates a document-database backed session store.
func NewStore(collection docdb.Collection) Store {
	return &store{
		collection:     collection,
		byCreationTime: paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: true}),
	}
}

func (s *store) Insert(ctx context.Context, session *models.Session) error {
	if _, err := s.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *store) FindByIDs(ctx context.Context, realmID string, sessionIDs []string) ([]models.Session, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	cursor, err := s.collection.Find(ctx, bson.M{
		"_id":     bson.M{"$in": sessionIDs},
		"realmId": realmID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []models.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

func (s *store) AdvanceEra(ctx context.Context, session *models.Session, nextAcceptedTokenIDs []string, startedAt time.Time) (bool, error) {
	result, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":              session.ID,
		"currentEraNumber": session.CurrentEraNumber,
	}, bson.M{
		"$set": bson.M{
			"currentEraNumber":            session.CurrentEraNumber + 1,
			"currentEraStartedAt":         startedAt,
			"acceptedCurrentEraTokenIds":  nextAcceptedTokenIDs,
			"acceptedPreviousEraTokenIds": session.AcceptedCurrentEraTokenIDs,
			"lastUsedAt":                  startedAt,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to advance session era: %w", err)
	}
	return result.MatchedCount > 0, nil
}

func (s *store) AddAcceptedCurrentEraTokenIDs(ctx context.Context, session *models.Session, tokenIDs []string) error {
	return s.addAcceptedTokenIDs(ctx, session, "acceptedCurrentEraTokenIds", tokenIDs)
}

func (s *store) AddAcceptedPreviousEraTokenIDs(ctx context.Context, session *models.Session, tokenIDs []string) error {
	return s.addAcceptedTokenIDs(ctx, session, "acceptedPreviousEraTokenIds", tokenIDs)
}

func (s *store) addAcceptedTokenIDs(ctx context.Context, session *models.Session, field string, tokenIDs []string) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	_, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":              session.ID,
		"currentEraNumber": session.CurrentEraNumber,
	}, bson.M{
		"$addToSet": bson.M{
			field: bson.M{"$each": tokenIDs},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to record accepted token ids: %w", err)
	}
	return nil
}

func (s *store) BumpLastUsed(ctx context.Context, sessionID string, lastUsedAt time.Time) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":        sessionID,
		"lastUsedAt": bson.M{"$lt": lastUsedAt},
	}, bson.M{
		"$set": bson.M{"lastUsedAt": lastUsedAt},
	})
	if err != nil {
		return fmt.Errorf("failed to bump session activity: %w", err)
	}
	return nil
}

func (s *store) Invalidate(ctx context.Context, realmID, sessionID, reason string) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":         sessionID,
		"realmId":     realmID,
		"invalidated": bson.M{"$ne": true},
	}, bson.M{
		"$set": bson.M{
			"invalidated":       true,
			"invalidatedReason": reason,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

func (s *store) RefreshPreconditionMemo(ctx context.Context, sessionID string, memo *models.PreconditionMemo) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{
		"_id": sessionID,
	}, bson.M{
		"$set": bson.M{"preconditionMemo": memo},
	})
	if err != nil {
		return fmt.Errorf("failed to refresh precondition memo: %w", err)
	}
	return nil
}

func (s *store) Page(ctx context.Context, realmID, after string, limit int64) (*paging.Page, error) {
	page, err := s.byCreationTime.Find(ctx, bson.M{"realmId": realmID}, after, limit)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// decodeSessions turns a page of raw documents into sessions.
func decodeSessions(page *paging.Page) ([]models.Session, error) {
	sessions := make([]models.Session, 0, len(page.Docs))
	for _, doc := range page.Docs {
		var session models.Session
		if err := bson.Unmarshal(doc, &session); err != nil {
			return nil, domainerrors.NewUnexpectedError("failed to decode session", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}
