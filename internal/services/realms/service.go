// Package realms manages realms and their versioned security contexts, and
// resolves security context preconditions against asserted claims.
package realms

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/leylinehq/session-service/internal/core/docdb"
	"github.com/leylinehq/session-service/internal/core/expr"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/domain/models"
	"github.com/leylinehq/session-service/internal/pkg/ids"
	"github.com/leylinehq/session-service/internal/pkg/paging"
	"github.com/leylinehq/session-service/internal/services/settings"
)

const (
	maxFriendlyNameLength = 100
	maxPreconditionLength = 1000
)

var contextNamePattern = regexp.MustCompile(`^\w{1,50}$`)

// SettingsProvider supplies the current effective service configuration.
type SettingsProvider interface {
	Snapshot() *settings.Snapshot
}

// ContextDefinition is the caller-supplied definition of one security
// context. An empty precondition means "true".
type ContextDefinition struct {
	Precondition   string
	SessionOptions models.SessionOptions
}

// Config holds the dependencies of the realms service.
type Config struct {
	Collection docdb.Collection
	Evaluator  expr.Evaluator
	Settings   SettingsProvider
	Now        func() time.Time
	Logger     zerolog.Logger
}

// Service manages realm documents.
type Service struct {
	collection     docdb.Collection
	evaluator      expr.Evaluator
	settings       SettingsProvider
	byCreationTime *paging.Order
	now            func() time.Time
	logger         zerolog.Logger
}

// NewService creates a new realms service.
func NewService(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings provider is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		collection:     cfg.Collection,
		evaluator:      cfg.Evaluator,
		settings:       cfg.Settings,
		byCreationTime: paging.NewOrder(cfg.Collection, paging.Field{Name: "createdAt", Ascending: true}),
		now:            now,
		logger:         cfg.Logger,
	}, nil
}

// Create mints a new realm. When securityContexts is empty the realm
// starts with the configured default contexts.
func (s *Service) Create(ctx context.Context, friendlyName string, securityContexts map[string]ContextDefinition) (*models.Realm, error) {
	if len(friendlyName) > maxFriendlyNameLength {
		return nil, domainerrors.NewValidationError("friendly name too long", friendlyName)
	}

	if len(securityContexts) == 0 {
		securityContexts = map[string]ContextDefinition{}
		for name, seed := range s.settings.Snapshot().DefaultRealmSecurityContexts {
			securityContexts[name] = ContextDefinition{
				Precondition:   seed.Precondition,
				SessionOptions: seed.SessionOptions,
			}
		}
	}

	normalized := make(map[string]models.SecurityContext, len(securityContexts))
	for name, definition := range securityContexts {
		normalizedContext, err := normalizeContext(name, definition, 1)
		if err != nil {
			return nil, err
		}
		normalized[name] = normalizedContext
	}

	now := s.now().UTC()
	realm := &models.Realm{
		ID:               ids.New(ids.RealmPrefix),
		FriendlyName:     friendlyName,
		SecurityContexts: normalized,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if _, err := s.collection.InsertOne(ctx, realm); err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to create realm", err)
	}

	return realm, nil
}

// FetchByID loads a realm.
func (s *Service) FetchByID(ctx context.Context, realmID string) (*models.Realm, error) {
	if !ids.Valid(realmID, ids.RealmPrefix) {
		return nil, domainerrors.NewValidationError("malformed realm id", realmID)
	}

	var realm models.Realm
	err := s.collection.FindOne(ctx, bson.M{"_id": realmID}).Decode(&realm)
	if errors.Is(err, docdb.ErrNoDocuments) {
		return nil, domainerrors.NewNoSuchRealmError(realmID)
	}
	if err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to fetch realm", err)
	}

	return &realm, nil
}

// UpsertSecurityContext creates or edits one security context of a realm,
// bumping the context's version so live sessions detect the change and
// re-validate. The write is guarded on the version being replaced so
// concurrent edits cannot both win.
func (s *Service) UpsertSecurityContext(ctx context.Context, realmID, contextName string, definition ContextDefinition) (*models.Realm, error) {
	realm, err := s.FetchByID(ctx, realmID)
	if err != nil {
		return nil, err
	}

	version := 1
	filter := bson.M{
		"_id": realmID,
		"securityContexts." + contextName: bson.M{"$exists": false},
	}
	if existing, ok := realm.SecurityContexts[contextName]; ok {
		version = existing.Version + 1
		filter = bson.M{
			"_id": realmID,
			"securityContexts." + contextName + ".version": existing.Version,
		}
	}

	normalized, err := normalizeContext(contextName, definition, version)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result, err := s.collection.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{
			"securityContexts." + contextName: normalized,
			"updatedAt":                       now,
		},
	})
	if err != nil {
		return nil, domainerrors.NewUnexpectedError("failed to update security context", err)
	}
	if result.MatchedCount == 0 {
		return nil, domainerrors.NewConflictError(
			"security context changed concurrently",
			fmt.Sprintf("%s/%s", realmID, contextName))
	}

	realm.SecurityContexts[contextName] = normalized
	realm.UpdatedAt = now
	return realm, nil
}

// RealmPage is one page of realms.
type RealmPage struct {
	Realms []models.Realm
	After  string
}

// List returns realms by creation time.
func (s *Service) List(ctx context.Context, after string, limit int64) (*RealmPage, error) {
	page, err := s.byCreationTime.Find(ctx, nil, after, limit)
	if err != nil {
		return nil, err
	}

	result := &RealmPage{
		Realms: make([]models.Realm, 0, len(page.Docs)),
		After:  page.After,
	}
	for _, doc := range page.Docs {
		var realm models.Realm
		if err := bson.Unmarshal(doc, &realm); err != nil {
			return nil, domainerrors.NewUnexpectedError("failed to decode realm", err)
		}
		result.Realms = append(result.Realms, realm)
	}

	return result, nil
}

// PreconditionHash hashes a precondition source for change detection. The
// caller does not control the input adversarially, so the first eight
// bytes of a SHA-256 are plenty.
func PreconditionHash(precondition string) string {
	sum := sha256.Sum256([]byte(precondition))
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

func normalizeContext(name string, definition ContextDefinition, version int) (models.SecurityContext, error) {
	if !contextNamePattern.MatchString(name) {
		return models.SecurityContext{}, domainerrors.NewValidationError("malformed security context name", name)
	}
	if len(definition.Precondition) > maxPreconditionLength {
		return models.SecurityContext{}, domainerrors.NewValidationError("precondition too long", name)
	}

	precondition := definition.Precondition
	if precondition == "" {
		precondition = "true"
	}

	return models.SecurityContext{
		Version:          version,
		Precondition:     precondition,
		PreconditionHash: PreconditionHash(precondition),
		SessionOptions:   definition.SessionOptions,
	}, nil
}
