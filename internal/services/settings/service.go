package settings

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/leylinehq/session-service/internal/pkg/token"
)

// Snapshot is one immutable, internally consistent view of the effective
// service configuration. Consumers take a snapshot once per request and
// read every value from it, so a concurrent configuration change can never
// produce a torn read.
type Snapshot struct {
	Keyring                      *token.Keyring
	EraGracePeriod               time.Duration
	GoverningPeriodLength        time.Duration
	DefaultRealmSecurityContexts map[string]ContextSeed
	ConfigVersion                int64
}

// Service merges the explicit configuration document with built-in
// defaults and republishes the result as an atomic snapshot on every
// document change.
type Service struct {
	doc           *Document
	bootstrapKeys []token.Key
	logger        zerolog.Logger

	snapshot atomic.Pointer[Snapshot]
}

// NewService builds the settings service. bootstrapKeys back the signing
// keyring until (and unless) the configuration document carries its own
// signing keys; one source or the other must yield a usable keyring.
func NewService(doc *Document, bootstrapKeys []token.Key, logger zerolog.Logger) (*Service, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}

	s := &Service{
		doc:           doc,
		bootstrapKeys: bootstrapKeys,
		logger:        logger,
	}

	snapshot, err := s.build(doc.Data(), doc.Version())
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snapshot)

	doc.OnChange(func(cfg Config, version int64) {
		next, err := s.build(cfg, version)
		if err != nil {
			// A bad document must not take the service down; the previous
			// snapshot stays in effect until the document is fixed.
			s.logger.Error().Err(err).Int64("version", version).
				Msg("ignoring unusable service configuration")
			return
		}
		s.snapshot.Store(next)
		s.logger.Info().Int64("version", version).
			Msg("service configuration reloaded")
	})

	return s, nil
}

// Snapshot returns the current effective configuration.
func (s *Service) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Explicit returns the raw explicit configuration and its version, for the
// configuration API.
func (s *Service) Explicit() (Config, int64) {
	return s.doc.Data(), s.doc.Version()
}

// Update applies fn to the explicit configuration, guarded on
// expectedVersion (pass a negative version to accept any).
func (s *Service) Update(ctx context.Context, fn func(Config) (Config, error), expectedVersion int64) error {
	return s.doc.Update(ctx, fn, expectedVersion)
}

func (s *Service) build(cfg Config, version int64) (*Snapshot, error) {
	keys, err := signingKeys(cfg)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		keys = s.bootstrapKeys
	}

	keyring, err := token.NewKeyring(keys)
	if err != nil {
		return nil, fmt.Errorf("unusable signing keyring: %w", err)
	}

	snapshot := &Snapshot{
		Keyring:                      keyring,
		EraGracePeriod:               DefaultSessionEraGracePeriod,
		GoverningPeriodLength:        DefaultSessionGoverningPeriodLength,
		DefaultRealmSecurityContexts: DefaultRealmSecurityContexts(),
		ConfigVersion:                version,
	}
	if cfg.SessionEraGracePeriod > 0 {
		snapshot.EraGracePeriod = time.Duration(cfg.SessionEraGracePeriod)
	}
	if cfg.SessionGoverningPeriodLength > 0 {
		snapshot.GoverningPeriodLength = time.Duration(cfg.SessionGoverningPeriodLength)
	}

	return snapshot, nil
}

func signingKeys(cfg Config) ([]token.Key, error) {
	if len(cfg.SigningKeys) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(cfg.SigningKeys))
	for name := range cfg.SigningKeys {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := make([]token.Key, 0, len(names))
	for _, name := range names {
		entry := cfg.SigningKeys[name]
		secret, err := base64.RawURLEncoding.DecodeString(entry.Secret)
		if err != nil {
			return nil, fmt.Errorf("signing key %s has an undecodable secret: %w", name, err)
		}
		keys = append(keys, token.Key{ID: name, Secret: secret, Default: entry.Default})
	}

	return keys, nil
}
