package settings_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leylinehq/session-service/internal/pkg/token"
	"github.com/leylinehq/session-service/internal/services/settings"
)

func bootstrapKeys() []token.Key {
	return []token.Key{
		{ID: "boot", Secret: []byte("bootstrap-secret"), Default: true},
	}
}

func newService(t *testing.T, collection *configCollection) *settings.Service {
	t.Helper()

	doc := openDocument(t, collection, nil)
	service, err := settings.NewService(doc, bootstrapKeys(), zerolog.Nop())
	require.NoError(t, err)
	return service
}

func TestSnapshot_DefaultsWithEmptyDocument(t *testing.T) {
	service := newService(t, &configCollection{})

	snapshot := service.Snapshot()
	assert.Equal(t, 30*time.Second, snapshot.EraGracePeriod)
	assert.Equal(t, 5*time.Minute, snapshot.GoverningPeriodLength)
	assert.Equal(t, "boot", snapshot.Keyring.SignerID())
	assert.Contains(t, snapshot.DefaultRealmSecurityContexts, "anonymous")
	assert.Equal(t, int64(0), snapshot.ConfigVersion)
}

func TestSnapshot_RebuiltOnDocumentChange(t *testing.T) {
	service := newService(t, &configCollection{})

	err := service.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SessionEraGracePeriod = settings.Duration(90 * time.Second)
		cfg.SessionGoverningPeriodLength = settings.Duration(time.Hour)
		return cfg, nil
	}, -1)
	require.NoError(t, err)

	snapshot := service.Snapshot()
	assert.Equal(t, 90*time.Second, snapshot.EraGracePeriod)
	assert.Equal(t, time.Hour, snapshot.GoverningPeriodLength)
	assert.Equal(t, int64(1), snapshot.ConfigVersion)
}

func TestSnapshot_DocumentKeysReplaceBootstrapKeys(t *testing.T) {
	service := newService(t, &configCollection{})

	secret := base64.RawURLEncoding.EncodeToString([]byte("rotated-secret"))
	err := service.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SigningKeys = map[string]settings.SigningKey{
			"2026-q3": {Secret: secret, Default: true},
		}
		return cfg, nil
	}, -1)
	require.NoError(t, err)

	assert.Equal(t, "2026-q3", service.Snapshot().Keyring.SignerID())
}

func TestSnapshot_UnusableDocumentKeepsPreviousSnapshot(t *testing.T) {
	service := newService(t, &configCollection{})

	// "!!!" is not valid base64url, so the new document cannot yield a
	// keyring. The write itself succeeds; the snapshot must not move.
	err := service.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SigningKeys = map[string]settings.SigningKey{
			"broken": {Secret: "!!!", Default: true},
		}
		return cfg, nil
	}, -1)
	require.NoError(t, err)

	snapshot := service.Snapshot()
	assert.Equal(t, "boot", snapshot.Keyring.SignerID())
	assert.Equal(t, int64(0), snapshot.ConfigVersion)
}

func TestExplicit_ReturnsRawDocument(t *testing.T) {
	service := newService(t, &configCollection{})

	cfg, version := service.Explicit()
	assert.Empty(t, cfg.SigningKeys)
	assert.Equal(t, int64(0), version)

	require.NoError(t, service.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SessionEraGracePeriod = settings.Duration(time.Minute)
		return cfg, nil
	}, 0))

	cfg, version = service.Explicit()
	assert.Equal(t, settings.Duration(time.Minute), cfg.SessionEraGracePeriod)
	assert.Equal(t, int64(1), version)
}
