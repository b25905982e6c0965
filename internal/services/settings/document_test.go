package settings_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/leylinehq/session-service/internal/core/docdb"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
	"github.com/leylinehq/session-service/internal/services/settings"
)

// configCollection holds at most one document, the service configuration,
// and supports scripted version-guard conflicts.
type configCollection struct {
	doc bson.M

	// conflicts makes the next n guarded writes lose their version race.
	conflicts int

	inserts  int
	replaces int
}

type configSingleResult struct {
	doc bson.M
}

func (r *configSingleResult) Decode(v interface{}) error {
	if r.doc == nil {
		return docdb.ErrNoDocuments
	}
	raw, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}

func (r *configSingleResult) Err() error {
	if r.doc == nil {
		return docdb.ErrNoDocuments
	}
	return nil
}

func (c *configCollection) roundTrip(document interface{}) (bson.M, error) {
	raw, err := bson.Marshal(document)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *configCollection) InsertOne(ctx context.Context, document interface{}) (interface{}, error) {
	c.inserts++
	if c.conflicts > 0 {
		c.conflicts--
		return nil, docdb.ErrDuplicateKey
	}
	if c.doc != nil {
		return nil, docdb.ErrDuplicateKey
	}
	doc, err := c.roundTrip(document)
	if err != nil {
		return nil, err
	}
	c.doc = doc
	return nil, nil
}

func (c *configCollection) FindOne(ctx context.Context, filter interface{}) docdb.SingleResult {
	return &configSingleResult{doc: c.doc}
}

func (c *configCollection) Find(ctx context.Context, filter interface{}, opts *docdb.FindOptions) (docdb.Cursor, error) {
	return nil, errors.New("not supported in this fake")
}

func (c *configCollection) UpdateOne(ctx context.Context, filter, update interface{}) (*docdb.UpdateResult, error) {
	return nil, errors.New("not supported in this fake")
}

func (c *configCollection) ReplaceOne(ctx context.Context, filter, replacement interface{}) (*docdb.UpdateResult, error) {
	c.replaces++
	if c.conflicts > 0 {
		c.conflicts--
		return &docdb.UpdateResult{}, nil
	}

	fromVersion, _ := filter.(map[string]interface{})["version"].(int64)
	if c.doc == nil || c.doc["version"] != fromVersion {
		return &docdb.UpdateResult{}, nil
	}

	doc, err := c.roundTrip(replacement)
	if err != nil {
		return nil, err
	}
	c.doc = doc
	return &docdb.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *configCollection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	if c.doc == nil {
		return 0, nil
	}
	return 1, nil
}

func openDocument(t *testing.T, collection *configCollection, sleeps *[]time.Duration) *settings.Document {
	t.Helper()

	doc, err := settings.OpenDocument(context.Background(), collection, settings.DocumentOptions{
		BasePollInterval: time.Hour,
		PollJitter:       time.Hour,
		Sleep: func(d time.Duration) {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(doc.Close)
	return doc
}

func TestOpenDocument_AbsentReadsAsVersionZero(t *testing.T) {
	doc := openDocument(t, &configCollection{}, nil)

	assert.Equal(t, int64(0), doc.Version())
	assert.Empty(t, doc.Data().SigningKeys)
}

func TestUpdate_FirstWriteInsertsVersionOne(t *testing.T) {
	collection := &configCollection{}
	doc := openDocument(t, collection, nil)

	err := doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SessionEraGracePeriod = settings.Duration(45 * time.Second)
		return cfg, nil
	}, -1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), doc.Version())
	assert.Equal(t, settings.Duration(45*time.Second), doc.Data().SessionEraGracePeriod)
	assert.Equal(t, 1, collection.inserts)
}

func TestUpdate_NotifiesListeners(t *testing.T) {
	doc := openDocument(t, &configCollection{}, nil)

	var gotVersion int64
	var gotConfig settings.Config
	doc.OnChange(func(cfg settings.Config, version int64) {
		gotConfig = cfg
		gotVersion = version
	})

	err := doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SessionGoverningPeriodLength = settings.Duration(10 * time.Minute)
		return cfg, nil
	}, -1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), gotVersion)
	assert.Equal(t, settings.Duration(10*time.Minute), gotConfig.SessionGoverningPeriodLength)
}

func TestUpdate_ExpectedVersionMismatchConflicts(t *testing.T) {
	collection := &configCollection{}
	doc := openDocument(t, collection, nil)

	err := doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		return cfg, nil
	}, 7)
	assert.True(t, domainerrors.IsConflict(err))
	assert.Zero(t, collection.inserts)
	assert.Zero(t, collection.replaces)
}

func TestUpdate_VersionRaceIsRetried(t *testing.T) {
	collection := &configCollection{}
	var sleeps []time.Duration
	doc := openDocument(t, collection, &sleeps)

	require.NoError(t, doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		return cfg, nil
	}, -1))

	// The next write loses its race once, then succeeds on reload.
	collection.conflicts = 1
	err := doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		cfg.SessionEraGracePeriod = settings.Duration(time.Minute)
		return cfg, nil
	}, -1)
	require.NoError(t, err)

	assert.Len(t, sleeps, 1)
	assert.Equal(t, int64(2), doc.Version())
	assert.Equal(t, settings.Duration(time.Minute), doc.Data().SessionEraGracePeriod)
}

func TestUpdate_PersistentRacesGiveUp(t *testing.T) {
	collection := &configCollection{}
	var sleeps []time.Duration
	doc := openDocument(t, collection, &sleeps)

	require.NoError(t, doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		return cfg, nil
	}, -1))

	collection.conflicts = 100
	err := doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		return cfg, nil
	}, -1)
	assert.True(t, domainerrors.IsConflict(err))
	assert.NotEmpty(t, sleeps)
}

func TestUpdate_CallbackErrorAborts(t *testing.T) {
	collection := &configCollection{}
	doc := openDocument(t, collection, nil)

	boom := errors.New("nope")
	err := doc.Update(context.Background(), func(cfg settings.Config) (settings.Config, error) {
		return cfg, boom
	}, -1)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, collection.inserts)
}
