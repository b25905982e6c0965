package paging_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/leylinehq/session-service/internal/core/docdb"
	"github.com/leylinehq/session-service/internal/pkg/paging"
)

// pageCollection replays a fixed document list, honoring only the limit,
// and records the filter and options of the last query.
type pageCollection struct {
	docs []bson.Raw

	lastFilter interface{}
	lastOpts   *docdb.FindOptions
}

type pageCursor struct {
	docs []bson.Raw
}

func (c *pageCursor) Next(ctx context.Context) bool   { return false }
func (c *pageCursor) Decode(v interface{}) error      { return docdb.ErrNoDocuments }
func (c *pageCursor) Err() error                      { return nil }
func (c *pageCursor) Close(ctx context.Context) error { return nil }

func (c *pageCursor) All(ctx context.Context, results interface{}) error {
	out, ok := results.(*[]bson.Raw)
	if !ok {
		return fmt.Errorf("unexpected result type %T", results)
	}
	*out = c.docs
	return nil
}

func (c *pageCollection) Find(ctx context.Context, filter interface{}, opts *docdb.FindOptions) (docdb.Cursor, error) {
	c.lastFilter = filter
	c.lastOpts = opts

	docs := c.docs
	if opts != nil && opts.Limit > 0 && int64(len(docs)) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return &pageCursor{docs: docs}, nil
}

func (c *pageCollection) InsertOne(ctx context.Context, document interface{}) (interface{}, error) {
	return nil, nil
}

func (c *pageCollection) FindOne(ctx context.Context, filter interface{}) docdb.SingleResult {
	return nil
}

func (c *pageCollection) UpdateOne(ctx context.Context, filter, update interface{}) (*docdb.UpdateResult, error) {
	return &docdb.UpdateResult{}, nil
}

func (c *pageCollection) ReplaceOne(ctx context.Context, filter, replacement interface{}) (*docdb.UpdateResult, error) {
	return &docdb.UpdateResult{}, nil
}

func (c *pageCollection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	return int64(len(c.docs)), nil
}

func seedDocs(t *testing.T, n int) []bson.Raw {
	t.Helper()

	base := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	docs := make([]bson.Raw, 0, n)
	for i := 0; i < n; i++ {
		raw, err := bson.Marshal(bson.M{
			"_id":       fmt.Sprintf("doc-%03d", i),
			"createdAt": base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		docs = append(docs, bson.Raw(raw))
	}
	return docs
}

func TestFind_LastPageHasNoCursor(t *testing.T) {
	collection := &pageCollection{docs: seedDocs(t, 3)}
	order := paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: true})

	page, err := order.Find(context.Background(), nil, "", 10)
	require.NoError(t, err)

	assert.Len(t, page.Docs, 3)
	assert.Empty(t, page.After)
}

func TestFind_FullPageYieldsCursor(t *testing.T) {
	collection := &pageCollection{docs: seedDocs(t, 5)}
	order := paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: true})

	page, err := order.Find(context.Background(), nil, "", 4)
	require.NoError(t, err)

	assert.Len(t, page.Docs, 4)
	assert.NotEmpty(t, page.After)

	// The query overfetches by one to detect whether a next page exists.
	assert.Equal(t, int64(5), collection.lastOpts.Limit)
}

func TestFind_LimitDefaultsAndClamps(t *testing.T) {
	collection := &pageCollection{docs: seedDocs(t, 1)}
	order := paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: true})

	_, err := order.Find(context.Background(), nil, "", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(paging.DefaultLimit+1), collection.lastOpts.Limit)

	_, err = order.Find(context.Background(), nil, "", 100000)
	require.NoError(t, err)
	assert.Equal(t, int64(paging.MaxLimit+1), collection.lastOpts.Limit)
}

func TestFind_SortEndsWithIDTiebreak(t *testing.T) {
	collection := &pageCollection{docs: seedDocs(t, 1)}
	order := paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: false})

	_, err := order.Find(context.Background(), nil, "", 10)
	require.NoError(t, err)

	sort, ok := collection.lastOpts.Sort.(bson.D)
	require.True(t, ok)
	require.Len(t, sort, 2)
	assert.Equal(t, bson.E{Key: "createdAt", Value: -1}, sort[0])
	assert.Equal(t, bson.E{Key: "_id", Value: 1}, sort[1])
}

func TestFind_CursorRoundTrip(t *testing.T) {
	collection := &pageCollection{docs: seedDocs(t, 5)}
	order := paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: true})

	page, err := order.Find(context.Background(), bson.M{"realmId": "rlm_x"}, "", 4)
	require.NoError(t, err)
	require.NotEmpty(t, page.After)

	_, err = order.Find(context.Background(), bson.M{"realmId": "rlm_x"}, page.After, 4)
	require.NoError(t, err)

	// The continuation must be the conjunction of the caller's filter and
	// a strictly-after condition on the composite key.
	query, ok := collection.lastFilter.(bson.M)
	require.True(t, ok)
	clauses, ok := query["$and"].(bson.A)
	require.True(t, ok)
	require.Len(t, clauses, 2)

	after, ok := clauses[0].(bson.M)
	require.True(t, ok)
	assert.Contains(t, after, "$or")
	assert.Equal(t, bson.M{"realmId": "rlm_x"}, clauses[1])
}

func TestFind_MalformedCursorRejected(t *testing.T) {
	collection := &pageCollection{docs: seedDocs(t, 1)}
	order := paging.NewOrder(collection, paging.Field{Name: "createdAt", Ascending: true})

	for _, after := range []string{"not base64 ???", "bm90IGJzb24"} {
		_, err := order.Find(context.Background(), nil, after, 10)
		assert.Error(t, err, "cursor %q", after)
	}
}
