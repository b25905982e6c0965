// Package paging provides cursor-based pagination over a document
// collection ordered by a composite sort key.
package paging

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/leylinehq/session-service/internal/core/docdb"
	"github.com/leylinehq/session-service/internal/domain/errors"
)

// Limits on the page size.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Field is one component of the composite sort key.
type Field struct {
	Name      string
	Ascending bool
}

// Order is a pageable ordering of a collection. The document id is always
// the final tiebreak component so the composite key is total.
type Order struct {
	collection docdb.Collection
	fields     []Field
	sort       bson.D
}

// Page is one page of raw documents plus the opaque cursor for the next
// page, empty when this page is the last.
type Page struct {
	Docs  []bson.Raw
	After string
}

// cursorEnvelope is the persisted shape of a page cursor: the composite
// sort key values of the last document on the page, bson-encoded so value
// types (notably dates) survive the round trip.
type cursorEnvelope struct {
	Keys []interface{} `bson:"keys"`
}

// NewOrder creates an ordering over the collection by the given fields.
func NewOrder(collection docdb.Collection, fields ...Field) *Order {
	fields = append(fields, Field{Name: "_id", Ascending: true})

	sort := make(bson.D, 0, len(fields))
	for _, f := range fields {
		direction := 1
		if !f.Ascending {
			direction = -1
		}
		sort = append(sort, bson.E{Key: f.Name, Value: direction})
	}

	return &Order{
		collection: collection,
		fields:     fields,
		sort:       sort,
	}
}

// Find returns one page of documents matching the filter, starting after
// the given cursor when present.
func (o *Order) Find(ctx context.Context, filter bson.M, after string, limit int64) (*Page, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := filter
	if query == nil {
		query = bson.M{}
	}
	if after != "" {
		keys, err := o.decodeCursor(after)
		if err != nil {
			return nil, err
		}
		query = bson.M{"$and": bson.A{o.afterQuery(keys), query}}
	}

	cursor, err := o.collection.Find(ctx, query, &docdb.FindOptions{
		Sort:  o.sort,
		Limit: limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query page: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	page := &Page{Docs: docs}
	if int64(len(docs)) > limit {
		page.Docs = docs[:limit]
		afterCursor, err := o.encodeCursor(page.Docs[len(page.Docs)-1])
		if err != nil {
			return nil, err
		}
		page.After = afterCursor
	}

	return page, nil
}

func (o *Order) encodeCursor(doc bson.Raw) (string, error) {
	envelope := cursorEnvelope{Keys: make([]interface{}, 0, len(o.fields))}

	var fields bson.M
	if err := bson.Unmarshal(doc, &fields); err != nil {
		return "", fmt.Errorf("failed to decode page boundary document: %w", err)
	}
	for _, f := range o.fields {
		envelope.Keys = append(envelope.Keys, fields[f.Name])
	}

	raw, err := bson.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to encode page cursor: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (o *Order) decodeCursor(after string) ([]interface{}, error) {
	raw, err := base64.RawURLEncoding.DecodeString(after)
	if err != nil {
		return nil, errors.NewValidationError("invalid page cursor", after)
	}

	var envelope cursorEnvelope
	if err := bson.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.NewValidationError("invalid page cursor", after)
	}
	if len(envelope.Keys) != len(o.fields) {
		return nil, errors.NewValidationError("invalid page cursor", after)
	}

	return envelope.Keys, nil
}

// afterQuery builds the strictly-after condition for a composite key:
// later in the leading field, or tied on it and later in the remaining
// fields, recursively down to the id tiebreak.
func (o *Order) afterQuery(keys []interface{}) bson.M {
	var result bson.M
	for i := len(keys) - 1; i >= 0; i-- {
		field := o.fields[i]

		comparator := "$gt"
		if !field.Ascending {
			comparator = "$lt"
		}
		next := bson.M{field.Name: bson.M{comparator: keys[i]}}

		if result == nil {
			result = next
		} else {
			result = bson.M{"$or": bson.A{
				bson.M{"$and": bson.A{
					bson.M{field.Name: bson.M{"$eq": keys[i]}},
					result,
				}},
				next,
			}}
		}
	}

	return result
}
