// Package settings manages hot-reloadable service configuration: an
// optimistic-concurrency document in the ServiceConfig collection, exposed
// to the rest of the service as an immutable snapshot that is swapped
// atomically when the document changes.
package settings

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// SigningKey is one named symmetric key in the explicit configuration. The
// secret is base64url encoded.
type SigningKey struct {
	Secret  string `bson:"secret" json:"secret"`
	Default bool   `bson:"default,omitempty" json:"default,omitempty"`
}

// Config is the operator-editable part of the service configuration,
// stored in the service configuration document.
type Config struct {
	SigningKeys                  map[string]SigningKey `bson:"signingKeys,omitempty" json:"signingKeys,omitempty"`
	SessionEraGracePeriod        Duration              `bson:"sessionEraGracePeriod,omitempty" json:"sessionEraGracePeriod,omitempty"`
	SessionGoverningPeriodLength Duration              `bson:"sessionGoverningPeriodLength,omitempty" json:"sessionGoverningPeriodLength,omitempty"`
}

// Duration is a time.Duration that serializes as a friendly duration
// string ("30s", "5m") in both JSON and BSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (d Duration) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(time.Duration(d).String())
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (d *Duration) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	var s string
	if err := bson.UnmarshalValue(t, data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
