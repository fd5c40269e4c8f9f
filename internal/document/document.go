// Package document holds helpers for raw change-log documents: ordered field
// lookup, relaxed Extended JSON serialization and identifier extraction.
package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// IDField is the identifier field every replicated document carries.
const IDField = "_id"

// ErrNoIdentifier is returned when a document has no _id field.
var ErrNoIdentifier = errors.New("document has no _id field")

// Lookup returns the value stored under key in d.
func Lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether d contains key.
func Has(d bson.D, key string) bool {
	_, ok := Lookup(d, key)
	return ok
}

// Marshal serializes d as relaxed Extended JSON, the representation stored in
// the replica's document column.
func Marshal(d bson.D) ([]byte, error) {
	if d == nil {
		d = bson.D{}
	}
	out, err := bson.MarshalExtJSON(d, false, false)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return out, nil
}

// MarshalValue serializes a single BSON value as relaxed Extended JSON.
// Extended JSON is only defined for documents, so the value is wrapped and
// unwrapped again.
func MarshalValue(v any) ([]byte, error) {
	wrapped, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v}}, false, false)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var holder struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(wrapped, &holder); err != nil {
		return nil, fmt.Errorf("unwrap value: %w", err)
	}
	return holder.V, nil
}

// Identifier returns the serialized _id of d, used as the replica row key.
func Identifier(d bson.D) ([]byte, error) {
	id, ok := Lookup(d, IDField)
	if !ok {
		return nil, ErrNoIdentifier
	}
	return MarshalValue(id)
}
