// Package oplog models change-log entries as a closed set of operations and
// applies them to destination tables.
package oplog

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kartikbazzad/bunbase/replicator/internal/document"
)

// Record field names and operation markers.
const (
	FieldID        = "h"
	FieldTimestamp = "ts"
	FieldNamespace = "ns"
	FieldOp        = "op"
	FieldObject    = "o"
	FieldQuery     = "o2"
	FieldApplyOps  = "applyOps"
	FieldMessage   = "msg"

	OpInsert  = "i"
	OpUpdate  = "u"
	OpDelete  = "d"
	OpCommand = "c"
	OpNoop    = "n"
)

// Parse classifies raw and builds the matching operation. Unknown markers
// fail with ErrInvalidOperation; missing fields fail with the variant's own
// error; present fields of the wrong type fail with a *TypeError.
func Parse(raw bson.D) (Operation, error) {
	v, ok := document.Lookup(raw, FieldOp)
	if !ok {
		return nil, &ParseError{Kind: ErrInvalidOperation, Field: FieldOp, Record: raw}
	}
	op, ok := v.(string)
	if !ok {
		return nil, &TypeError{Field: FieldOp, Want: "string", Got: v}
	}

	switch op {
	case OpInsert:
		return parseInsert(raw)
	case OpUpdate:
		return parseUpdate(raw)
	case OpDelete:
		return parseDelete(raw)
	case OpCommand:
		if o, ok := document.Lookup(raw, FieldObject); ok {
			if body, ok := o.(bson.D); ok && document.Has(body, FieldApplyOps) {
				return parseApplyOps(raw)
			}
		}
		return parseCommand(raw)
	case OpNoop:
		return parseNoop(raw)
	default:
		return nil, &ParseError{Kind: ErrInvalidOperation, Reason: "unknown op " + op, Record: raw}
	}
}

// record reads required fields, reporting absence with kind.
type record struct {
	raw  bson.D
	kind error
}

func (r record) fetch(key string) (any, error) {
	v, ok := document.Lookup(r.raw, key)
	if !ok {
		return nil, &ParseError{Kind: r.kind, Field: key, Record: r.raw}
	}
	return v, nil
}

func (r record) header() (header, error) {
	var h header
	id, err := r.fetch(FieldID)
	if err != nil {
		return h, err
	}
	ts, err := r.fetch(FieldTimestamp)
	if err != nil {
		return h, err
	}
	if h.id, err = toInt64(FieldID, id); err != nil {
		return h, err
	}
	if h.ts, err = toTimestamp(FieldTimestamp, ts); err != nil {
		return h, err
	}
	return h, nil
}

func (r record) namespace() (string, error) {
	v, err := r.fetch(FieldNamespace)
	if err != nil {
		return "", err
	}
	return toString(FieldNamespace, v)
}

func (r record) document(key string) (bson.D, error) {
	v, err := r.fetch(key)
	if err != nil {
		return nil, err
	}
	return toDocument(key, v)
}

func toInt64(field string, v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	}
	return 0, &TypeError{Field: field, Want: "integer", Got: v}
}

func toTimestamp(field string, v any) (Timestamp, error) {
	if ts, ok := v.(primitive.Timestamp); ok {
		return FromPrimitive(ts), nil
	}
	return Timestamp{}, &TypeError{Field: field, Want: "BSON timestamp", Got: v}
}

func toString(field string, v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", &TypeError{Field: field, Want: "string", Got: v}
}

func toDocument(field string, v any) (bson.D, error) {
	if d, ok := v.(bson.D); ok {
		return d, nil
	}
	return nil, &TypeError{Field: field, Want: "BSON document", Got: v}
}

func parseInsert(raw bson.D) (Operation, error) {
	r := record{raw: raw, kind: ErrInvalidInsert}
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	if h.ns, err = r.namespace(); err != nil {
		return nil, err
	}
	o, err := r.document(FieldObject)
	if err != nil {
		return nil, err
	}
	return &Insert{header: h, Document: o}, nil
}

func parseUpdate(raw bson.D) (Operation, error) {
	r := record{raw: raw, kind: ErrInvalidUpdate}
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	if h.ns, err = r.namespace(); err != nil {
		return nil, err
	}
	query, err := r.document(FieldQuery)
	if err != nil {
		return nil, err
	}
	o, err := r.document(FieldObject)
	if err != nil {
		return nil, err
	}
	return &Update{header: h, Query: query, Mutation: o}, nil
}

func parseDelete(raw bson.D) (Operation, error) {
	r := record{raw: raw, kind: ErrInvalidDelete}
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	if h.ns, err = r.namespace(); err != nil {
		return nil, err
	}
	o, err := r.document(FieldObject)
	if err != nil {
		return nil, err
	}
	return &Delete{header: h, Query: o}, nil
}

func parseCommand(raw bson.D) (Operation, error) {
	r := record{raw: raw, kind: ErrInvalidCommand}
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	if h.ns, err = r.namespace(); err != nil {
		return nil, err
	}
	o, err := r.document(FieldObject)
	if err != nil {
		return nil, err
	}
	return &Command{header: h, Body: o}, nil
}

func parseApplyOps(raw bson.D) (Operation, error) {
	r := record{raw: raw, kind: ErrInvalidApplyOps}
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	if h.ns, err = r.namespace(); err != nil {
		return nil, err
	}
	o, err := r.document(FieldObject)
	if err != nil {
		return nil, err
	}
	v, _ := document.Lookup(o, FieldApplyOps)
	list, ok := v.(bson.A)
	if !ok {
		return nil, &TypeError{Field: FieldApplyOps, Want: "BSON array", Got: v}
	}

	ops := make([]Operation, 0, len(list))
	for _, item := range list {
		sub, err := toDocument(FieldApplyOps, item)
		if err != nil {
			return nil, err
		}
		op, err := Parse(sub)
		if err != nil {
			return nil, &ParseError{Kind: ErrInvalidApplyOps, Reason: "embedded operation", Record: raw, Err: err}
		}
		ops = append(ops, op)
	}
	return &ApplyOps{header: h, Operations: ops}, nil
}

func parseNoop(raw bson.D) (Operation, error) {
	r := record{raw: raw, kind: ErrInvalidNoop}
	h, err := r.header()
	if err != nil {
		return nil, err
	}
	o, err := r.document(FieldObject)
	if err != nil {
		return nil, err
	}
	msg, ok := document.Lookup(o, FieldMessage)
	if !ok {
		return nil, &ParseError{Kind: ErrInvalidNoop, Field: FieldObject + "." + FieldMessage, Record: raw}
	}
	message, err := toString(FieldMessage, msg)
	if err != nil {
		return nil, err
	}
	// Noops carry an empty namespace on most server versions.
	if v, ok := document.Lookup(raw, FieldNamespace); ok {
		if h.ns, err = toString(FieldNamespace, v); err != nil {
			return nil, err
		}
	}
	return &Noop{header: h, Message: message}, nil
}
