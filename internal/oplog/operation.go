package oplog

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kartikbazzad/bunbase/replicator/internal/document"
	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
	"github.com/kartikbazzad/bunbase/replicator/internal/mapping"
	"github.com/kartikbazzad/bunbase/replicator/internal/operators"
)

// Update operator keys.
const (
	OperatorSet   = "$set"
	OperatorUnset = "$unset"
)

// Operation is one parsed change-log entry. The set of implementations is
// closed: Insert, Update, Delete, Command, ApplyOps and Noop.
type Operation interface {
	ID() int64
	Timestamp() Timestamp
	Namespace() string
	// Kind is a short lowercase name used in logs and metrics.
	Kind() string
	// Apply replays the operation against the tables in m. Unmapped
	// namespaces and unmatched rows are no-ops.
	Apply(ctx context.Context, m *mapping.Mapping) error

	sealed()
}

// Equal reports whether a and b are the same change-log entry.
func Equal(a, b Operation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID()
}

type header struct {
	id int64
	ts Timestamp
	ns string
}

func (h header) ID() int64            { return h.id }
func (h header) Timestamp() Timestamp { return h.ts }
func (h header) Namespace() string    { return h.ns }
func (header) sealed()                {}

// Insert creates a document.
type Insert struct {
	header
	Document bson.D
}

func (*Insert) Kind() string { return "insert" }

func (op *Insert) Apply(ctx context.Context, m *mapping.Mapping) error {
	table, ok := m.Lookup(op.ns)
	if !ok {
		return nil
	}
	doc := document.Sanitize(op.Document)
	id, err := identifier(doc)
	if err != nil {
		return err
	}
	body, err := document.Marshal(doc)
	if err != nil {
		return err
	}
	if err := table.Upsert(ctx, id, body); err != nil {
		return fmt.Errorf("insert %s into %s: %w", id, op.ns, err)
	}
	return nil
}

// Update either replaces a document or runs $set and $unset operators on it.
type Update struct {
	header
	Query    bson.D
	Mutation bson.D
}

func (*Update) Kind() string { return "update" }

// Replacement reports whether the mutation is a whole new document rather
// than an operator document.
func (op *Update) Replacement() bool {
	return !document.Has(op.Mutation, OperatorSet) && !document.Has(op.Mutation, OperatorUnset)
}

// Compile builds the jsonb mutation for an operator update: $set first, then
// $unset against its result.
func (op *Update) Compile() (jsonb.Mutation, error) {
	mutation := document.Sanitize(op.Mutation)

	var fields []operators.SetField
	if v, ok := document.Lookup(mutation, OperatorSet); ok {
		set, err := toDocument(OperatorSet, v)
		if err != nil {
			return jsonb.Mutation{}, err
		}
		fields = make([]operators.SetField, 0, len(set))
		for _, e := range set {
			value, err := document.MarshalValue(e.Value)
			if err != nil {
				return jsonb.Mutation{}, err
			}
			fields = append(fields, operators.SetField{Path: e.Key, Value: value})
		}
	}

	var paths []string
	if v, ok := document.Lookup(mutation, OperatorUnset); ok {
		unset, err := toDocument(OperatorUnset, v)
		if err != nil {
			return jsonb.Mutation{}, err
		}
		paths = make([]string, 0, len(unset))
		for _, e := range unset {
			paths = append(paths, e.Key)
		}
	}

	set, err := operators.CompileSet(fields)
	if err != nil {
		return jsonb.Mutation{}, &ParseError{Kind: ErrInvalidUpdate, Reason: OperatorSet, Err: err}
	}
	unset, err := operators.CompileUnset(paths)
	if err != nil {
		return jsonb.Mutation{}, &ParseError{Kind: ErrInvalidUpdate, Reason: OperatorUnset, Err: err}
	}
	return set.Then(unset), nil
}

func (op *Update) Apply(ctx context.Context, m *mapping.Mapping) error {
	table, ok := m.Lookup(op.ns)
	if !ok {
		return nil
	}
	id, err := identifier(document.Sanitize(op.Query))
	if err != nil {
		return err
	}

	if op.Replacement() {
		body, err := document.Marshal(document.Sanitize(op.Mutation))
		if err != nil {
			return err
		}
		if err := table.Replace(ctx, id, body); err != nil {
			return fmt.Errorf("replace %s in %s: %w", id, op.ns, err)
		}
		return nil
	}

	mutation, err := op.Compile()
	if err != nil {
		return err
	}
	if err := table.Update(ctx, id, mutation); err != nil {
		return fmt.Errorf("update %s in %s: %w", id, op.ns, err)
	}
	return nil
}

// Delete soft-deletes a document.
type Delete struct {
	header
	Query bson.D
}

func (*Delete) Kind() string { return "delete" }

func (op *Delete) Apply(ctx context.Context, m *mapping.Mapping) error {
	table, ok := m.Lookup(op.ns)
	if !ok {
		return nil
	}
	id, err := identifier(document.Sanitize(op.Query))
	if err != nil {
		return err
	}
	if err := table.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete %s from %s: %w", id, op.ns, err)
	}
	return nil
}

// Command is a database command such as create or drop. Commands are
// informational and never touch a table.
type Command struct {
	header
	Body bson.D
}

func (*Command) Kind() string { return "command" }

func (*Command) Apply(context.Context, *mapping.Mapping) error { return nil }

// ApplyOps is a command entry wrapping several operations that the source
// applied atomically.
type ApplyOps struct {
	header
	Operations []Operation
}

func (*ApplyOps) Kind() string { return "applyOps" }

// Apply runs the embedded operations in order and stops at the first
// failure. Operations already applied are not rolled back.
func (op *ApplyOps) Apply(ctx context.Context, m *mapping.Mapping) error {
	for i, sub := range op.Operations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.Apply(ctx, m); err != nil {
			return fmt.Errorf("applyOps %d, operation %d (%d): %w", op.id, i, sub.ID(), err)
		}
	}
	return nil
}

// Noop is an administrative marker.
type Noop struct {
	header
	Message string
}

func (*Noop) Kind() string { return "noop" }

func (*Noop) Apply(context.Context, *mapping.Mapping) error { return nil }

func identifier(d bson.D) ([]byte, error) {
	id, err := document.Identifier(d)
	if errors.Is(err, document.ErrNoIdentifier) {
		return nil, ErrMissingIdentifier
	}
	return id, err
}
