package operators

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

// SetField is one entry of a $set operator: a dotted path and the
// serialized value to store there.
type SetField struct {
	Path  string
	Value json.RawMessage
}

// Node is a node of the assignment tree built from a $set.
type Node interface {
	// Path is the full path the node addresses.
	Path() Path
	// steps appends the node's mutation steps, children included.
	steps(out []jsonb.Expr) []jsonb.Expr
}

// IntermediateField makes sure an object exists at a non-numeric prefix
// before its children are assigned.
type IntermediateField struct {
	path     Path
	children tree
}

// IntermediateIndex makes sure a container exists at a numeric prefix,
// padding the parent first when it turns out to be an array.
type IntermediateIndex struct {
	path     Path
	children tree
}

// FieldAssignment stores a value at a non-numeric path.
type FieldAssignment struct {
	path  Path
	Value json.RawMessage
}

// IndexAssignment stores a value at a numeric path, padding the parent
// first when it turns out to be an array.
type IndexAssignment struct {
	path  Path
	Value json.RawMessage
}

func (n *IntermediateField) Path() Path { return n.path }
func (n *IntermediateIndex) Path() Path { return n.path }
func (n *FieldAssignment) Path() Path   { return n.path }
func (n *IndexAssignment) Path() Path   { return n.path }

// Children returns the nodes nested under n in insertion order.
func (n *IntermediateField) Children() []Node { return n.children.nodes }

// Children returns the nodes nested under n in insertion order.
func (n *IntermediateIndex) Children() []Node { return n.children.nodes }

func (n *IntermediateField) steps(out []jsonb.Expr) []jsonb.Expr {
	p := n.path.JSONB()
	out = append(out, jsonb.Set{
		Target: jsonb.Doc{},
		Path:   p,
		Value:  jsonb.DefaultObject(jsonb.Get{Target: jsonb.Doc{}, Path: p}),
	})
	return n.children.steps(out)
}

func (n *IntermediateIndex) steps(out []jsonb.Expr) []jsonb.Expr {
	p := n.path.JSONB()
	parent := n.path.Parent()
	current := jsonb.DefaultObject(jsonb.Get{Target: jsonb.Doc{}, Path: p})
	out = append(out, jsonb.IfArray{
		Subject: jsonb.Get{Target: jsonb.Doc{}, Path: parent.JSONB()},
		Then:    jsonb.Set{Target: padded(parent, n.path.Last().Index), Path: p, Value: current},
		Else:    jsonb.Set{Target: jsonb.Doc{}, Path: p, Value: current},
	})
	return n.children.steps(out)
}

func (n *FieldAssignment) steps(out []jsonb.Expr) []jsonb.Expr {
	return append(out, jsonb.Set{
		Target: jsonb.Doc{},
		Path:   n.path.JSONB(),
		Value:  jsonb.Literal{JSON: string(n.Value)},
	})
}

func (n *IndexAssignment) steps(out []jsonb.Expr) []jsonb.Expr {
	parent := n.path.Parent()
	return append(out, jsonb.Set{
		Target: jsonb.IfArray{
			Subject: jsonb.Get{Target: jsonb.Doc{}, Path: parent.JSONB()},
			Then:    padded(parent, n.path.Last().Index),
			Else:    jsonb.Doc{},
		},
		Path:  n.path.JSONB(),
		Value: jsonb.Literal{JSON: string(n.Value)},
	})
}

// tree keeps children in first-seen order, keyed by their full path.
type tree struct {
	nodes []Node
	index map[string]int
}

func (t *tree) get(key string) (Node, bool) {
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	return t.nodes[i], true
}

func (t *tree) put(key string, n Node) {
	if t.index == nil {
		t.index = make(map[string]int)
	}
	if i, ok := t.index[key]; ok {
		t.nodes[i] = n
		return
	}
	t.index[key] = len(t.nodes)
	t.nodes = append(t.nodes, n)
}

// populate returns the intermediate node at prefix, creating it if needed.
func (t *tree) populate(prefix Path) (*tree, error) {
	key := prefix.String()
	if existing, ok := t.get(key); ok {
		switch n := existing.(type) {
		case *IntermediateField:
			return &n.children, nil
		case *IntermediateIndex:
			return &n.children, nil
		default:
			return nil, fmt.Errorf("%w: %q is assigned and also traversed", ErrPathConflict, key)
		}
	}
	if prefix.IsIndex() {
		n := &IntermediateIndex{path: prefix}
		t.put(key, n)
		return &n.children, nil
	}
	n := &IntermediateField{path: prefix}
	t.put(key, n)
	return &n.children, nil
}

// assign sets the leaf at path. A repeated path replaces the earlier value
// in place.
func (t *tree) assign(path Path, value json.RawMessage) error {
	key := path.String()
	if existing, ok := t.get(key); ok {
		switch existing.(type) {
		case *IntermediateField, *IntermediateIndex:
			return fmt.Errorf("%w: %q is assigned and also traversed", ErrPathConflict, key)
		}
	}
	if path.IsIndex() {
		t.put(key, &IndexAssignment{path: path, Value: value})
	} else {
		t.put(key, &FieldAssignment{path: path, Value: value})
	}
	return nil
}

func (t *tree) steps(out []jsonb.Expr) []jsonb.Expr {
	for _, n := range t.nodes {
		out = n.steps(out)
	}
	return out
}

// Set is the assignment tree for one $set operator.
type Set struct {
	root tree
}

// BuildSet builds the assignment tree for fields. Intermediate prefixes
// shared by several fields are materialized once.
func BuildSet(fields []SetField) (*Set, error) {
	s := &Set{}
	for _, f := range fields {
		path, err := ParsePath(f.Path)
		if err != nil {
			return nil, err
		}
		t := &s.root
		for i := 1; i < len(path); i++ {
			t, err = t.populate(path.Prefix(i))
			if err != nil {
				return nil, err
			}
		}
		if err := t.assign(path, f.Value); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Nodes returns the top-level nodes in insertion order.
func (s *Set) Nodes() []Node {
	return s.root.nodes
}

// Mutation emits the tree depth-first.
func (s *Set) Mutation() jsonb.Mutation {
	return jsonb.Mutation{Steps: s.root.steps(nil)}
}

// CompileSet builds and emits the mutation for a $set operator.
func CompileSet(fields []SetField) (jsonb.Mutation, error) {
	s, err := BuildSet(fields)
	if err != nil {
		return jsonb.Mutation{}, err
	}
	return s.Mutation(), nil
}
