package operators

import (
	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

// Removal is one entry of an $unset operator.
type Removal interface {
	Path() Path
	step() jsonb.Expr
}

// UnsetField removes an object key outright.
type UnsetField struct {
	path Path
}

// UnsetIndex nulls an array slot when the parent is an array long enough to
// hold it, and removes the key otherwise. Arrays never shrink.
type UnsetIndex struct {
	path Path
}

func (u UnsetField) Path() Path { return u.path }
func (u UnsetIndex) Path() Path { return u.path }

func (u UnsetField) step() jsonb.Expr {
	return jsonb.Delete{Target: jsonb.Doc{}, Path: u.path.JSONB()}
}

func (u UnsetIndex) step() jsonb.Expr {
	p := u.path.JSONB()
	parent := jsonb.Get{Target: jsonb.Doc{}, Path: u.path.Parent().JSONB()}
	remove := jsonb.Delete{Target: jsonb.Doc{}, Path: p}
	return jsonb.IfArray{
		Subject: parent,
		Then: jsonb.IfLonger{
			Subject: parent,
			Length:  u.path.Last().Index,
			Then:    jsonb.Set{Target: jsonb.Doc{}, Path: p, Value: jsonb.Null},
			Else:    remove,
		},
		Else: remove,
	}
}

// Unset is the ordered list of removals for one $unset operator. Removals
// are independent; none observes another's effect beyond running after it.
type Unset struct {
	removals []Removal
}

// BuildUnset classifies each dotted path by its last segment.
func BuildUnset(paths []string) (*Unset, error) {
	u := &Unset{removals: make([]Removal, 0, len(paths))}
	for _, dotted := range paths {
		path, err := ParsePath(dotted)
		if err != nil {
			return nil, err
		}
		if path.IsIndex() {
			u.removals = append(u.removals, UnsetIndex{path: path})
		} else {
			u.removals = append(u.removals, UnsetField{path: path})
		}
	}
	return u, nil
}

// Removals returns the entries in the order received.
func (u *Unset) Removals() []Removal {
	return u.removals
}

// Mutation emits one step per removal.
func (u *Unset) Mutation() jsonb.Mutation {
	steps := make([]jsonb.Expr, len(u.removals))
	for i, r := range u.removals {
		steps[i] = r.step()
	}
	return jsonb.Mutation{Steps: steps}
}

// CompileUnset builds and emits the mutation for an $unset operator.
func CompileUnset(paths []string) (jsonb.Mutation, error) {
	u, err := BuildUnset(paths)
	if err != nil {
		return jsonb.Mutation{}, err
	}
	return u.Mutation(), nil
}
