// Package jsonb models document mutations as expression trees over a single
// jsonb value.
//
// A Mutation is an ordered list of steps. Every step is an Expr in which Doc
// stands for the document produced by the previous step (or the stored column
// for the first one). The tree is plain data: it is rendered to PostgreSQL by
// Mutation.SQL and evaluated in-process by Mutation.Apply, so compilers can be
// tested without a database.
package jsonb

// Path addresses a location inside a document, one element per nesting level,
// in the text[] form accepted by #>, #- and jsonb_set.
type Path []string

// Parent returns the path without its last element.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return append(Path{}, p[:len(p)-1]...)
}

// Child returns a new path extended by segment; p is never modified.
func (p Path) Child(segment string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, segment)
}

// Last returns the final element, or "" for the root path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Expr is one node of a mutation expression.
type Expr interface {
	isExpr()
}

// Doc is the document the current step operates on.
type Doc struct{}

// Literal is an already-serialized JSON value.
type Literal struct {
	JSON string
}

// Get extracts the value at Path (target #> path). Missing locations yield
// SQL NULL.
type Get struct {
	Target Expr
	Path   Path
}

// Set replaces or creates the value at Path (jsonb_set with create_missing).
type Set struct {
	Target Expr
	Path   Path
	Value  Expr
}

// Delete removes the value at Path (target #- path).
type Delete struct {
	Target Expr
	Path   Path
}

// Coalesce yields Left unless it is SQL NULL, in which case Right.
type Coalesce struct {
	Left  Expr
	Right Expr
}

// NullIf yields SQL NULL when Expr equals Value, Expr otherwise.
type NullIf struct {
	Expr  Expr
	Value Expr
}

// Pad extends the array Array with JSON nulls until it holds at least Length
// elements. Existing elements are never touched.
type Pad struct {
	Array  Expr
	Length int
}

// IfArray branches on jsonb_typeof(Subject) = 'array'.
type IfArray struct {
	Subject Expr
	Then    Expr
	Else    Expr
}

// IfLonger branches on jsonb_array_length(Subject) > Length. Subject must be
// an array; guard it with IfArray.
type IfLonger struct {
	Subject Expr
	Length  int
	Then    Expr
	Else    Expr
}

func (Doc) isExpr()      {}
func (Literal) isExpr()  {}
func (Get) isExpr()      {}
func (Set) isExpr()      {}
func (Delete) isExpr()   {}
func (Coalesce) isExpr() {}
func (NullIf) isExpr()   {}
func (Pad) isExpr()      {}
func (IfArray) isExpr()  {}
func (IfLonger) isExpr() {}

var (
	// Null is the JSON null literal.
	Null = Literal{JSON: "null"}
	// EmptyObject is the JSON {} literal.
	EmptyObject = Literal{JSON: "{}"}
)

// DefaultObject yields e, or {} when e is absent or JSON null.
func DefaultObject(e Expr) Expr {
	return Coalesce{Left: NullIf{Expr: e, Value: Null}, Right: EmptyObject}
}

// Mutation is an ordered sequence of steps applied to a document column.
type Mutation struct {
	Steps []Expr
}

// Then returns a mutation running m's steps followed by next's.
func (m Mutation) Then(next Mutation) Mutation {
	steps := make([]Expr, 0, len(m.Steps)+len(next.Steps))
	steps = append(steps, m.Steps...)
	steps = append(steps, next.Steps...)
	return Mutation{Steps: steps}
}

// Empty reports whether the mutation leaves the document untouched.
func (m Mutation) Empty() bool {
	return len(m.Steps) == 0
}
