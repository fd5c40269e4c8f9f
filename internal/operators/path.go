// Package operators compiles $set and $unset update operators into jsonb
// mutations.
//
// Dotted paths are ambiguous until the mutation runs: "a.1" is array index 1
// when a holds an array and the object key "1" otherwise. The compilers never
// guess. Every numeric segment becomes a jsonb.IfArray branch that the
// database resolves against the stored row.
package operators

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

// Separator splits dotted update paths.
const Separator = "."

var (
	// ErrInvalidPath is returned for paths that address nothing.
	ErrInvalidPath = errors.New("invalid update path")
	// ErrPathConflict is returned when one update both assigns a path and
	// descends into it.
	ErrPathConflict = errors.New("conflicting update paths")
)

// Segment is one element of a dotted path. Numeric is decided lexically:
// a segment made only of ASCII digits is a candidate array index regardless
// of what the document holds at that location.
type Segment struct {
	Name    string
	Index   int
	Numeric bool
}

// ParseSegment classifies s.
func ParseSegment(s string) (Segment, error) {
	if !isDigits(s) {
		return Segment{Name: s}, nil
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return Segment{}, fmt.Errorf("%w: index %q out of range", ErrInvalidPath, s)
	}
	return Segment{Name: s, Index: idx, Numeric: true}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Path is an immutable sequence of segments. Methods returning a Path always
// allocate, so prefixes handed to different tree branches never alias.
type Path []Segment

// ParsePath splits a dotted path such as "a.1.b".
func ParsePath(dotted string) (Path, error) {
	if dotted == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(dotted, Separator)
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		seg, err := ParseSegment(part)
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	return path, nil
}

// Prefix returns the first n segments.
func (p Path) Prefix(n int) Path {
	return append(Path{}, p[:n]...)
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return p.Prefix(len(p) - 1)
}

// Last returns the final segment.
func (p Path) Last() Segment {
	if len(p) == 0 {
		return Segment{}
	}
	return p[len(p)-1]
}

// IsIndex reports whether the final segment is numeric.
func (p Path) IsIndex() bool {
	return p.Last().Numeric
}

// JSONB converts p to the text[] form used by jsonb operators.
func (p Path) JSONB() jsonb.Path {
	out := make(jsonb.Path, len(p))
	for i, seg := range p {
		out[i] = seg.Name
	}
	return out
}

// String joins p back into dotted form.
func (p Path) String() string {
	names := make([]string, len(p))
	for i, seg := range p {
		names[i] = seg.Name
	}
	return strings.Join(names, Separator)
}

// padded is Doc with the array at parent extended with nulls so that index
// can be assigned without leaving holes.
func padded(parent Path, index int) jsonb.Expr {
	if index == 0 {
		return jsonb.Doc{}
	}
	p := parent.JSONB()
	return jsonb.Set{
		Target: jsonb.Doc{},
		Path:   p,
		Value:  jsonb.Pad{Array: jsonb.Get{Target: jsonb.Doc{}, Path: p}, Length: index},
	}
}
