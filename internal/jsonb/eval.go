package jsonb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

// ErrNullDocument is returned when a mutation would store SQL NULL.
var ErrNullDocument = errors.New("mutation produced a NULL document")

// sqlNull distinguishes SQL NULL from JSON null (which decodes to nil).
type sqlNull struct{}

var missing = sqlNull{}

// Apply evaluates m against the serialized document doc and returns the
// serialized result, following PostgreSQL's jsonb function semantics.
func (m Mutation) Apply(doc []byte) ([]byte, error) {
	current, err := decode(doc)
	if err != nil {
		return nil, err
	}
	for i, step := range m.Steps {
		current, err = Eval(step, current)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if current == missing {
			return nil, fmt.Errorf("step %d: %w", i, ErrNullDocument)
		}
	}
	return json.Marshal(current)
}

// Eval evaluates e with Doc bound to doc. Values are decoded JSON
// (map[string]any, []any, json.Number, string, bool, nil).
func Eval(e Expr, doc any) (any, error) {
	switch n := e.(type) {
	case Doc:
		return doc, nil
	case Literal:
		return decode([]byte(n.JSON))
	case Get:
		target, err := Eval(n.Target, doc)
		if err != nil {
			return nil, err
		}
		return getPath(target, n.Path), nil
	case Set:
		target, err := Eval(n.Target, doc)
		if err != nil {
			return nil, err
		}
		value, err := Eval(n.Value, doc)
		if err != nil {
			return nil, err
		}
		if target == missing || value == missing {
			return missing, nil
		}
		if !isContainer(target) {
			return nil, errors.New("cannot set path in scalar")
		}
		if len(n.Path) == 0 {
			return target, nil
		}
		return setPath(target, n.Path, 0, value)
	case Delete:
		target, err := Eval(n.Target, doc)
		if err != nil {
			return nil, err
		}
		if target == missing {
			return missing, nil
		}
		if !isContainer(target) {
			return nil, errors.New("cannot delete path in scalar")
		}
		if len(n.Path) == 0 {
			return target, nil
		}
		return deletePath(target, n.Path, 0)
	case Coalesce:
		left, err := Eval(n.Left, doc)
		if err != nil {
			return nil, err
		}
		if left != missing {
			return left, nil
		}
		return Eval(n.Right, doc)
	case NullIf:
		value, err := Eval(n.Expr, doc)
		if err != nil || value == missing {
			return value, err
		}
		other, err := Eval(n.Value, doc)
		if err != nil {
			return nil, err
		}
		if reflect.DeepEqual(value, other) {
			return missing, nil
		}
		return value, nil
	case Pad:
		value, err := Eval(n.Array, doc)
		if err != nil || value == missing {
			return value, err
		}
		arr, ok := value.([]any)
		if !ok {
			return nil, errors.New("cannot get array length of a non-array")
		}
		if len(arr) >= n.Length {
			return arr, nil
		}
		out := make([]any, n.Length)
		copy(out, arr)
		return out, nil
	case IfArray:
		subject, err := Eval(n.Subject, doc)
		if err != nil {
			return nil, err
		}
		if _, ok := subject.([]any); ok {
			return Eval(n.Then, doc)
		}
		return Eval(n.Else, doc)
	case IfLonger:
		subject, err := Eval(n.Subject, doc)
		if err != nil {
			return nil, err
		}
		if subject == missing {
			return Eval(n.Else, doc)
		}
		arr, ok := subject.([]any)
		if !ok {
			return nil, errors.New("cannot get array length of a non-array")
		}
		if len(arr) > n.Length {
			return Eval(n.Then, doc)
		}
		return Eval(n.Else, doc)
	default:
		return nil, fmt.Errorf("jsonb: unknown expression %T", e)
	}
}

// TypeOf mirrors jsonb_typeof; ok is false for SQL NULL.
func TypeOf(v any) (string, bool) {
	switch v.(type) {
	case sqlNull:
		return "", false
	case map[string]any:
		return "object", true
	case []any:
		return "array", true
	case string:
		return "string", true
	case json.Number, float64:
		return "number", true
	case bool:
		return "boolean", true
	default:
		return "null", true
	}
}

func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode jsonb: %w", err)
	}
	return v, nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// arrayIndex resolves a path element against an array of length n the way
// PostgreSQL does: negative indexes count from the end.
func arrayIndex(segment string, n int) (int, bool) {
	idx, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	if idx < 0 {
		idx += n
	}
	return idx, true
}

func getPath(v any, path Path) any {
	current := v
	for _, segment := range path {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[segment]
			if !ok {
				return missing
			}
			current = next
		case []any:
			idx, ok := arrayIndex(segment, len(c))
			if !ok || idx < 0 || idx >= len(c) {
				return missing
			}
			current = c[idx]
		default:
			return missing
		}
	}
	return current
}

func setPath(v any, path Path, level int, value any) (any, error) {
	last := level == len(path)-1
	switch c := v.(type) {
	case map[string]any:
		key := path[level]
		out := copyObject(c)
		if last {
			out[key] = value
			return out, nil
		}
		child, ok := c[key]
		if !ok {
			return c, nil
		}
		next, err := setPath(child, path, level+1, value)
		if err != nil {
			return nil, err
		}
		out[key] = next
		return out, nil
	case []any:
		raw, err := strconv.Atoi(path[level])
		if err != nil {
			return nil, fmt.Errorf("path element at position %d is not an integer: %q", level+1, path[level])
		}
		idx := raw
		if idx < 0 {
			idx += len(c)
		}
		switch {
		case idx < 0:
			if last {
				return append([]any{value}, c...), nil
			}
			return c, nil
		case idx >= len(c):
			if last {
				return append(copyArray(c), value), nil
			}
			return c, nil
		}
		out := copyArray(c)
		if last {
			out[idx] = value
			return out, nil
		}
		next, err := setPath(c[idx], path, level+1, value)
		if err != nil {
			return nil, err
		}
		out[idx] = next
		return out, nil
	default:
		return v, nil
	}
}

func deletePath(v any, path Path, level int) (any, error) {
	last := level == len(path)-1
	switch c := v.(type) {
	case map[string]any:
		key := path[level]
		child, ok := c[key]
		if !ok {
			return c, nil
		}
		out := copyObject(c)
		if last {
			delete(out, key)
			return out, nil
		}
		next, err := deletePath(child, path, level+1)
		if err != nil {
			return nil, err
		}
		out[key] = next
		return out, nil
	case []any:
		idx, ok := arrayIndex(path[level], len(c))
		if !ok {
			return nil, fmt.Errorf("path element at position %d is not an integer: %q", level+1, path[level])
		}
		if idx < 0 || idx >= len(c) {
			return c, nil
		}
		if last {
			out := make([]any, 0, len(c)-1)
			out = append(out, c[:idx]...)
			return append(out, c[idx+1:]...), nil
		}
		next, err := deletePath(c[idx], path, level+1)
		if err != nil {
			return nil, err
		}
		out := copyArray(c)
		out[idx] = next
		return out, nil
	default:
		return v, nil
	}
}

func copyObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyArray(a []any) []any {
	out := make([]any, len(a), len(a)+1)
	copy(out, a)
	return out
}
