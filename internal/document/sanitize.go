package document

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Sanitize strips NUL bytes from every string in d, keys included, at any
// depth. PostgreSQL rejects \u0000 inside jsonb text.
func Sanitize(d bson.D) bson.D {
	if d == nil {
		return nil
	}
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: stripNUL(e.Key), Value: SanitizeValue(e.Value)}
	}
	return out
}

// SanitizeValue is Sanitize for an arbitrary BSON value.
func SanitizeValue(v any) any {
	switch t := v.(type) {
	case bson.D:
		return Sanitize(t)
	case bson.M:
		out := make(bson.M, len(t))
		for k, val := range t {
			out[stripNUL(k)] = SanitizeValue(val)
		}
		return out
	case bson.A:
		out := make(bson.A, len(t))
		for i, val := range t {
			out[i] = SanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = SanitizeValue(val)
		}
		return out
	case string:
		return stripNUL(t)
	default:
		return v
	}
}

func stripNUL(s string) string {
	if strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
