package oplog

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Timestamp is a change-log position: wall-clock seconds plus an ordinal
// distinguishing entries written within the same second.
type Timestamp struct {
	Seconds uint32
	Ordinal uint32
}

// FromPrimitive converts a BSON timestamp.
func FromPrimitive(ts primitive.Timestamp) Timestamp {
	return Timestamp{Seconds: ts.T, Ordinal: ts.I}
}

// Primitive converts t back to a BSON timestamp for source queries.
func (t Timestamp) Primitive() primitive.Timestamp {
	return primitive.Timestamp{T: t.Seconds, I: t.Ordinal}
}

// Compare returns -1, 0 or +1 depending on whether t sorts before, equal to
// or after other.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Seconds < other.Seconds:
		return -1
	case t.Seconds > other.Seconds:
		return 1
	case t.Ordinal < other.Ordinal:
		return -1
	case t.Ordinal > other.Ordinal:
		return 1
	}
	return 0
}

// After reports whether t sorts strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	return t.Compare(other) > 0
}

// IsZero reports whether t is the initial watermark.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// Time returns the wall-clock second of t.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds), 0).UTC()
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d:%d", t.Seconds, t.Ordinal)
}
