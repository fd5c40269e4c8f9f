// Package source reads raw change-log records.
package source

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kartikbazzad/bunbase/replicator/internal/document"
	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
)

// Cursor iterates records in change-log order.
type Cursor interface {
	// Next advances to the next record. On a tailing cursor it blocks until
	// a record arrives, ctx is done or the cursor dies. It returns false when
	// iteration stopped; Err tells why.
	Next(ctx context.Context) bool
	// Record decodes the current record.
	Record() (bson.D, error)
	Err() error
	Close(ctx context.Context) error
}

// Source is a change log.
type Source interface {
	// Tail returns the records whose timestamp is strictly after after.
	Tail(ctx context.Context, after oplog.Timestamp) (Cursor, error)
	// Head returns the timestamp of the newest record, or the zero
	// timestamp when the log is empty.
	Head(ctx context.Context) (oplog.Timestamp, error)
}

// Slice is an in-memory change log. Its cursors stop at the end of the
// records present when Next is called rather than waiting for more.
type Slice struct {
	mu      sync.Mutex
	records []bson.D
}

// NewSlice returns a log holding records.
func NewSlice(records ...bson.D) *Slice {
	return &Slice{records: records}
}

// Append adds records to the end of the log.
func (s *Slice) Append(records ...bson.D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

func (s *Slice) snapshot() []bson.D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bson.D(nil), s.records...)
}

func (s *Slice) Tail(_ context.Context, after oplog.Timestamp) (Cursor, error) {
	var out []bson.D
	for _, r := range s.snapshot() {
		if ts, ok := TimestampOf(r); !ok || ts.After(after) {
			out = append(out, r)
		}
	}
	return &sliceCursor{records: out, pos: -1}, nil
}

func (s *Slice) Head(context.Context) (oplog.Timestamp, error) {
	var head oplog.Timestamp
	for _, r := range s.snapshot() {
		if ts, ok := TimestampOf(r); ok && ts.After(head) {
			head = ts
		}
	}
	return head, nil
}

// TimestampOf reads the ts field of a raw record. Slice delivers records
// without a readable timestamp unconditionally so that the parser reports
// them.
func TimestampOf(r bson.D) (oplog.Timestamp, bool) {
	v, ok := document.Lookup(r, oplog.FieldTimestamp)
	if !ok {
		return oplog.Timestamp{}, false
	}
	ts, ok := v.(primitive.Timestamp)
	if !ok {
		return oplog.Timestamp{}, false
	}
	return oplog.FromPrimitive(ts), true
}

type sliceCursor struct {
	records []bson.D
	pos     int
	err     error
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Record() (bson.D, error) {
	return c.records[c.pos], nil
}

func (c *sliceCursor) Err() error { return c.err }

func (c *sliceCursor) Close(context.Context) error { return nil }
