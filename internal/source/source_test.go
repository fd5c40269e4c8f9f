package source

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
)

func entry(seconds, ordinal uint32) bson.D {
	return bson.D{
		{Key: "ts", Value: primitive.Timestamp{T: seconds, I: ordinal}},
		{Key: "h", Value: int64(seconds)},
		{Key: "op", Value: "n"},
	}
}

func drain(t *testing.T, c Cursor) []bson.D {
	t.Helper()
	var out []bson.D
	for c.Next(context.Background()) {
		r, err := c.Record()
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
	}
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSliceTailIsStrictlyAfter(t *testing.T) {
	s := NewSlice(entry(1, 1), entry(1, 2), entry(2, 1))
	c, err := s.Tail(context.Background(), oplog.Timestamp{Seconds: 1, Ordinal: 2})
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, c)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if ts := got[0][0].Value.(primitive.Timestamp); ts.T != 2 {
		t.Errorf("unexpected record %v", got[0])
	}
}

func TestSliceAppendAndHead(t *testing.T) {
	ctx := context.Background()
	s := NewSlice()
	head, _ := s.Head(ctx)
	if !head.IsZero() {
		t.Errorf("expected zero head, got %v", head)
	}
	s.Append(entry(5, 1), entry(3, 1))
	head, _ = s.Head(ctx)
	if head != (oplog.Timestamp{Seconds: 5, Ordinal: 1}) {
		t.Errorf("Head() = %v", head)
	}
	c, _ := s.Tail(ctx, oplog.Timestamp{})
	if n := len(drain(t, c)); n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestSliceDeliversRecordsWithoutTimestamp(t *testing.T) {
	s := NewSlice(bson.D{{Key: "op", Value: "i"}})
	c, _ := s.Tail(context.Background(), oplog.Timestamp{Seconds: 100})
	if n := len(drain(t, c)); n != 1 {
		t.Errorf("expected the malformed record to be delivered, got %d", n)
	}
}

func TestSliceCursorHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, _ := NewSlice(entry(1, 1)).Tail(context.Background(), oplog.Timestamp{})
	if c.Next(ctx) {
		t.Error("expected Next to stop on a canceled context")
	}
	if c.Err() == nil {
		t.Error("expected the cancellation to be reported")
	}
}
