package oplog

import (
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ts = primitive.Timestamp{T: 1479561394, I: 2}

func insertRecord() bson.D {
	return bson.D{
		{Key: "ts", Value: ts},
		{Key: "t", Value: int64(1)},
		{Key: "h", Value: int64(-2135725856567446411)},
		{Key: "v", Value: int32(2)},
		{Key: "op", Value: "i"},
		{Key: "ns", Value: "foo.bar"},
		{Key: "o", Value: bson.D{{Key: "_id", Value: int32(1)}, {Key: "baz", Value: "quux"}}},
	}
}

func without(d bson.D, key string) bson.D {
	out := bson.D{}
	for _, e := range d {
		if e.Key != key {
			out = append(out, e)
		}
	}
	return out
}

func with(d bson.D, key string, value any) bson.D {
	out := without(d, key)
	return append(out, bson.E{Key: key, Value: value})
}

func TestParseInsert(t *testing.T) {
	op, err := Parse(insertRecord())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	insert, ok := op.(*Insert)
	if !ok {
		t.Fatalf("expected *Insert, got %T", op)
	}
	if insert.ID() != -2135725856567446411 {
		t.Errorf("ID() = %d", insert.ID())
	}
	if insert.Timestamp() != (Timestamp{Seconds: 1479561394, Ordinal: 2}) {
		t.Errorf("Timestamp() = %v", insert.Timestamp())
	}
	if insert.Namespace() != "foo.bar" || insert.Kind() != "insert" {
		t.Errorf("unexpected namespace/kind %q %q", insert.Namespace(), insert.Kind())
	}
	if len(insert.Document) != 2 {
		t.Errorf("unexpected document %v", insert.Document)
	}
}

func TestParseVariants(t *testing.T) {
	cases := []struct {
		name   string
		record bson.D
		want   string
	}{
		{"update", bson.D{
			{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "u"}, {Key: "ns", Value: "foo.bar"},
			{Key: "o2", Value: bson.D{{Key: "_id", Value: int32(1)}}},
			{Key: "o", Value: bson.D{{Key: "$set", Value: bson.D{{Key: "a", Value: int32(1)}}}}},
		}, "update"},
		{"delete", bson.D{
			{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "d"}, {Key: "ns", Value: "foo.bar"},
			{Key: "o", Value: bson.D{{Key: "_id", Value: int32(1)}}},
		}, "delete"},
		{"command", bson.D{
			{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "c"}, {Key: "ns", Value: "foo.$cmd"},
			{Key: "o", Value: bson.D{{Key: "create", Value: "bar"}}},
		}, "command"},
		{"noop", bson.D{
			{Key: "ts", Value: ts}, {Key: "h", Value: int32(1)}, {Key: "op", Value: "n"}, {Key: "ns", Value: ""},
			{Key: "o", Value: bson.D{{Key: "msg", Value: "initiating set"}}},
		}, "noop"},
		{"noop without namespace", bson.D{
			{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "n"},
			{Key: "o", Value: bson.D{{Key: "msg", Value: "periodic noop"}}},
		}, "noop"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op, err := Parse(tc.record)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if op.Kind() != tc.want {
				t.Errorf("Kind() = %q, want %q", op.Kind(), tc.want)
			}
		})
	}
}

func applyOpsRecord(embedded ...bson.D) bson.D {
	list := bson.A{}
	for _, e := range embedded {
		list = append(list, e)
	}
	return bson.D{
		{Key: "ts", Value: ts},
		{Key: "h", Value: int64(99)},
		{Key: "op", Value: "c"},
		{Key: "ns", Value: "foo.$cmd"},
		{Key: "o", Value: bson.D{{Key: "applyOps", Value: list}}},
	}
}

func TestParseApplyOps(t *testing.T) {
	second := with(insertRecord(), "h", int64(2))
	op, err := Parse(applyOpsRecord(insertRecord(), second))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	applyOps, ok := op.(*ApplyOps)
	if !ok {
		t.Fatalf("expected *ApplyOps, got %T", op)
	}
	if applyOps.ID() != 99 || len(applyOps.Operations) != 2 {
		t.Fatalf("unexpected applyOps %+v", applyOps)
	}
	if applyOps.Operations[1].ID() != 2 {
		t.Errorf("sub-operation lost its own id: %d", applyOps.Operations[1].ID())
	}
}

func TestParseApplyOpsWithInvalidEntry(t *testing.T) {
	_, err := Parse(applyOpsRecord(insertRecord(), without(insertRecord(), "o")))
	if !errors.Is(err, ErrInvalidApplyOps) {
		t.Errorf("expected ErrInvalidApplyOps, got %v", err)
	}
	if !errors.Is(err, ErrInvalidInsert) {
		t.Errorf("expected the embedded cause to be kept, got %v", err)
	}
}

func TestParseUnknownOp(t *testing.T) {
	record := with(insertRecord(), "op", "x")
	_, err := Parse(record)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || len(pe.Record) != len(record) {
		t.Errorf("expected the raw record on the error, got %#v", err)
	}
	if _, err := Parse(without(insertRecord(), "op")); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation for a missing op, got %v", err)
	}
}

func TestParseMissingFields(t *testing.T) {
	update := bson.D{
		{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "u"}, {Key: "ns", Value: "foo.bar"},
		{Key: "o2", Value: bson.D{{Key: "_id", Value: int32(1)}}},
		{Key: "o", Value: bson.D{{Key: "a", Value: int32(1)}}},
	}
	del := bson.D{
		{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "d"}, {Key: "ns", Value: "foo.bar"},
		{Key: "o", Value: bson.D{{Key: "_id", Value: int32(1)}}},
	}
	command := bson.D{
		{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "c"}, {Key: "ns", Value: "foo.$cmd"},
		{Key: "o", Value: bson.D{{Key: "drop", Value: "bar"}}},
	}
	noop := bson.D{
		{Key: "ts", Value: ts}, {Key: "h", Value: int64(1)}, {Key: "op", Value: "n"},
		{Key: "o", Value: bson.D{{Key: "msg", Value: "hi"}}},
	}

	cases := []struct {
		record bson.D
		field  string
		want   error
	}{
		{insertRecord(), "h", ErrInvalidInsert},
		{insertRecord(), "ts", ErrInvalidInsert},
		{insertRecord(), "ns", ErrInvalidInsert},
		{insertRecord(), "o", ErrInvalidInsert},
		{update, "o2", ErrInvalidUpdate},
		{update, "o", ErrInvalidUpdate},
		{del, "o", ErrInvalidDelete},
		{del, "ns", ErrInvalidDelete},
		{command, "o", ErrInvalidCommand},
		{command, "h", ErrInvalidCommand},
		{noop, "o", ErrInvalidNoop},
		{applyOpsRecord(insertRecord()), "ns", ErrInvalidApplyOps},
	}
	for _, tc := range cases {
		_, err := Parse(without(tc.record, tc.field))
		if !errors.Is(err, tc.want) {
			t.Errorf("missing %s: expected %v, got %v", tc.field, tc.want, err)
		}
	}

	_, err := Parse(with(noop, "o", bson.D{}))
	if !errors.Is(err, ErrInvalidNoop) {
		t.Errorf("missing msg: expected ErrInvalidNoop, got %v", err)
	}
}

func TestParseTypeErrors(t *testing.T) {
	cases := []struct {
		field string
		value any
	}{
		{"ts", int64(1)},
		{"h", "1"},
		{"ns", int32(1)},
		{"o", bson.A{}},
		{"op", int32(1)},
	}
	for _, tc := range cases {
		_, err := Parse(with(insertRecord(), tc.field, tc.value))
		if !errors.Is(err, ErrType) {
			t.Errorf("%s=%v: expected ErrType, got %v", tc.field, tc.value, err)
		}
		var te *TypeError
		if errors.As(err, &te) && te.Field != tc.field {
			t.Errorf("TypeError.Field = %q, want %q", te.Field, tc.field)
		}
	}

	record := applyOpsRecord()
	record = with(record, "o", bson.D{{Key: "applyOps", Value: "nope"}})
	if _, err := Parse(record); !errors.Is(err, ErrType) {
		t.Errorf("expected ErrType for a non-array applyOps, got %v", err)
	}
}

func TestEqualComparesIDs(t *testing.T) {
	a, err := Parse(insertRecord())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse(with(insertRecord(), "o", bson.D{{Key: "_id", Value: int32(2)}}))
	if err != nil {
		t.Fatal(err)
	}
	c, err := Parse(with(insertRecord(), "h", int64(5)))
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(a, b) {
		t.Error("expected operations with the same id to be equal")
	}
	if Equal(a, c) {
		t.Error("expected operations with different ids to differ")
	}
	if Equal(a, nil) {
		t.Error("expected nil to differ")
	}
}

func TestIsInvalid(t *testing.T) {
	_, err := Parse(with(insertRecord(), "op", "x"))
	if !IsInvalid(err) {
		t.Error("expected a parse error to be invalid")
	}
	_, err = Parse(with(insertRecord(), "ts", "x"))
	if !IsInvalid(err) {
		t.Error("expected a type error to be invalid")
	}
	if IsInvalid(errors.New("connection reset")) {
		t.Error("did not expect an I/O error to be invalid")
	}
}

func TestTimestampCompare(t *testing.T) {
	a := Timestamp{Seconds: 1, Ordinal: 5}
	b := Timestamp{Seconds: 2, Ordinal: 0}
	c := Timestamp{Seconds: 2, Ordinal: 1}
	if !b.After(a) || !c.After(b) || a.After(a) {
		t.Error("unexpected ordering")
	}
	if a.Compare(a) != 0 || a.Compare(c) != -1 || c.Compare(a) != 1 {
		t.Error("unexpected Compare")
	}
	if !(Timestamp{}).IsZero() || a.IsZero() {
		t.Error("unexpected IsZero")
	}
	if FromPrimitive(c.Primitive()) != c {
		t.Error("primitive conversion lost data")
	}
	if c.String() != "2:1" {
		t.Errorf("String() = %q", c.String())
	}
}
