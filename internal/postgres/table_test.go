package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

type statement struct {
	sql  string
	args []any
}

// recorder captures statements instead of running them.
type recorder struct {
	stmts []statement
	err   error
}

func (r *recorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, statement{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), r.err
}

func (r *recorder) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected QueryRow")
}

func (r *recorder) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		r.stmts = append(r.stmts, statement{sql: q.SQL, args: q.Arguments})
	}
	return &batchResults{n: len(b.QueuedQueries), err: r.err}
}

type batchResults struct {
	n      int
	err    error
	closed bool
}

func (b *batchResults) Exec() (pgconn.CommandTag, error) {
	b.n--
	return pgconn.NewCommandTag("INSERT 0 1"), b.err
}
func (b *batchResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (b *batchResults) QueryRow() pgx.Row        { return nil }
func (b *batchResults) Close() error {
	b.closed = true
	return nil
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestTable(r *recorder) *Table {
	return NewTable(r, "public", "foo_bar").WithClock(func() time.Time { return now })
}

func TestTableName(t *testing.T) {
	if got := NewTable(nil, "public", "foo_bar").Name(); got != `"public"."foo_bar"` {
		t.Errorf("Name() = %s", got)
	}
	if got := NewTable(nil, "", `we"ird`).Name(); got != `"we""ird"` {
		t.Errorf("Name() = %s", got)
	}
}

func TestUpsert(t *testing.T) {
	r := &recorder{}
	if err := newTestTable(r).Upsert(context.Background(), []byte("1"), []byte(`{"_id":1}`)); err != nil {
		t.Fatal(err)
	}
	if len(r.stmts) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(r.stmts))
	}
	s := r.stmts[0]
	for _, want := range []string{
		`INSERT INTO "public"."foo_bar"`,
		"ON CONFLICT (id) WHERE deleted_at IS NULL",
		"document = EXCLUDED.document",
		"updated_at = EXCLUDED.updated_at",
	} {
		if !strings.Contains(s.sql, want) {
			t.Errorf("statement missing %q:\n%s", want, s.sql)
		}
	}
	if _, ok := s.args[0].(uuid.UUID); !ok {
		t.Errorf("expected a uuid first, got %T", s.args[0])
	}
	if s.args[1] != "1" || s.args[2] != `{"_id":1}` || s.args[3] != now {
		t.Errorf("unexpected args %#v", s.args)
	}
}

func TestReplaceAndSoftDeleteMatchLiveRows(t *testing.T) {
	r := &recorder{}
	table := newTestTable(r)
	ctx := context.Background()
	if err := table.Replace(ctx, []byte(`"a"`), []byte(`{"_id":"a"}`)); err != nil {
		t.Fatal(err)
	}
	if err := table.SoftDelete(ctx, []byte(`"a"`)); err != nil {
		t.Fatal(err)
	}
	for _, s := range r.stmts {
		if !strings.HasSuffix(s.sql, "WHERE id = $1::jsonb AND deleted_at IS NULL") {
			t.Errorf("statement does not target the live row:\n%s", s.sql)
		}
		if s.args[0] != `"a"` || s.args[1] != now {
			t.Errorf("unexpected args %#v", s.args)
		}
	}
	if !strings.Contains(r.stmts[1].sql, "deleted_at = $2") {
		t.Errorf("soft delete does not set deleted_at:\n%s", r.stmts[1].sql)
	}
}

func TestUpdateEmbedsMutation(t *testing.T) {
	r := &recorder{}
	m := jsonb.Mutation{Steps: []jsonb.Expr{jsonb.Delete{Target: jsonb.Doc{}, Path: jsonb.Path{"a"}}}}
	if err := newTestTable(r).Update(context.Background(), []byte("1"), m); err != nil {
		t.Fatal(err)
	}
	s := r.stmts[0]
	want := `UPDATE "public"."foo_bar" SET document = (SELECT (s0.doc #- $3::text[]) AS doc FROM (SELECT document AS doc) AS s0), ` +
		`updated_at = $2 WHERE id = $1::jsonb AND deleted_at IS NULL`
	if s.sql != want {
		t.Errorf("got  %s\nwant %s", s.sql, want)
	}
	if len(s.args) != 3 {
		t.Fatalf("expected 3 args, got %#v", s.args)
	}
}

func TestTableErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	r := &recorder{err: boom}
	err := newTestTable(r).SoftDelete(context.Background(), []byte("1"))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestUpsertBatch(t *testing.T) {
	r := &recorder{}
	table := newTestTable(r)
	docs := []Document{
		{ID: []byte("1"), Body: []byte(`{"_id":1}`)},
		{ID: []byte("2"), Body: []byte(`{"_id":2}`)},
	}
	if err := table.UpsertBatch(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	if len(r.stmts) != 2 {
		t.Fatalf("expected 2 queued statements, got %d", len(r.stmts))
	}
	if r.stmts[1].args[1] != "2" {
		t.Errorf("unexpected args %#v", r.stmts[1].args)
	}
	if err := table.UpsertBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestUpsertBatchFailure(t *testing.T) {
	boom := errors.New("unique violation")
	r := &recorder{err: boom}
	err := newTestTable(r).UpsertBatch(context.Background(), []Document{{ID: []byte("1"), Body: []byte(`{}`)}})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestTableDDL(t *testing.T) {
	stmts := TableDDL("replica", "foo_bar")
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(stmts))
	}
	if stmts[0] != `CREATE SCHEMA IF NOT EXISTS "replica"` {
		t.Errorf("unexpected schema statement %s", stmts[0])
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "replica"."foo_bar"`,
		"uuid uuid PRIMARY KEY",
		"id jsonb NOT NULL",
		"deleted_at timestamp without time zone,",
		"UNIQUE (id, deleted_at)",
	} {
		if !strings.Contains(stmts[1], want) {
			t.Errorf("table statement missing %q", want)
		}
	}
	wantIndex := `CREATE UNIQUE INDEX IF NOT EXISTS "foo_bar_live_id_idx" ON "replica"."foo_bar" (id) WHERE deleted_at IS NULL`
	if stmts[2] != wantIndex {
		t.Errorf("got  %s\nwant %s", stmts[2], wantIndex)
	}

	if got := TableDDL("", "t"); len(got) != 2 {
		t.Errorf("expected no schema statement without a schema, got %d statements", len(got))
	}
}

func TestCreateTable(t *testing.T) {
	r := &recorder{}
	if err := CreateTable(context.Background(), r, "public", "foo_bar"); err != nil {
		t.Fatal(err)
	}
	if len(r.stmts) != 3 {
		t.Errorf("expected 3 statements, got %d", len(r.stmts))
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "rep", Password: "p/w+", Name: "replica"}
	if got := cfg.DSN(); got != "postgres://rep:p%2Fw%2B@db:5432/replica?sslmode=disable" {
		t.Errorf("DSN() = %s", got)
	}
	cfg.URL = "postgres://elsewhere/db"
	if cfg.DSN() != cfg.URL {
		t.Error("URL should take precedence")
	}
}
