package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

const liveRow = "id = $1::jsonb AND deleted_at IS NULL"

// Table is a replica table. Rows are matched on (id, deleted_at IS NULL),
// so soft-deleted rows are never touched again and their identifiers can be
// reused by a later insert.
type Table struct {
	exec  Executor
	ident pgx.Identifier
	name  string
	now   func() time.Time
}

// NewTable returns the table schema.name. An empty schema leaves the name
// unqualified.
func NewTable(exec Executor, schema, name string) *Table {
	ident := pgx.Identifier{name}
	if schema != "" {
		ident = pgx.Identifier{schema, name}
	}
	return &Table{
		exec:  exec,
		ident: ident,
		name:  ident.Sanitize(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for created_at, updated_at and
// deleted_at.
func (t *Table) WithClock(now func() time.Time) *Table {
	t.now = now
	return t
}

// Name returns the quoted, schema-qualified table name.
func (t *Table) Name() string {
	return t.name
}

// Identifier returns the table identifier.
func (t *Table) Identifier() pgx.Identifier {
	return t.ident
}

func (t *Table) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (uuid, id, document, created_at, updated_at)
VALUES ($1, $2::jsonb, $3::jsonb, $4, $4)
ON CONFLICT (id) WHERE deleted_at IS NULL
DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`, t.name)
}

func (t *Table) Upsert(ctx context.Context, id, document []byte) error {
	_, err := t.exec.Exec(ctx, t.upsertSQL(), uuid.New(), string(id), string(document), t.now())
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", t.name, err)
	}
	return nil
}

func (t *Table) Replace(ctx context.Context, id, document []byte) error {
	sql := fmt.Sprintf(`UPDATE %s SET document = $3::jsonb, updated_at = $2 WHERE %s`, t.name, liveRow)
	if _, err := t.exec.Exec(ctx, sql, string(id), t.now(), string(document)); err != nil {
		return fmt.Errorf("replace in %s: %w", t.name, err)
	}
	return nil
}

func (t *Table) Update(ctx context.Context, id []byte, m jsonb.Mutation) error {
	args := jsonb.NewArgs(string(id), t.now())
	sql := fmt.Sprintf(`UPDATE %s SET document = %s, updated_at = $2 WHERE %s`, t.name, m.SQL("document", args), liveRow)
	if _, err := t.exec.Exec(ctx, sql, args.Values()...); err != nil {
		return fmt.Errorf("update in %s: %w", t.name, err)
	}
	return nil
}

func (t *Table) SoftDelete(ctx context.Context, id []byte) error {
	sql := fmt.Sprintf(`UPDATE %s SET updated_at = $2, deleted_at = $2 WHERE %s`, t.name, liveRow)
	if _, err := t.exec.Exec(ctx, sql, string(id), t.now()); err != nil {
		return fmt.Errorf("soft delete in %s: %w", t.name, err)
	}
	return nil
}

// Document is one row of a bulk copy.
type Document struct {
	ID   []byte
	Body []byte
}

// UpsertBatch upserts docs in a single round trip.
func (t *Table) UpsertBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	sql := t.upsertSQL()
	now := t.now()
	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(sql, uuid.New(), string(d.ID), string(d.Body), now)
	}

	results := t.exec.SendBatch(ctx, batch)
	for i := range docs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch upsert into %s, row %d: %w", t.name, i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("batch upsert into %s: %w", t.name, err)
	}
	return nil
}
