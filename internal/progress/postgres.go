package progress

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
)

// Conn is the subset of *pgxpool.Pool the PostgreSQL tracker needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps the watermark in a single-row PostgreSQL table.
type Postgres struct {
	conn  Conn
	table string
}

// NewPostgres returns a tracker using schema.table.
func NewPostgres(conn Conn, schema, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	ident := pgx.Identifier{table}
	if schema != "" {
		ident = pgx.Identifier{schema, table}
	}
	return &Postgres{conn: conn, table: ident.Sanitize()}
}

func (p *Postgres) Init(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    seconds bigint NOT NULL,
    ordinal bigint NOT NULL
)`, p.table)
	if _, err := p.conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create progress table: %w", err)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context) (oplog.Timestamp, error) {
	var seconds, ordinal int64
	err := p.conn.QueryRow(ctx, fmt.Sprintf("SELECT seconds, ordinal FROM %s LIMIT 1", p.table)).Scan(&seconds, &ordinal)
	if errors.Is(err, pgx.ErrNoRows) {
		return oplog.Timestamp{}, p.populate(ctx)
	}
	if err != nil {
		return oplog.Timestamp{}, fmt.Errorf("read progress: %w", err)
	}
	return oplog.Timestamp{Seconds: uint32(seconds), Ordinal: uint32(ordinal)}, nil
}

func (p *Postgres) populate(ctx context.Context) error {
	sql := fmt.Sprintf("INSERT INTO %s (seconds, ordinal) SELECT 0, 0 WHERE NOT EXISTS (SELECT 1 FROM %s)", p.table, p.table)
	if _, err := p.conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("populate progress: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, ts oplog.Timestamp) error {
	tag, err := p.conn.Exec(ctx, fmt.Sprintf("UPDATE %s SET seconds = $1, ordinal = $2", p.table),
		int64(ts.Seconds), int64(ts.Ordinal))
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = p.conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s (seconds, ordinal) VALUES ($1, $2)", p.table),
		int64(ts.Seconds), int64(ts.Ordinal))
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}
