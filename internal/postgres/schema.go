package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TableDDL returns the statements creating a replica table and its live-row
// index. They are idempotent.
func TableDDL(schema, name string) []string {
	table := NewTable(nil, schema, name).Name()
	index := pgx.Identifier{name + "_live_id_idx"}.Sanitize()

	var stmts []string
	if schema != "" {
		stmts = append(stmts, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize()))
	}
	return append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    uuid uuid PRIMARY KEY,
    id jsonb NOT NULL,
    document jsonb NOT NULL,
    created_at timestamp without time zone NOT NULL,
    updated_at timestamp without time zone NOT NULL,
    deleted_at timestamp without time zone,
    UNIQUE (id, deleted_at)
)`, table),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (id) WHERE deleted_at IS NULL", index, table),
	)
}

// CreateTable runs TableDDL.
func CreateTable(ctx context.Context, exec Executor, schema, name string) error {
	for _, stmt := range TableDDL(schema, name) {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s.%s: %w", schema, name, err)
		}
	}
	return nil
}
