package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
)

// SQLite keeps the watermark in a local SQLite file, for replicas whose
// destination database should not hold bookkeeping tables.
type SQLite struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path, table string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if table == "" {
		table = DefaultTable
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps the watermark serialized.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db, table: quote(table)}, nil
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLite) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seconds INTEGER NOT NULL,
	ordinal INTEGER NOT NULL
)`, s.table))
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Latest(ctx context.Context) (oplog.Timestamp, error) {
	var seconds, ordinal int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT seconds, ordinal FROM %s LIMIT 1", s.table)).Scan(&seconds, &ordinal)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (seconds, ordinal) VALUES (0, 0)", s.table))
		if err != nil {
			return oplog.Timestamp{}, fmt.Errorf("populate progress: %w", err)
		}
		return oplog.Timestamp{}, nil
	}
	if err != nil {
		return oplog.Timestamp{}, fmt.Errorf("read progress: %w", err)
	}
	return oplog.Timestamp{Seconds: uint32(seconds), Ordinal: uint32(ordinal)}, nil
}

func (s *SQLite) Record(ctx context.Context, ts oplog.Timestamp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET seconds = ?, ordinal = ?", s.table), ts.Seconds, ts.Ordinal)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record progress: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (seconds, ordinal) VALUES (?, ?)", s.table), ts.Seconds, ts.Ordinal); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record progress: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit progress: %w", err)
	}
	return nil
}
