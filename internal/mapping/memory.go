package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

// Row is one stored row of a Memory table.
type Row struct {
	UUID      uuid.UUID
	ID        string
	Document  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the row is soft-deleted.
func (r Row) Deleted() bool {
	return r.DeletedAt != nil
}

// Memory is an in-process Table with the same row semantics as the
// PostgreSQL table: soft-deleted rows are kept and never matched again.
// Updates are evaluated with jsonb.Mutation.Apply.
type Memory struct {
	Name string

	mu   sync.Mutex
	rows []*Row
	now  func() time.Time
}

// NewMemory returns an empty table.
func NewMemory(name string) *Memory {
	return &Memory{Name: name, now: time.Now}
}

// WithClock replaces the clock used for timestamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) live(id []byte) *Row {
	for _, r := range m.rows {
		if r.ID == string(id) && r.DeletedAt == nil {
			return r
		}
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, id, document []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if r := m.live(id); r != nil {
		r.Document = append([]byte(nil), document...)
		r.UpdatedAt = now
		return nil
	}
	m.rows = append(m.rows, &Row{
		UUID:      uuid.New(),
		ID:        string(id),
		Document:  append([]byte(nil), document...),
		CreatedAt: now,
		UpdatedAt: now,
	})
	return nil
}

func (m *Memory) Replace(_ context.Context, id, document []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.live(id); r != nil {
		r.Document = append([]byte(nil), document...)
		r.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) Update(_ context.Context, id []byte, mutation jsonb.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.live(id)
	if r == nil {
		return nil
	}
	doc, err := mutation.Apply(r.Document)
	if err != nil {
		return fmt.Errorf("update %s in %s: %w", id, m.Name, err)
	}
	r.Document = doc
	r.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SoftDelete(_ context.Context, id []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.live(id); r != nil {
		now := m.now()
		r.UpdatedAt = now
		r.DeletedAt = &now
	}
	return nil
}

// Document returns the live document for id.
func (m *Memory) Document(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.live([]byte(id)); r != nil {
		return append([]byte(nil), r.Document...), true
	}
	return nil, false
}

// Rows returns a copy of every row, deleted ones included, in insertion order.
func (m *Memory) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, len(m.rows))
	for i, r := range m.rows {
		out[i] = *r
	}
	return out
}

// Len returns the number of rows, deleted ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
