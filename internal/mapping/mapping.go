// Package mapping resolves change-log namespaces to destination tables.
package mapping

import (
	"context"
	"sort"
	"sync"

	"github.com/kartikbazzad/bunbase/replicator/internal/jsonb"
)

// Table is a destination table holding one replicated collection. Every
// method matches rows on (id, not deleted) and is a no-op when nothing
// matches. id and document are serialized JSON.
type Table interface {
	// Upsert inserts a live row for id or overwrites the document of the
	// existing live row.
	Upsert(ctx context.Context, id, document []byte) error
	// Replace stores document verbatim as the live row's document.
	Replace(ctx context.Context, id, document []byte) error
	// Update runs m against the live row's document.
	Update(ctx context.Context, id []byte, m jsonb.Mutation) error
	// SoftDelete marks the live row deleted.
	SoftDelete(ctx context.Context, id []byte) error
}

// Mapping maps namespaces such as "db.collection" to tables. It is safe for
// concurrent reads once built.
type Mapping struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// New returns an empty mapping.
func New() *Mapping {
	return &Mapping{tables: make(map[string]Table)}
}

// Add maps namespace to t, replacing any previous entry.
func (m *Mapping) Add(namespace string, t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[namespace] = t
}

// Lookup returns the table mapped to namespace.
func (m *Mapping) Lookup(namespace string) (Table, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[namespace]
	return t, ok
}

// Table returns the table mapped to namespace, or Discard when there is none.
func (m *Mapping) Table(namespace string) Table {
	if t, ok := m.Lookup(namespace); ok {
		return t
	}
	return Discard
}

// Namespaces returns the mapped namespaces in sorted order.
func (m *Mapping) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tables))
	for ns := range m.tables {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of mapped namespaces.
func (m *Mapping) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables)
}

// Discard is the table for unmapped namespaces. It accepts every mutation and
// stores nothing.
var Discard Table = discard{}

type discard struct{}

func (discard) Upsert(context.Context, []byte, []byte) error         { return nil }
func (discard) Replace(context.Context, []byte, []byte) error        { return nil }
func (discard) Update(context.Context, []byte, jsonb.Mutation) error { return nil }
func (discard) SoftDelete(context.Context, []byte) error             { return nil }
