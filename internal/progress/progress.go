// Package progress persists the replay watermark: the timestamp of the last
// change-log entry fully applied to the replica.
package progress

import (
	"context"
	"sync"

	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
)

// DefaultTable is the watermark table name.
const DefaultTable = "replicator_progress"

// Tracker stores a single watermark. Latest returns the zero timestamp and
// writes it back when nothing has been recorded yet.
type Tracker interface {
	// Init creates the watermark table if it does not exist.
	Init(ctx context.Context) error
	Latest(ctx context.Context) (oplog.Timestamp, error)
	Record(ctx context.Context, ts oplog.Timestamp) error
}

// Memory is a Tracker that lives for the process only.
type Memory struct {
	mu sync.Mutex
	ts oplog.Timestamp
}

// NewMemory returns a tracker starting at ts.
func NewMemory(ts oplog.Timestamp) *Memory {
	return &Memory{ts: ts}
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) Latest(context.Context) (oplog.Timestamp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts, nil
}

func (m *Memory) Record(_ context.Context, ts oplog.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ts = ts
	return nil
}
