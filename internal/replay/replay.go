// Package replay drives the change log into the replica: fetch entries
// after the watermark, apply them one at a time in log order, and advance
// the watermark after each successful apply.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kartikbazzad/bunbase/replicator/internal/document"
	"github.com/kartikbazzad/bunbase/replicator/internal/mapping"
	"github.com/kartikbazzad/bunbase/replicator/internal/metrics"
	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
	"github.com/kartikbazzad/bunbase/replicator/internal/progress"
	"github.com/kartikbazzad/bunbase/replicator/internal/source"
	apperrors "github.com/kartikbazzad/bunbase/replicator/pkg/errors"
	applog "github.com/kartikbazzad/bunbase/replicator/pkg/logger"
)

// Policy decides what happens to an entry that cannot be parsed or applied
// because the entry itself is malformed.
type Policy string

const (
	PolicyHalt Policy = "halt"
	PolicySkip Policy = "skip"
)

// State is the driver's position in its loop.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateApplying
	StateAdvancing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	case StateAdvancing:
		return "advancing"
	default:
		return "stopped"
	}
}

// ErrInvalidEntry wraps the error of a malformed entry that halted replay.
var ErrInvalidEntry = errors.New("invalid change-log entry")

// Config tunes the driver.
type Config struct {
	OnInvalid Policy
	// Follow keeps tailing once the log is drained. Without it Run returns
	// after the first pass.
	Follow bool
	// RetailInterval is the pause before re-opening a cursor that ended.
	RetailInterval time.Duration
}

// Status is a point-in-time view of the driver.
type Status struct {
	State     string          `json:"state"`
	Watermark oplog.Timestamp `json:"-"`
	Applied   int64           `json:"applied"`
	Skipped   int64           `json:"skipped"`
}

// Driver is the single sequential replay worker.
type Driver struct {
	source     source.Source
	mapping    *mapping.Mapping
	tracker    progress.Tracker
	cfg        Config
	logger     *slog.Logger
	classifier *apperrors.Classifier

	state   atomic.Int32
	applied atomic.Int64
	skipped atomic.Int64

	mu        sync.RWMutex
	watermark oplog.Timestamp
}

// New creates a driver. A nil logger discards output.
func New(src source.Source, m *mapping.Mapping, tracker progress.Tracker, cfg Config, logger *slog.Logger) *Driver {
	if cfg.OnInvalid == "" {
		cfg.OnInvalid = PolicyHalt
	}
	if cfg.RetailInterval <= 0 {
		cfg.RetailInterval = time.Second
	}
	if logger == nil {
		logger = applog.Discard()
	}
	return &Driver{
		source:     src,
		mapping:    m,
		tracker:    tracker,
		cfg:        cfg,
		logger:     logger,
		classifier: apperrors.NewClassifier(oplog.IsInvalid),
	}
}

// State returns the current loop state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Status reports state, watermark and counters.
func (d *Driver) Status() Status {
	d.mu.RLock()
	wm := d.watermark
	d.mu.RUnlock()
	return Status{
		State:     d.State().String(),
		Watermark: wm,
		Applied:   d.applied.Load(),
		Skipped:   d.skipped.Load(),
	}
}

func (d *Driver) advance(ts oplog.Timestamp) {
	d.mu.Lock()
	d.watermark = ts
	d.mu.Unlock()
	metrics.Watermark.Set(float64(ts.Seconds))
}

// Run replays until ctx is cancelled, the log is drained without Follow,
// or an error halts the driver. Cancellation returns nil.
func (d *Driver) Run(ctx context.Context) error {
	d.setState(StateIdle)
	defer d.setState(StateStopped)

	wm, err := d.tracker.Latest(ctx)
	if err != nil {
		return d.stop(ctx, fmt.Errorf("read watermark: %w", err))
	}
	d.advance(wm)
	d.logger.Info("Replay starting", "watermark", wm.String(), "policy", string(d.cfg.OnInvalid))

	// position may run ahead of the watermark when entries are skipped.
	position := wm
	for {
		position, err = d.drain(ctx, position)
		if err != nil {
			return d.stop(ctx, err)
		}
		if !d.cfg.Follow {
			d.logger.Info("Replay drained", "watermark", d.Status().Watermark.String())
			return nil
		}

		d.setState(StateFetching)
		timer := time.NewTimer(d.cfg.RetailInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return d.stop(ctx, ctx.Err())
		case <-timer.C:
		}
	}
}

func (d *Driver) stop(ctx context.Context, err error) error {
	if ctx.Err() != nil && d.classifier.Classify(err) == apperrors.ErrorCanceled {
		d.logger.Info("Replay stopped", "watermark", d.Status().Watermark.String())
		return nil
	}
	d.logger.Error("Replay halted", "error", err, "watermark", d.Status().Watermark.String())
	return err
}

// drain applies every entry after position and returns the new position.
func (d *Driver) drain(ctx context.Context, position oplog.Timestamp) (oplog.Timestamp, error) {
	d.setState(StateFetching)
	cur, err := d.source.Tail(ctx, position)
	if err != nil {
		return position, fmt.Errorf("tail after %s: %w", position, err)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	for cur.Next(ctx) {
		raw, err := cur.Record()
		if err != nil {
			return position, fmt.Errorf("decode entry after %s: %w", position, err)
		}

		d.setState(StateApplying)
		op, err := d.applyRecord(ctx, raw)
		if err != nil {
			if d.classifier.Classify(err) != apperrors.ErrorInvalid {
				return position, err
			}
			if d.cfg.OnInvalid != PolicySkip {
				return position, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
			}
			d.skip(raw, err)
			if ts, ok := source.TimestampOf(raw); ok && ts.After(position) {
				position = ts
			}
			d.setState(StateFetching)
			continue
		}

		d.setState(StateAdvancing)
		if err := d.tracker.Record(ctx, op.Timestamp()); err != nil {
			return position, fmt.Errorf("record watermark %s: %w", op.Timestamp(), err)
		}
		position = op.Timestamp()
		d.advance(position)
		d.applied.Add(1)
		d.logger.Debug("Watermark advanced", "watermark", position.String(), "kind", op.Kind(), "ns", op.Namespace())
		d.setState(StateFetching)
	}
	if err := cur.Err(); err != nil {
		return position, fmt.Errorf("read change log: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return position, err
	}
	return position, nil
}

func (d *Driver) applyRecord(ctx context.Context, raw bson.D) (oplog.Operation, error) {
	op, err := oplog.Parse(raw)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = op.Apply(ctx, d.mapping)
	metrics.ApplyDuration.WithLabelValues(op.Kind()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(op.Kind(), "failed").Inc()
		return nil, fmt.Errorf("apply %s %d at %s: %w", op.Kind(), op.ID(), op.Timestamp(), err)
	}
	metrics.OperationsTotal.WithLabelValues(op.Kind(), "applied").Inc()
	return op, nil
}

func (d *Driver) skip(raw bson.D, err error) {
	d.skipped.Add(1)
	metrics.SkippedTotal.Inc()

	attrs := []any{"error", err}
	if v, ok := document.Lookup(raw, oplog.FieldID); ok {
		attrs = append(attrs, "op_id", v)
	}
	if ts, ok := source.TimestampOf(raw); ok {
		attrs = append(attrs, "ts", ts.String())
	}
	d.logger.Error("Skipping invalid entry", attrs...)
}
