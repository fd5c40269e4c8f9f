// Package importer copies existing collections into their replica tables
// before replay starts.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunbase/replicator/internal/document"
	"github.com/kartikbazzad/bunbase/replicator/internal/metrics"
	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
	"github.com/kartikbazzad/bunbase/replicator/internal/postgres"
	"github.com/kartikbazzad/bunbase/replicator/internal/progress"
	"github.com/kartikbazzad/bunbase/replicator/internal/source"
	applog "github.com/kartikbazzad/bunbase/replicator/pkg/logger"
)

const (
	DefaultWorkers   = 4
	DefaultBatchSize = 100
)

// Snapshotter reads whole collections and the newest change-log position.
type Snapshotter interface {
	Snapshot(ctx context.Context, namespace string) (source.Cursor, error)
	Head(ctx context.Context) (oplog.Timestamp, error)
}

// Writer stores a batch of documents. postgres.Table implements it.
type Writer interface {
	UpsertBatch(ctx context.Context, docs []postgres.Document) error
}

// Target pairs a namespace with the table it is copied into.
type Target struct {
	Namespace string
	Writer    Writer
}

// Config tunes an import.
type Config struct {
	Workers   int `mapstructure:"workers"`
	BatchSize int `mapstructure:"batchsize"`
}

// Result is the outcome for one namespace.
type Result struct {
	Namespace string
	Documents int
	Err       error
}

// Importer runs snapshot copies on a bounded pool.
type Importer struct {
	src     Snapshotter
	tracker progress.Tracker
	cfg     Config
	logger  *slog.Logger
}

// New creates an importer. With a nil tracker the captured head is
// returned but not recorded.
func New(src Snapshotter, tracker progress.Tracker, cfg Config, logger *slog.Logger) *Importer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = applog.Discard()
	}
	return &Importer{src: src, tracker: tracker, cfg: cfg, logger: logger}
}

// Run copies every target. The change-log head is read before any copy
// starts and is recorded as the watermark only when all targets succeed,
// so replay afterwards re-applies whatever changed during the copy.
func (im *Importer) Run(ctx context.Context, targets []Target) (oplog.Timestamp, []Result, error) {
	head, err := im.src.Head(ctx)
	if err != nil {
		return oplog.Timestamp{}, nil, fmt.Errorf("read change-log head: %w", err)
	}
	im.logger.Info("Import starting", "namespaces", len(targets), "head", head.String())

	pool, err := ants.NewPool(im.cfg.Workers, ants.WithPanicHandler(func(v any) {
		im.logger.Error("Import worker panic", "panic", v)
	}))
	if err != nil {
		return head, nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		results[i].Namespace = target.Namespace
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			n, err := im.copy(ctx, target)
			results[i].Documents = n
			results[i].Err = err
		})
		if err != nil {
			wg.Done()
			results[i].Err = fmt.Errorf("submit %s: %w", target.Namespace, err)
		}
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		im.logger.Info("Namespace imported", "ns", r.Namespace, "documents", r.Documents)
	}
	if err := errors.Join(errs...); err != nil {
		return head, results, err
	}

	if im.tracker != nil {
		if err := im.tracker.Record(ctx, head); err != nil {
			return head, results, fmt.Errorf("record watermark %s: %w", head, err)
		}
	}
	return head, results, nil
}

func (im *Importer) copy(ctx context.Context, target Target) (int, error) {
	cur, err := im.src.Snapshot(ctx, target.Namespace)
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", target.Namespace, err)
	}
	defer cur.Close(context.WithoutCancel(ctx))

	total := 0
	batch := make([]postgres.Document, 0, im.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := target.Writer.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("import %s: %w", target.Namespace, err)
		}
		total += len(batch)
		metrics.ImportedDocuments.WithLabelValues(target.Namespace).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for cur.Next(ctx) {
		raw, err := cur.Record()
		if err != nil {
			return total, fmt.Errorf("decode %s document: %w", target.Namespace, err)
		}
		doc := document.Sanitize(raw)
		id, err := document.Identifier(doc)
		if err != nil {
			return total, fmt.Errorf("import %s: %w", target.Namespace, err)
		}
		body, err := document.Marshal(doc)
		if err != nil {
			return total, fmt.Errorf("import %s: %w", target.Namespace, err)
		}
		batch = append(batch, postgres.Document{ID: id, Body: body})
		if len(batch) >= im.cfg.BatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := cur.Err(); err != nil {
		return total, fmt.Errorf("read %s: %w", target.Namespace, err)
	}
	if err := ctx.Err(); err != nil {
		return total, err
	}
	return total, flush()
}
