// Package mongo reads the MongoDB replica-set oplog and collection snapshots.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kartikbazzad/bunbase/replicator/internal/oplog"
	"github.com/kartikbazzad/bunbase/replicator/internal/source"
)

// Config holds connection settings.
type Config struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	// BatchSize is the cursor batch size; zero leaves the server default.
	BatchSize int32 `mapstructure:"batchsize"`
}

// Oplog is a source.Source over local.oplog.rs.
type Oplog struct {
	client *driver.Client
	coll   *driver.Collection
	batch  int32
}

// Connect dials cfg.URI and pings the primary.
func Connect(ctx context.Context, cfg Config) (*Oplog, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "local"
	}
	if cfg.Collection == "" {
		cfg.Collection = "oplog.rs"
	}

	client, err := driver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Oplog{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		batch:  cfg.BatchSize,
	}, nil
}

// Close disconnects the client.
func (o *Oplog) Close(ctx context.Context) error {
	return o.client.Disconnect(ctx)
}

// Tail opens a tailable, awaiting cursor on entries after the watermark. The
// cursor never times out on the server.
func (o *Oplog) Tail(ctx context.Context, after oplog.Timestamp) (source.Cursor, error) {
	filter := bson.D{{Key: oplog.FieldTimestamp, Value: bson.D{{Key: "$gt", Value: after.Primitive()}}}}
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true)
	if o.batch > 0 {
		opts.SetBatchSize(o.batch)
	}
	cur, err := o.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("tail oplog after %s: %w", after, err)
	}
	return &cursor{cur: cur}, nil
}

// Head returns the newest oplog timestamp.
func (o *Oplog) Head(ctx context.Context) (oplog.Timestamp, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "$natural", Value: -1}}).
		SetProjection(bson.D{{Key: oplog.FieldTimestamp, Value: 1}})
	var entry struct {
		TS primitive.Timestamp `bson:"ts"`
	}
	err := o.coll.FindOne(ctx, bson.D{}, opts).Decode(&entry)
	if errors.Is(err, driver.ErrNoDocuments) {
		return oplog.Timestamp{}, nil
	}
	if err != nil {
		return oplog.Timestamp{}, fmt.Errorf("read oplog head: %w", err)
	}
	return oplog.FromPrimitive(entry.TS), nil
}

// Snapshot iterates every document of the collection named by namespace
// ("database.collection").
func (o *Oplog) Snapshot(ctx context.Context, namespace string) (source.Cursor, error) {
	db, coll, ok := strings.Cut(namespace, ".")
	if !ok || db == "" || coll == "" {
		return nil, fmt.Errorf("invalid namespace %q", namespace)
	}
	opts := options.Find()
	if o.batch > 0 {
		opts.SetBatchSize(o.batch)
	}
	cur, err := o.client.Database(db).Collection(coll).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", namespace, err)
	}
	return &cursor{cur: cur}, nil
}

type cursor struct {
	cur *driver.Cursor
}

func (c *cursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c *cursor) Record() (bson.D, error) {
	var d bson.D
	if err := c.cur.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return d, nil
}

func (c *cursor) Err() error {
	return c.cur.Err()
}

func (c *cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
