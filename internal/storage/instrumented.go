package storage

import (
	"context"
	"time"

	"github.com/hyperjump/docgate/internal/metrics"
	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Instrument wraps s so every collection call records its latency.
func Instrument(s Storage) Storage {
	return &instrumented{Storage: s}
}

type instrumented struct {
	Storage
}

func (s *instrumented) Collection(ref Ref) Collection {
	return &instrumentedCollection{next: s.Storage.Collection(ref)}
}

func (s *instrumented) CollectionExists(ctx context.Context, ref Ref) (bool, error) {
	defer observe("collection_exists", time.Now())
	return s.Storage.CollectionExists(ctx, ref)
}

type instrumentedCollection struct {
	next Collection
}

func observe(op string, start time.Time) {
	metrics.ObserveStore(op, time.Since(start))
}

func (c *instrumentedCollection) Find(ctx context.Context, filter bson.D, opts FindOptions) ([]models.Document, error) {
	defer observe("find", time.Now())
	return c.next.Find(ctx, filter, opts)
}

func (c *instrumentedCollection) FindOne(ctx context.Context, filter bson.D) (models.Document, error) {
	defer observe("find_one", time.Now())
	return c.next.FindOne(ctx, filter)
}

func (c *instrumentedCollection) Count(ctx context.Context, filter bson.D) (int64, error) {
	defer observe("count", time.Now())
	return c.next.Count(ctx, filter)
}

func (c *instrumentedCollection) Distinct(ctx context.Context, field string, filter bson.D) ([]interface{}, error) {
	defer observe("distinct", time.Now())
	return c.next.Distinct(ctx, field, filter)
}

func (c *instrumentedCollection) InsertOne(ctx context.Context, doc models.Document) (interface{}, error) {
	defer observe("insert_one", time.Now())
	return c.next.InsertOne(ctx, doc)
}

func (c *instrumentedCollection) InsertMany(ctx context.Context, docs []models.Document) error {
	defer observe("insert_many", time.Now())
	return c.next.InsertMany(ctx, docs)
}

func (c *instrumentedCollection) UpdateOne(ctx context.Context, filter bson.D, set models.Document) (UpdateResult, error) {
	defer observe("update_one", time.Now())
	return c.next.UpdateOne(ctx, filter, set)
}

func (c *instrumentedCollection) BulkUpdate(ctx context.Context, ops []UpdateOp) (UpdateResult, error) {
	defer observe("bulk_update", time.Now())
	return c.next.BulkUpdate(ctx, ops)
}

func (c *instrumentedCollection) DeleteOne(ctx context.Context, filter bson.D) (int64, error) {
	defer observe("delete_one", time.Now())
	return c.next.DeleteOne(ctx, filter)
}

func (c *instrumentedCollection) DeleteMany(ctx context.Context, filter bson.D) (int64, error) {
	defer observe("delete_many", time.Now())
	return c.next.DeleteMany(ctx, filter)
}
