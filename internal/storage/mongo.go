package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStorage implements Storage on a MongoDB deployment.
type MongoStorage struct {
	client *mongo.Client
}

// NewMongoStorage connects to uri and verifies the connection within timeout.
func NewMongoStorage(ctx context.Context, uri string, timeout time.Duration) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &MongoStorage{client: client}, nil
}

func (s *MongoStorage) Collection(ref Ref) Collection {
	return &mongoCollection{coll: s.client.Database(ref.Database).Collection(ref.Collection)}
}

func (s *MongoStorage) CollectionExists(ctx context.Context, ref Ref) (bool, error) {
	names, err := s.client.Database(ref.Database).ListCollectionNames(ctx, bson.D{{Key: "name", Value: ref.Collection}})
	if err != nil {
		return false, apperr.Store(err, "list collections")
	}
	return len(names) > 0, nil
}

func (s *MongoStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
}

func nonNil(filter bson.D) bson.D {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

func (c *mongoCollection) Find(ctx context.Context, filter bson.D, opts FindOptions) ([]models.Document, error) {
	fo := options.Find()
	if len(opts.Projection) > 0 {
		proj := bson.D{}
		for _, f := range opts.Projection {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
		fo.SetProjection(proj)
	}
	if opts.Sort != nil {
		fo.SetSort(bson.D{{Key: opts.Sort.Field, Value: opts.Sort.Direction}})
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}

	cursor, err := c.coll.Find(ctx, nonNil(filter), fo)
	if err != nil {
		return nil, apperr.Store(err, "find")
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	for cursor.Next(ctx) {
		var m bson.M
		if err := cursor.Decode(&m); err != nil {
			return nil, apperr.Store(err, "decode")
		}
		docs = append(docs, models.Document(fromBSON(m).(map[string]interface{})))
	}
	return docs, apperr.Store(cursor.Err(), "find")
}

func (c *mongoCollection) FindOne(ctx context.Context, filter bson.D) (models.Document, error) {
	var m bson.M
	err := c.coll.FindOne(ctx, nonNil(filter)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("document not found")
	}
	if err != nil {
		return nil, apperr.Store(err, "find one")
	}
	return models.Document(fromBSON(m).(map[string]interface{})), nil
}

func (c *mongoCollection) Count(ctx context.Context, filter bson.D) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, nonNil(filter))
	return n, apperr.Store(err, "count")
}

func (c *mongoCollection) Distinct(ctx context.Context, field string, filter bson.D) ([]interface{}, error) {
	values, err := c.coll.Distinct(ctx, field, nonNil(filter))
	if err != nil {
		return nil, apperr.Store(err, "distinct")
	}
	for i, v := range values {
		values[i] = fromBSON(v)
	}
	return values, nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc models.Document) (interface{}, error) {
	stored := cloneDoc(doc)
	ensureID(stored)
	res, err := c.coll.InsertOne(ctx, bson.M(stored))
	if err != nil {
		return nil, apperr.Store(err, "insert")
	}
	return res.InsertedID, nil
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = bson.M(d)
	}
	_, err := c.coll.InsertMany(ctx, batch, options.InsertMany().SetOrdered(true))
	return apperr.Store(err, "insert many")
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter bson.D, set models.Document) (UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, nonNil(filter), bson.D{{Key: "$set", Value: bson.M(set)}})
	if err != nil {
		return UpdateResult{}, apperr.Store(err, "update")
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (c *mongoCollection) BulkUpdate(ctx context.Context, ops []UpdateOp) (UpdateResult, error) {
	if len(ops) == 0 {
		return UpdateResult{}, nil
	}
	writes := make([]mongo.WriteModel, len(ops))
	for i, op := range ops {
		writes[i] = mongo.NewUpdateOneModel().
			SetFilter(nonNil(op.Filter)).
			SetUpdate(bson.D{{Key: "$set", Value: bson.M(op.Set)}}).
			SetUpsert(false)
	}
	res, err := c.coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return UpdateResult{}, apperr.Store(err, "bulk update")
	}
	return UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter bson.D) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, nonNil(filter))
	if err != nil {
		return 0, apperr.Store(err, "delete")
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter bson.D) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, nonNil(filter))
	if err != nil {
		return 0, apperr.Store(err, "delete")
	}
	return res.DeletedCount, nil
}
