// Package storage defines the document store adapter and its backends.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Ref names a collection inside a database. It is resolved per request and never persisted.
type Ref struct {
	Database   string
	Collection string
}

// NewRef trims both names.
func NewRef(database, collection string) Ref {
	return Ref{Database: strings.TrimSpace(database), Collection: strings.TrimSpace(collection)}
}

// Validate reports a validation error when either name is empty.
func (r Ref) Validate() error {
	if r.Database == "" || r.Collection == "" {
		return apperr.Validation("database and collection are required")
	}
	return nil
}

func (r Ref) String() string { return r.Database + "." + r.Collection }

// SortOption orders results by one field. Direction is 1 or -1.
type SortOption struct {
	Field     string
	Direction int
}

// FindOptions shapes a find. A nil Projection returns all fields; Limit 0 is unbounded.
type FindOptions struct {
	Projection []string
	Sort       *SortOption
	Skip       int64
	Limit      int64
}

// UpdateOp is one operation of a bulk update.
type UpdateOp struct {
	Filter bson.D
	Set    models.Document
}

// UpdateResult counts matched and modified documents.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Storage is the store adapter: a handle on many databases and collections.
type Storage interface {
	Collection(ref Ref) Collection
	CollectionExists(ctx context.Context, ref Ref) (bool, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Collection is a single named collection. Filters use the store's query language.
type Collection interface {
	Find(ctx context.Context, filter bson.D, opts FindOptions) ([]models.Document, error)
	// FindOne returns a not-found error when nothing matches.
	FindOne(ctx context.Context, filter bson.D) (models.Document, error)
	Count(ctx context.Context, filter bson.D) (int64, error)
	Distinct(ctx context.Context, field string, filter bson.D) ([]interface{}, error)
	// InsertOne assigns an object id when the document has none and returns the id.
	InsertOne(ctx context.Context, doc models.Document) (interface{}, error)
	InsertMany(ctx context.Context, docs []models.Document) error
	UpdateOne(ctx context.Context, filter bson.D, set models.Document) (UpdateResult, error)
	BulkUpdate(ctx context.Context, ops []UpdateOp) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter bson.D) (int64, error)
	DeleteMany(ctx context.Context, filter bson.D) (int64, error)
}

// ParseObjectID parses a 24-hex identifier.
func ParseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid id format: %q", id)
	}
	return oid, nil
}

// ByID returns a filter matching the identifier.
func ByID(id interface{}) bson.D {
	return bson.D{{Key: models.IDField, Value: id}}
}

// IDString returns the string form of a stored identifier.
func IDString(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func ensureID(doc models.Document) interface{} {
	if id, ok := doc[models.IDField]; ok && id != nil {
		return id
	}
	oid := primitive.NewObjectID()
	doc[models.IDField] = oid
	return oid
}

func errDuplicateKey(id interface{}) error {
	return fmt.Errorf("duplicate key error: _id %v already exists", IDString(id))
}
