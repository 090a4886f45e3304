package storage

import (
	"context"
	"sync"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// MemoryStorage keeps every database in process memory. Data is lost on exit.
type MemoryStorage struct {
	mu          sync.RWMutex
	collections map[Ref][]models.Document
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{collections: make(map[Ref][]models.Document)}
}

// Collection returns a handle on ref. The collection is created on first insert.
func (s *MemoryStorage) Collection(ref Ref) Collection {
	return &memoryCollection{store: s, ref: ref}
}

// CollectionExists reports whether ref has ever received a document.
func (s *MemoryStorage) CollectionExists(_ context.Context, ref Ref) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[ref]
	return ok, nil
}

// Ping always succeeds.
func (s *MemoryStorage) Ping(context.Context) error { return nil }

// Close drops all data.
func (s *MemoryStorage) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[Ref][]models.Document)
	return nil
}

type memoryCollection struct {
	store *MemoryStorage
	ref   Ref
}

func (c *memoryCollection) snapshot() []models.Document {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return append([]models.Document(nil), c.store.collections[c.ref]...)
}

func (c *memoryCollection) Find(_ context.Context, filter bson.D, opts FindOptions) ([]models.Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	docs, err := findIn(c.store.collections[c.ref], filter, opts)
	return docs, apperr.Store(err, "find")
}

func (c *memoryCollection) FindOne(ctx context.Context, filter bson.D) (models.Document, error) {
	docs, err := c.Find(ctx, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperr.NotFound("document not found")
	}
	return docs[0], nil
}

func (c *memoryCollection) Count(_ context.Context, filter bson.D) (int64, error) {
	n, err := countIn(c.snapshot(), filter)
	return n, apperr.Store(err, "count")
}

func (c *memoryCollection) Distinct(_ context.Context, field string, filter bson.D) ([]interface{}, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	values, err := distinctIn(c.store.collections[c.ref], field, filter)
	if err != nil {
		return nil, apperr.Store(err, "distinct")
	}
	for i, v := range values {
		values[i] = cloneValue(v)
	}
	return values, nil
}

func (c *memoryCollection) InsertOne(_ context.Context, doc models.Document) (interface{}, error) {
	stored := cloneDoc(doc)
	id := ensureID(stored)
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.indexOf(id) >= 0 {
		return nil, apperr.Store(errDuplicateKey(id), "insert")
	}
	c.store.collections[c.ref] = append(c.store.collections[c.ref], stored)
	return id, nil
}

func (c *memoryCollection) InsertMany(_ context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]models.Document, len(docs))
	for i, d := range docs {
		batch[i] = cloneDoc(d)
		ensureID(batch[i])
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for _, d := range batch {
		if c.indexOf(d[models.IDField]) >= 0 {
			return apperr.Store(errDuplicateKey(d[models.IDField]), "insert many")
		}
	}
	c.store.collections[c.ref] = append(c.store.collections[c.ref], batch...)
	return nil
}

// indexOf must be called with the lock held.
func (c *memoryCollection) indexOf(id interface{}) int {
	for i, d := range c.store.collections[c.ref] {
		if valuesEqual(d[models.IDField], id) {
			return i
		}
	}
	return -1
}

func (c *memoryCollection) UpdateOne(_ context.Context, filter bson.D, set models.Document) (UpdateResult, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.updateOneLocked(filter, set)
}

func (c *memoryCollection) updateOneLocked(filter bson.D, set models.Document) (UpdateResult, error) {
	for _, d := range c.store.collections[c.ref] {
		ok, err := Match(d, filter)
		if err != nil {
			return UpdateResult{}, apperr.Store(err, "update")
		}
		if !ok {
			continue
		}
		res := UpdateResult{Matched: 1}
		if applySet(d, set) {
			res.Modified = 1
		}
		return res, nil
	}
	return UpdateResult{}, nil
}

// BulkUpdate applies ops in order while holding the lock, so readers never see half a batch.
func (c *memoryCollection) BulkUpdate(_ context.Context, ops []UpdateOp) (UpdateResult, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	var total UpdateResult
	for _, op := range ops {
		res, err := c.updateOneLocked(op.Filter, op.Set)
		if err != nil {
			return total, err
		}
		total.Matched += res.Matched
		total.Modified += res.Modified
	}
	return total, nil
}

func (c *memoryCollection) DeleteOne(_ context.Context, filter bson.D) (int64, error) {
	return c.delete(filter, 1)
}

func (c *memoryCollection) DeleteMany(_ context.Context, filter bson.D) (int64, error) {
	return c.delete(filter, -1)
}

func (c *memoryCollection) delete(filter bson.D, max int) (int64, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	docs := c.store.collections[c.ref]
	kept := docs[:0:0]
	var deleted int64
	for _, d := range docs {
		if max < 0 || deleted < int64(max) {
			ok, err := Match(d, filter)
			if err != nil {
				return 0, apperr.Store(err, "delete")
			}
			if ok {
				deleted++
				continue
			}
		}
		kept = append(kept, d)
	}
	if _, exists := c.store.collections[c.ref]; exists {
		c.store.collections[c.ref] = kept
	}
	return deleted, nil
}
