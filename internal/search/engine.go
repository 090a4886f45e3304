// Package search provides the query service: filtered, paged, optionally cached listing
// of documents in any collection.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/cache"
	"github.com/hyperjump/docgate/internal/metrics"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/query"
	"github.com/hyperjump/docgate/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
)

// ListRequest names a collection and carries the raw request parameters.
type ListRequest struct {
	Database   string
	Collection string
	Params     map[string]interface{}
}

// Engine runs list operations against the store.
type Engine struct {
	store  storage.Storage
	cache  cache.Cache
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the result cache used by policies that enable caching.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger for cache failures.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a query engine over store.
func NewEngine(store storage.Storage, opts ...Option) *Engine {
	e := &Engine{store: store, cache: cache.Nop{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// List returns one page of documents matching the request and the total match count.
func (e *Engine) List(ctx context.Context, req ListRequest, p Policy) (*models.ListResponse, error) {
	ref := storage.NewRef(req.Database, req.Collection)
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	page, err := query.ParsePage(params, p.DefaultPageSize)
	if err != nil {
		return nil, err
	}

	var key string
	if p.Cache {
		key = e.cacheKey(ref, params, p)
		if resp, ok := e.cached(ctx, key); ok {
			return resp, nil
		}
	}

	if p.RequireCollection {
		exists, err := e.store.CollectionExists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperr.NotFound("collection %s not found", ref.Collection)
		}
	}

	filter := e.filter(params, p)
	opts := storage.FindOptions{
		Projection: query.Projection(query.Fields(params["fields"])),
		Skip:       page.Skip(),
		Limit:      page.Limit(),
	}
	if s := e.sort(params, p); s != nil {
		opts.Sort = &storage.SortOption{Field: s.Field, Direction: int(s.Direction)}
	}

	var (
		docs    []models.Document
		total   int64
		errChan = make(chan error, 2)
		wg      sync.WaitGroup
		coll    = e.store.Collection(ref)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		found, err := coll.Find(ctx, filter, opts)
		if err != nil {
			errChan <- fmt.Errorf("find failed: %w", err)
			return
		}
		docs = found
	}()
	go func() {
		defer wg.Done()
		n, err := coll.Count(ctx, filter)
		if err != nil {
			errChan <- fmt.Errorf("count failed: %w", err)
			return
		}
		total = n
	}()
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	resp := &models.ListResponse{Count: total, Data: make([]models.Document, 0, len(docs))}
	for _, d := range docs {
		resp.Data = append(resp.Data, models.NormalizeIDs(d))
	}
	if p.EchoPage {
		resp.Page = page.Number
		resp.PageRecords = page.Size
	}

	if p.Cache {
		e.put(ctx, key, resp)
	}
	return resp, nil
}

func (e *Engine) filter(params map[string]interface{}, p Policy) bson.D {
	if p.NoFilter {
		return bson.D{}
	}
	source := params
	reserved := p.Reserved
	if p.FilterKey != "" {
		reserved = append(append([]string(nil), reserved...), p.FilterKey)
		if nested, ok := params[p.FilterKey].(map[string]interface{}); ok {
			source = nested
		}
	}
	opts := []query.TranslatorOption{query.WithReserved(reserved...)}
	if p.LiteralPatterns {
		opts = append(opts, query.WithLiteralPatterns())
	}
	return query.NewTranslator(p.Mode, opts...).Translate(source)
}

func (e *Engine) sort(params map[string]interface{}, p Policy) *query.Sort {
	if p.ClientSort {
		if s := query.ParseSort(params["sort"]); s != nil {
			return s
		}
	}
	return p.FixedSort
}

func (e *Engine) cacheKey(ref storage.Ref, params map[string]interface{}, p Policy) string {
	request := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		request[k] = v
	}
	request["database"] = ref.Database
	request["collection"] = ref.Collection
	key, err := cache.Key(p.Name, request)
	if err != nil {
		e.logger.Warn("cache key failed", zap.String("operation", p.Name), zap.Error(err))
		return ""
	}
	return key
}

func (e *Engine) cached(ctx context.Context, key string) (*models.ListResponse, bool) {
	if key == "" {
		return nil, false
	}
	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	if err != nil || !ok {
		metrics.CacheMiss()
		return nil, false
	}
	var resp models.ListResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		e.logger.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		metrics.CacheMiss()
		return nil, false
	}
	metrics.CacheHit()
	return &resp, true
}

func (e *Engine) put(ctx context.Context, key string, resp *models.ListResponse) {
	if key == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		e.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := e.cache.Put(ctx, key, data); err != nil {
		e.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
}

// Count returns the number of documents in the collection.
func (e *Engine) Count(ctx context.Context, ref storage.Ref) (int64, error) {
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	return e.store.Collection(ref).Count(ctx, nil)
}
