package ingest

import (
	"context"

	"github.com/hyperjump/docgate/internal/metrics"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/storage"
)

// batcher buffers documents and writes them with InsertMany once capacity is reached.
// The buffer never holds more than capacity documents.
type batcher struct {
	coll     storage.Collection
	name     string
	capacity int
	buf      []models.Document
	flushes  int
	written  int64
}

func newBatcher(coll storage.Collection, name string, capacity int) *batcher {
	if capacity < 1 {
		capacity = 1
	}
	return &batcher{coll: coll, name: name, capacity: capacity, buf: make([]models.Document, 0, capacity)}
}

func (b *batcher) add(ctx context.Context, doc models.Document) error {
	b.buf = append(b.buf, doc)
	if len(b.buf) >= b.capacity {
		return b.flush(ctx)
	}
	return nil
}

// flush writes whatever is buffered. An empty buffer is a no-op.
func (b *batcher) flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.coll.InsertMany(ctx, b.buf); err != nil {
		return err
	}
	b.flushes++
	b.written += int64(len(b.buf))
	metrics.BatchFlush(b.name)
	b.buf = make([]models.Document, 0, b.capacity)
	return nil
}
