package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testFilename = "Budget2024_alice_bob_20240315.xlsx"

// recordingStorage remembers the size of every InsertMany per collection.
type recordingStorage struct {
	storage.Storage
	mu      sync.Mutex
	inserts map[string][]int
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{Storage: storage.NewMemoryStorage(), inserts: map[string][]int{}}
}

func (s *recordingStorage) Collection(ref storage.Ref) storage.Collection {
	return &recordingCollection{Collection: s.Storage.Collection(ref), parent: s, name: ref.Collection}
}

func (s *recordingStorage) batches(collection string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.inserts[collection]...)
}

type recordingCollection struct {
	storage.Collection
	parent *recordingStorage
	name   string
}

func (c *recordingCollection) InsertMany(ctx context.Context, docs []models.Document) error {
	c.parent.mu.Lock()
	c.parent.inserts[c.name] = append(c.parent.inserts[c.name], len(docs))
	c.parent.mu.Unlock()
	return c.Collection.InsertMany(ctx, docs)
}

func sheetRows(n int, invalidEvery int) [][]interface{} {
	rows := [][]interface{}{{"department", "amount", "item"}}
	for i := 1; i <= n; i++ {
		amount := i
		if invalidEvery > 0 && i%invalidEvery == 0 {
			amount = 0
		}
		rows = append(rows, []interface{}{"Sales", amount, fmt.Sprintf("item-%d", i)})
	}
	return rows
}

func newTestPipeline(store storage.Storage, opts ...Option) *Pipeline {
	p := NewPipeline(store, opts...)
	p.now = func() time.Time { return time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC) }
	return p
}

func job(t *testing.T, store storage.Storage, id string) models.Document {
	t.Helper()
	doc, err := store.Collection(storage.NewRef("reports", "file_uploads")).FindOne(context.Background(), storage.ByID(id))
	if err != nil {
		t.Fatalf("job %s: %v", id, err)
	}
	return doc
}

func TestPipeline_Ingest_batches(t *testing.T) {
	store := newRecordingStorage()
	core, logs := observer.New(zapcore.InfoLevel)
	p := newTestPipeline(store, WithLogger(zap.New(core)))
	ctx := context.Background()

	sum, err := p.Ingest(ctx, Upload{
		Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "carol",
		Body: workbook(t, sheetRows(1200, 0)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != models.JobCompleted || sum.TotalRows != 1200 || sum.ValidRows != 1200 || sum.InvalidRows != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if got := store.batches("rows"); fmt.Sprint(got) != "[500 500 200]" {
		t.Errorf("record batches = %v, want [500 500 200]", got)
	}
	if got := store.batches("validation_errors"); len(got) != 0 {
		t.Errorf("error batches = %v, want none", got)
	}
	finished := logs.FilterMessage("ingestion finished").All()
	if len(finished) != 1 {
		t.Fatalf("got %d finish log entries, want 1", len(finished))
	}
	fields := finished[0].ContextMap()
	if fields["rows_written"] != int64(1200) || fields["record_batches"] != int64(3) {
		t.Errorf("finish log fields = %v", fields)
	}

	j := job(t, store, sum.FileID)
	if j["status"] != "completed" || j["createdBy"] != "alice" || j["reviewedBy"] != "bob" || j["uploadedBy"] != "carol" {
		t.Errorf("job = %v", j)
	}
	if j["year"] != 2024 {
		t.Errorf("year = %#v", j["year"])
	}
	if !storageEqual(j["totalRows"], 1200) {
		t.Errorf("totalRows = %#v", j["totalRows"])
	}

	rows, err := store.Collection(storage.NewRef("reports", "rows")).Find(ctx,
		bson.D{{Key: "item", Value: "item-1"}}, storage.FindOptions{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("row lookup = %v, %v", rows, err)
	}
	row := rows[0]
	if row["fileId"] != sum.FileID || row["rowNumber"] != 2 || row["amount"] != int64(1) {
		t.Errorf("first row = %v", row)
	}
	if _, ok := row["createdAt"].(time.Time); !ok {
		t.Errorf("createdAt = %#v", row["createdAt"])
	}
}

func storageEqual(a interface{}, b int) bool {
	switch v := a.(type) {
	case int64:
		return v == int64(b)
	case int:
		return v == b
	}
	return false
}

func TestPipeline_Ingest_invalidRows(t *testing.T) {
	store := newRecordingStorage()
	p := newTestPipeline(store, WithBatchSize(4), WithValidator(RequiredPositive("department", "amount")))
	ctx := context.Background()

	sum, err := p.Ingest(ctx, Upload{
		Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "carol",
		Body: workbook(t, sheetRows(10, 3)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != models.JobFailed {
		t.Errorf("status = %s, want failed", sum.Status)
	}
	if sum.TotalRows != sum.ValidRows+sum.InvalidRows || sum.InvalidRows != 3 || sum.ValidRows != 7 {
		t.Errorf("summary = %+v", sum)
	}
	for _, n := range append(store.batches("rows"), store.batches("validation_errors")...) {
		if n > 4 {
			t.Errorf("batch of %d exceeds capacity 4", n)
		}
	}
	if got := store.batches("rows"); fmt.Sprint(got) != "[4 3]" {
		t.Errorf("record batches = %v, want [4 3]", got)
	}

	errs, err := store.Collection(storage.NewRef("reports", "validation_errors")).Find(ctx, nil,
		storage.FindOptions{Sort: &storage.SortOption{Field: "rowNumber", Direction: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 3 {
		t.Fatalf("row errors = %d, want 3", len(errs))
	}
	if errs[0]["rowNumber"] != 4 || errs[0]["error"] != "Amount must be greater than zero" {
		t.Errorf("first error = %v", errs[0])
	}
	if job(t, store, sum.FileID)["status"] != "failed" {
		t.Error("job should be failed")
	}
}

func TestPipeline_Ingest_rejectsBeforeJob(t *testing.T) {
	store := storage.NewMemoryStorage()
	p := newTestPipeline(store)
	ctx := context.Background()
	tests := []struct {
		name   string
		upload Upload
		kind   apperr.Kind
	}{
		{"missing database", Upload{Collection: "rows", Filename: testFilename, Body: bytes.NewBufferString("x")}, apperr.KindValidation},
		{"missing body", Upload{Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "carol"}, apperr.KindValidation},
		{"missing uploader", Upload{Database: "reports", Collection: "rows", Filename: testFilename, Body: workbook(t, sheetRows(1, 0))}, apperr.KindValidation},
		{"blank uploader", Upload{Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "  ", Body: workbook(t, sheetRows(1, 0))}, apperr.KindValidation},
		{"not xlsx", Upload{Database: "reports", Collection: "rows", Filename: "a.csv", UploadedBy: "carol", Body: bytes.NewBufferString("x")}, apperr.KindValidation},
		{"bad filename", Upload{Database: "reports", Collection: "rows", Filename: "report.xlsx", UploadedBy: "carol", Body: bytes.NewBufferString("x")}, apperr.KindStructural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Ingest(ctx, tt.upload)
			if apperr.KindOf(err) != tt.kind {
				t.Fatalf("Ingest() error = %v, want kind %v", err, tt.kind)
			}
		})
	}
	n, _ := store.Collection(storage.NewRef("reports", "file_uploads")).Count(ctx, nil)
	if n != 0 {
		t.Errorf("no job may be created for rejected uploads, got %d", n)
	}
}

func TestPipeline_corruptFileLeavesJobUploading(t *testing.T) {
	store := storage.NewMemoryStorage()
	p := newTestPipeline(store)
	p.newID = func() string { return "job-1" }
	ctx := context.Background()

	_, err := p.Ingest(ctx, Upload{Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "carol", Body: bytes.NewBufferString("not a zip")})
	if !errors.Is(err, apperr.ErrStructural) {
		t.Fatalf("expected structural error, got %v", err)
	}
	if job(t, store, "job-1")["status"] != "uploading" {
		t.Fatal("job should stay uploading")
	}

	stuck, err := p.StuckJobs(ctx, "reports", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 0 {
		t.Errorf("a fresh job is not stuck yet: %v", stuck)
	}

	p.now = func() time.Time { return time.Date(2024, 3, 15, 11, 0, 0, 0, time.UTC) }
	stuck, err = p.StuckJobs(ctx, "reports", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0]["_id"] != "job-1" {
		t.Fatalf("StuckJobs() = %v", stuck)
	}

	if err := p.FailJob(ctx, "reports", "job-1"); err != nil {
		t.Fatal(err)
	}
	if job(t, store, "job-1")["status"] != "failed" {
		t.Error("job should be failed")
	}
	if err := p.FailJob(ctx, "reports", "job-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("failing a terminal job = %v, want not found", err)
	}
}

func TestPipeline_DeleteJob(t *testing.T) {
	store := storage.NewMemoryStorage()
	p := newTestPipeline(store, WithValidator(RequiredPositive("department", "amount")))
	ctx := context.Background()

	keep, err := p.Ingest(ctx, Upload{Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "carol", Body: workbook(t, sheetRows(3, 0))})
	if err != nil {
		t.Fatal(err)
	}
	gone, err := p.Ingest(ctx, Upload{Database: "reports", Collection: "rows", Filename: testFilename, UploadedBy: "carol", Body: workbook(t, sheetRows(5, 5))})
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := p.DeleteJob(ctx, DeleteJobRequest{
		Database: "reports", FileCollection: "file_uploads", DataCollection: "rows", FileID: gone.FileID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 4 {
		t.Errorf("rows deleted = %d, want 4", deleted)
	}
	rows := store.Collection(storage.NewRef("reports", "rows"))
	if n, _ := rows.Count(ctx, nil); n != 3 {
		t.Errorf("remaining rows = %d, want 3 of the kept job", n)
	}
	errs := store.Collection(storage.NewRef("reports", "validation_errors"))
	if n, _ := errs.Count(ctx, bson.D{{Key: "fileId", Value: gone.FileID}}); n != 0 {
		t.Errorf("row errors of the deleted job remain: %d", n)
	}
	if _, err := store.Collection(storage.NewRef("reports", "file_uploads")).FindOne(ctx, storage.ByID(gone.FileID)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("job should be deleted, got %v", err)
	}
	job(t, store, keep.FileID)

	_, err = p.DeleteJob(ctx, DeleteJobRequest{Database: "reports", FileCollection: "file_uploads", DataCollection: "rows", FileID: gone.FileID})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete = %v, want not found", err)
	}
	_, err = p.DeleteJob(ctx, DeleteJobRequest{Database: "reports", FileCollection: "file_uploads"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("incomplete request = %v, want validation", err)
	}
}

func TestBatcher_neverExceedsCapacity(t *testing.T) {
	store := newRecordingStorage()
	b := newBatcher(store.Collection(storage.NewRef("db", "c")), "records", 3)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		if err := b.add(ctx, models.Document{"i": i}); err != nil {
			t.Fatal(err)
		}
		if len(b.buf) >= 3 {
			t.Fatalf("buffer holds %d after add, capacity 3", len(b.buf))
		}
	}
	if err := b.flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := store.batches("c"); fmt.Sprint(got) != "[3 3 1]" {
		t.Errorf("batches = %v, want [3 3 1]", got)
	}
	if b.flushes != 3 || b.written != 7 {
		t.Errorf("flushes = %d written = %d", b.flushes, b.written)
	}
}
