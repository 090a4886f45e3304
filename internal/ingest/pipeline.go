// Package ingest streams uploaded spreadsheets into a collection, tracking each upload
// as a job that moves from uploading to completed or failed.
package ingest

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/metrics"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultBatchSize is the number of documents written per InsertMany.
const DefaultBatchSize = 500

// Upload is one file to ingest.
type Upload struct {
	Database   string
	Collection string
	Filename   string
	UploadedBy string
	Body       io.Reader
}

// DeleteJobRequest names a job and the collections holding its records.
type DeleteJobRequest struct {
	Database       string
	FileCollection string
	DataCollection string
	FileID         string
}

// Pipeline ingests uploads into the store.
type Pipeline struct {
	store            storage.Storage
	jobsCollection   string
	errorsCollection string
	batchSize        int
	validate         RowValidator
	open             func(io.Reader) (RowSource, error)
	newID            func() string
	now              func() time.Time
	logger           *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets the flush threshold of both buffers.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithValidator sets the row validator.
func WithValidator(v RowValidator) Option {
	return func(p *Pipeline) {
		if v != nil {
			p.validate = v
		}
	}
}

// WithCollections sets the job and row-error collection names.
func WithCollections(jobs, errors string) Option {
	return func(p *Pipeline) {
		if jobs != "" {
			p.jobsCollection = jobs
		}
		if errors != "" {
			p.errorsCollection = errors
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store storage.Storage, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:            store,
		jobsCollection:   "file_uploads",
		errorsCollection: "validation_errors",
		batchSize:        DefaultBatchSize,
		validate:         NoValidation,
		open:             OpenXLSX,
		newID:            func() string { return uuid.New().String() },
		now:              time.Now,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// JobsCollection returns the name of the collection holding jobs.
func (p *Pipeline) JobsCollection() string { return p.jobsCollection }

// Ingest records a job for the upload, streams its rows into the data collection in
// batches and finishes the job with its row counts. Invalid rows make the job failed
// without failing the call. Errors after the job is created leave it uploading.
func (p *Pipeline) Ingest(ctx context.Context, u Upload) (*models.IngestSummary, error) {
	data := storage.NewRef(u.Database, u.Collection)
	if data.Database == "" || data.Collection == "" || u.Body == nil || strings.TrimSpace(u.Filename) == "" ||
		strings.TrimSpace(u.UploadedBy) == "" {
		return nil, apperr.Validation("file, database, data_collection, and uploadedBy are required")
	}
	meta, err := ParseFilename(u.Filename)
	if err != nil {
		return nil, err
	}

	job := &models.IngestionJob{
		ID:         p.newID(),
		Filename:   u.Filename,
		CreatedBy:  meta.CreatedBy,
		UploadedBy: u.UploadedBy,
		ReviewedBy: meta.ReviewedBy,
		Year:       meta.Year,
		FileDate:   meta.FileDate,
		UploadDate: p.now().UTC(),
		Status:     models.JobUploading,
	}
	jobs := p.store.Collection(storage.NewRef(data.Database, p.jobsCollection))
	if _, err := jobs.InsertOne(ctx, job.Document()); err != nil {
		return nil, err
	}
	logger := p.logger.With(zap.String("file_id", job.ID), zap.String("filename", job.Filename))
	logger.Info("ingestion started", zap.String("collection", data.String()))

	src, err := p.open(u.Body)
	if err != nil {
		logger.Warn("ingestion aborted", zap.Error(err))
		return nil, err
	}
	defer src.Close()

	records := newBatcher(p.store.Collection(data), "records", p.batchSize)
	rowErrors := newBatcher(p.store.Collection(storage.NewRef(data.Database, p.errorsCollection)), "errors", p.batchSize)

	for src.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job.TotalRows++
		row := src.Row()
		stamp := p.now().UTC()
		if verr := p.validate(row); verr != nil {
			job.InvalidRows++
			err = rowErrors.add(ctx, models.Document{
				models.FieldFileID:    job.ID,
				models.FieldRowNumber: src.RowNumber(),
				models.FieldError:     verr.Error(),
				models.CreatedAtField: stamp,
			})
		} else {
			job.ValidRows++
			doc := make(models.Document, len(row)+3)
			for k, v := range row {
				doc[k] = v
			}
			doc[models.FieldFileID] = job.ID
			doc[models.FieldRowNumber] = src.RowNumber()
			doc[models.CreatedAtField] = stamp
			err = records.add(ctx, doc)
		}
		if err != nil {
			logger.Error("batch write failed", zap.Int64("rows_read", job.TotalRows), zap.Error(err))
			return nil, err
		}
	}
	if err := src.Err(); err != nil {
		logger.Warn("ingestion aborted", zap.Error(err))
		return nil, apperr.Structural("%v", err)
	}
	if err := records.flush(ctx); err != nil {
		return nil, err
	}
	if err := rowErrors.flush(ctx); err != nil {
		return nil, err
	}

	job.Status = models.JobCompleted
	if job.InvalidRows > 0 {
		job.Status = models.JobFailed
	}
	if _, err := jobs.UpdateOne(ctx, storage.ByID(job.ID), models.Document{
		models.FieldStatus:      string(job.Status),
		models.FieldTotalRows:   job.TotalRows,
		models.FieldValidRows:   job.ValidRows,
		models.FieldInvalidRows: job.InvalidRows,
	}); err != nil {
		return nil, err
	}
	metrics.IngestRows(int(job.ValidRows), int(job.InvalidRows))
	logger.Info("ingestion finished",
		zap.String("status", string(job.Status)),
		zap.Int64("total_rows", job.TotalRows),
		zap.Int64("invalid_rows", job.InvalidRows),
		zap.Int64("rows_written", records.written),
		zap.Int("record_batches", records.flushes),
		zap.Int("error_batches", rowErrors.flushes),
	)

	return &models.IngestSummary{
		FileID:      job.ID,
		Database:    data.Database,
		Collection:  data.Collection,
		Filename:    job.Filename,
		Status:      job.Status,
		TotalRows:   job.TotalRows,
		ValidRows:   job.ValidRows,
		InvalidRows: job.InvalidRows,
	}, nil
}

// DeleteJob removes a job with its row records and row errors. It returns the number of
// row records deleted.
func (p *Pipeline) DeleteJob(ctx context.Context, req DeleteJobRequest) (int64, error) {
	files := storage.NewRef(req.Database, req.FileCollection)
	data := storage.NewRef(req.Database, req.DataCollection)
	id := strings.TrimSpace(req.FileID)
	if files.Validate() != nil || data.Validate() != nil || id == "" {
		return 0, apperr.Validation("missing required fields")
	}
	jobs := p.store.Collection(files)
	if _, err := jobs.FindOne(ctx, storage.ByID(id)); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return 0, apperr.NotFound("file not found")
		}
		return 0, err
	}

	byFile := bson.D{{Key: models.FieldFileID, Value: id}}
	deleted, err := p.store.Collection(data).DeleteMany(ctx, byFile)
	if err != nil {
		return 0, err
	}
	errorsRef := storage.NewRef(req.Database, p.errorsCollection)
	if _, err := p.store.Collection(errorsRef).DeleteMany(ctx, byFile); err != nil {
		return deleted, err
	}
	if _, err := jobs.DeleteOne(ctx, storage.ByID(id)); err != nil {
		return deleted, err
	}
	p.logger.Info("ingestion job deleted", zap.String("file_id", id), zap.Int64("rows_deleted", deleted))
	return deleted, nil
}

// StuckJobs returns jobs still uploading whose upload started more than olderThan ago,
// oldest first.
func (p *Pipeline) StuckJobs(ctx context.Context, database string, olderThan time.Duration) ([]models.Document, error) {
	ref := storage.NewRef(database, p.jobsCollection)
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	cutoff := p.now().UTC().Add(-olderThan)
	docs, err := p.store.Collection(ref).Find(ctx, bson.D{
		{Key: models.FieldStatus, Value: string(models.JobUploading)},
		{Key: models.FieldUploadDate, Value: bson.M{"$lt": cutoff}},
	}, storage.FindOptions{Sort: &storage.SortOption{Field: models.FieldUploadDate, Direction: 1}})
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i] = models.NormalizeIDs(docs[i])
	}
	return docs, nil
}

// FailJob moves an uploading job to failed. Terminal jobs are left unchanged.
func (p *Pipeline) FailJob(ctx context.Context, database, id string) error {
	ref := storage.NewRef(database, p.jobsCollection)
	if err := ref.Validate(); err != nil {
		return err
	}
	res, err := p.store.Collection(ref).UpdateOne(ctx, bson.D{
		{Key: models.IDField, Value: id},
		{Key: models.FieldStatus, Value: string(models.JobUploading)},
	}, models.Document{models.FieldStatus: string(models.JobFailed)})
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return apperr.NotFound("no uploading job %s", id)
	}
	return nil
}
