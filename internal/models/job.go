package models

import "time"

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobUploading JobStatus = "uploading"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Persisted field names shared by job, row and row-error documents.
const (
	FieldFileID      = "fileId"
	FieldRowNumber   = "rowNumber"
	FieldError       = "error"
	FieldStatus      = "status"
	FieldUploadDate  = "uploadDate"
	FieldTotalRows   = "totalRows"
	FieldValidRows   = "validRows"
	FieldInvalidRows = "invalidRows"
)

// IngestionJob is the lifecycle record of one file upload.
type IngestionJob struct {
	ID          string
	Filename    string
	CreatedBy   string
	UploadedBy  string
	ReviewedBy  string
	Year        int
	FileDate    string
	UploadDate  time.Time
	Status      JobStatus
	TotalRows   int64
	ValidRows   int64
	InvalidRows int64
}

// Document returns the stored form of the job.
func (j *IngestionJob) Document() Document {
	return Document{
		IDField:          j.ID,
		"filename":       j.Filename,
		"createdBy":      j.CreatedBy,
		"uploadedBy":     j.UploadedBy,
		"reviewedBy":     j.ReviewedBy,
		"year":           j.Year,
		"fileDate":       j.FileDate,
		FieldUploadDate:  j.UploadDate,
		FieldStatus:      string(j.Status),
		FieldTotalRows:   j.TotalRows,
		FieldValidRows:   j.ValidRows,
		FieldInvalidRows: j.InvalidRows,
	}
}

// IngestSummary is returned to the uploader once a file has been processed.
// A failed status still means the request succeeded; invalid rows are counted, not raised.
type IngestSummary struct {
	FileID      string    `json:"fileId"`
	Database    string    `json:"database"`
	Collection  string    `json:"collection"`
	Filename    string    `json:"filename"`
	Status      JobStatus `json:"status"`
	TotalRows   int64     `json:"totalRows"`
	ValidRows   int64     `json:"validRows"`
	InvalidRows int64     `json:"invalidRows"`
}
