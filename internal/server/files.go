package server

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/ingest"
	"github.com/hyperjump/docgate/internal/search"
)

// multipartMemory is how much of an upload is buffered in memory before spilling to disk.
const multipartMemory = 8 << 20

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if s.config.Server.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
			return
		}
		s.respondErr(w, r, apperr.Validation("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploadedBy := strings.TrimSpace(r.FormValue("uploadedBy"))
	file, header, err := r.FormFile("file")
	if err != nil || uploadedBy == "" {
		s.respondErr(w, r, apperr.Validation("file, database, data_collection, and uploadedBy are required"))
		return
	}
	defer file.Close()

	sum, err := s.pipeline.Ingest(r.Context(), ingest.Upload{
		Database:   strings.TrimSpace(r.FormValue("database")),
		Collection: strings.TrimSpace(r.FormValue("data_collection")),
		Filename:   header.Filename,
		UploadedBy: uploadedBy,
		Body:       file,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.log(r).Info("file uploaded",
		zap.String("file_id", sum.FileID),
		zap.String("status", string(sum.Status)),
		zap.Int64("total_rows", sum.TotalRows),
	)
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, search.FileList)
}

type deleteFileRequest struct {
	Database       string `json:"database"`
	FileCollection string `json:"file_collection"`
	DataCollection string `json:"data_collection"`
	FileID         string `json:"fileId"`
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	var req deleteFileRequest
	if !s.decode(w, r, &req) {
		return
	}
	deleted, err := s.pipeline.DeleteJob(r.Context(), ingest.DeleteJobRequest{
		Database:       req.Database,
		FileCollection: req.FileCollection,
		DataCollection: req.DataCollection,
		FileID:         req.FileID,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "File deleted successfully",
		"rowsDeleted": deleted,
	})
}
