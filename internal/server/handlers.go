package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/mutation"
	"github.com/hyperjump/docgate/internal/search"
	"github.com/hyperjump/docgate/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		s.log(r).Warn("health: store ping failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearchForName(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, search.SearchByName)
}

func (s *Server) handleTableData(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, search.TableData)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, p search.Policy) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	req := search.ListRequest{
		Database:   stringField(body, "database"),
		Collection: stringField(body, "collection"),
		Params:     body,
	}
	s.log(r).Debug("list request", zap.String("policy", p.Name), zap.String("database", req.Database), zap.String("collection", req.Collection))
	resp, err := s.engine.List(r.Context(), req, p)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommonCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	ref := storage.NewRef(stringField(body, "database"), stringField(body, "collection"))
	id, err := s.mutations.CreateFromFieldList(r.Context(), ref, body)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"message":     "Document inserted successfully",
		"inserted_id": id,
	})
}

func (s *Server) handleCommonUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	ref := storage.NewRef(stringField(body, "database"), stringField(body, "collection"))
	id := stringField(body, models.IDField)
	if ref.Validate() != nil || id == "" {
		s.respondErr(w, r, apperr.Validation("database, collection and _id are required"))
		return
	}
	sum, err := s.mutations.Update(r.Context(), ref, id, models.Document(body))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Document updated successfully",
		"matched_count":  sum.Matched,
		"modified_count": sum.Modified,
	})
}

func (s *Server) handleCommonDelete(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	ref := storage.NewRef(stringField(body, "database"), stringField(body, "collection"))
	id := stringField(body, models.IDField)
	if ref.Validate() != nil || id == "" {
		s.respondErr(w, r, apperr.Validation("database, collection and _id are required"))
		return
	}
	if _, err := s.mutations.Delete(r.Context(), ref, id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (s *Server) handleUniqueCategories(w http.ResponseWriter, r *http.Request) {
	s.distinct(w, r, s.productsRef(r.URL.Query().Get("database"), ""), "category")
}

func (s *Server) distinct(w http.ResponseWriter, r *http.Request, ref storage.Ref, column string) {
	values, err := s.mutations.Distinct(r.Context(), ref, column)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if values == nil {
		values = []interface{}{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"column": column, "values": values})
}

func (s *Server) handleColumnConfigs(w http.ResponseWriter, r *http.Request) {
	docs, err := s.mutations.List(r.Context(), s.columnConfigsRef(), false)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, docs)
}

type columnConfigUpdate struct {
	ColumnName interface{} `json:"columnName"`
	IsActive   interface{} `json:"isActive"`
}

func (u columnConfigUpdate) item() mutation.BulkItem {
	return mutation.BulkItem{MatchField: "columnName", MatchValue: u.ColumnName, Field: "isActive", Value: u.IsActive}
}

func (s *Server) handleColumnConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req columnConfigUpdate
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mutations.SetWhere(r.Context(), s.columnConfigsRef(), req.item()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Update successful"})
}

func (s *Server) handleColumnConfigBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req []columnConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, r, apperr.Validation("payload must be a non-empty array"))
		return
	}
	items := make([]mutation.BulkItem, 0, len(req))
	for _, u := range req {
		items = append(items, u.item())
	}
	sum, err := s.mutations.BulkUpdate(r.Context(), s.columnConfigsRef(), items)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

// productsRef names the products collection, falling back to the configured defaults.
func (s *Server) productsRef(database, collection string) storage.Ref {
	if strings.TrimSpace(database) == "" {
		database = s.config.Storage.DefaultDatabase
	}
	if strings.TrimSpace(collection) == "" {
		collection = s.config.Storage.ProductsCollection
	}
	return storage.NewRef(database, collection)
}

func (s *Server) columnConfigsRef() storage.Ref {
	return storage.NewRef(s.config.Storage.DefaultDatabase, s.config.Storage.ColumnConfigsCollection)
}

// decode reads a JSON body into v. It answers 400 and returns false on malformed input.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "request body is empty")
		} else {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	return true
}

func (s *Server) decodeObject(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var body map[string]interface{}
	if !s.decode(w, r, &body) {
		return nil, false
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	return body, true
}

// stringField returns body[key] trimmed when it is a string, else "".
func stringField(body map[string]interface{}, key string) string {
	v, _ := body[key].(string)
	return strings.TrimSpace(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr answers with the status of err's kind. Server-side failures are logged.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log(r).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.log(r).Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}
