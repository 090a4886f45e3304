package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/mutation"
	"github.com/hyperjump/docgate/internal/search"
)

func (s *Server) handleProductCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	ref := s.productsRef(stringField(body, "database"), stringField(body, "collection"))
	id, err := s.mutations.Create(r.Context(), ref, mutation.ProductSpec, models.Document(body))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{
		"message":     "Product created successfully",
		"inserted_id": id,
	})
}

func (s *Server) handleProductList(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	ref := s.productsRef(stringField(body, "database"), stringField(body, "collection"))
	resp, err := s.engine.List(r.Context(), search.ListRequest{
		Database:   ref.Database,
		Collection: ref.Collection,
		Params:     body,
	}, search.ProductList)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProductCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := s.engine.Count(r.Context(), s.productsRef(q.Get("database"), q.Get("collection")))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int64{"response_count": n})
}

func (s *Server) handleProductDetail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doc, err := s.mutations.Get(r.Context(), s.productsRef(q.Get("database"), q.Get("collection")), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProductUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	doc, err := s.mutations.UpdateAndGet(r.Context(), s.productsRef(q.Get("database"), q.Get("collection")),
		chi.URLParam(r, "id"), models.Document(body))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"message": "Product updated", "product": doc})
}

func (s *Server) handleProductRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := s.mutations.Delete(r.Context(), s.productsRef(q.Get("database"), q.Get("collection")), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

func (s *Server) handleProductCheckUnique(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeObject(w, r)
	if !ok {
		return
	}
	category, sku := body["category"], body["sku"]
	if category == nil || sku == nil {
		s.respondErr(w, r, apperr.Validation("category and sku are required"))
		return
	}
	ref := s.productsRef(stringField(body, "database"), stringField(body, "collection"))
	ids, err := s.mutations.FindIDs(r.Context(), ref, map[string]interface{}{"category": category, "sku": sku})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	products := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		products = append(products, map[string]string{models.IDField: id})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func (s *Server) handleProductUniqueColumn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.distinct(w, r, s.productsRef(q.Get("database"), q.Get("collection")), strings.TrimSpace(q.Get("column")))
}
