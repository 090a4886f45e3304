// Package mutation provides create, update, delete and bulk operations on documents.
package mutation

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
)

// CreateSpec describes the checks applied before an insert.
type CreateSpec struct {
	// Required fields must be present and truthy.
	Required []string
	// Unique fields must not match an existing document.
	Unique []string
	// Fields, when set, is the whitelist of fields kept from the input.
	Fields []string
	// Defaults fill fields absent from the input.
	Defaults map[string]interface{}
}

// ProductSpec is the preset for product documents.
var ProductSpec = CreateSpec{
	Required: []string{"category", "sku", "productName", "active", "country"},
	Unique:   []string{"sku"},
	Fields:   []string{"category", "sku", "productName", "description", "active", "country", "productLabel"},
	Defaults: map[string]interface{}{"description": "", "productLabel": nil},
}

// BulkItem sets Field to Value on the document whose MatchField equals MatchValue.
type BulkItem struct {
	MatchField string
	MatchValue interface{}
	Field      string
	Value      interface{}
}

// Service performs writes against the store.
type Service struct {
	store  storage.Storage
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a mutation service over store.
func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates doc against spec, stamps createdAt and inserts it. It returns the
// new identifier in string form.
//
// The uniqueness check and the insert are separate calls, so two concurrent creates
// can both pass the check. A unique index in the store closes that window.
func (s *Service) Create(ctx context.Context, ref storage.Ref, spec CreateSpec, doc models.Document) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	for _, f := range spec.Required {
		if !truthy(doc[f]) {
			return "", apperr.Validation("'%s' is required", f)
		}
	}

	out := make(models.Document, len(doc)+1)
	if spec.Fields != nil {
		for _, f := range spec.Fields {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
	} else {
		for k, v := range doc {
			if k == models.IDField {
				continue
			}
			out[k] = v
		}
	}
	for k, v := range spec.Defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	coll := s.store.Collection(ref)
	for _, f := range spec.Unique {
		if out[f] == nil {
			continue
		}
		_, err := coll.FindOne(ctx, bson.D{{Key: f, Value: out[f]}})
		if err == nil {
			return "", apperr.Duplicate("%s must be unique", f)
		}
		if apperr.KindOf(err) != apperr.KindNotFound {
			return "", err
		}
	}

	out[models.CreatedAtField] = s.now().UTC()
	id, err := coll.InsertOne(ctx, out)
	if err != nil {
		return "", err
	}
	s.logger.Debug("document created", zap.String("collection", ref.String()), zap.String("id", storage.IDString(id)))
	return storage.IDString(id), nil
}

var fieldIndexKey = regexp.MustCompile(`^\d+$`)

// FieldListDocument builds a document from numbered entries {"0": {fieldName, fieldValue,
// fieldType}, ...}. Entries without a fieldName are skipped; later entries win.
func FieldListDocument(body map[string]interface{}) models.Document {
	keys := make([]string, 0, len(body))
	for k := range body {
		if fieldIndexKey.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})

	doc := models.Document{}
	for _, k := range keys {
		entry, ok := body[k].(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["fieldName"].(string)
		if name == "" {
			continue
		}
		doc[name] = entry["fieldValue"]
	}
	return doc
}

// CreateFromFieldList inserts the document described by a numbered field list.
func (s *Service) CreateFromFieldList(ctx context.Context, ref storage.Ref, body map[string]interface{}) (string, error) {
	return s.Create(ctx, ref, CreateSpec{}, FieldListDocument(body))
}

// Get returns the document with the given identifier.
func (s *Service) Get(ctx context.Context, ref storage.Ref, id string) (models.Document, error) {
	filter, err := idFilter(ref, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Collection(ref).FindOne(ctx, filter)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("document not found")
		}
		return nil, err
	}
	return models.NormalizeIDs(doc), nil
}

// Update sets the fields of partial on the identified document. The identifier and the
// collection names are never written.
func (s *Service) Update(ctx context.Context, ref storage.Ref, id string, partial models.Document) (models.UpdateSummary, error) {
	filter, err := idFilter(ref, id)
	if err != nil {
		return models.UpdateSummary{}, err
	}
	set := stripReserved(partial)
	if len(set) == 0 {
		return models.UpdateSummary{}, apperr.Validation("request body is empty")
	}
	res, err := s.store.Collection(ref).UpdateOne(ctx, filter, set)
	if err != nil {
		return models.UpdateSummary{}, err
	}
	if res.Matched == 0 {
		return models.UpdateSummary{}, apperr.NotFound("document not found")
	}
	return models.UpdateSummary{Matched: res.Matched, Modified: res.Modified}, nil
}

// UpdateAndGet updates the document and returns it after the update.
func (s *Service) UpdateAndGet(ctx context.Context, ref storage.Ref, id string, partial models.Document) (models.Document, error) {
	if _, err := s.Update(ctx, ref, id, partial); err != nil {
		return nil, err
	}
	return s.Get(ctx, ref, id)
}

// Delete removes the identified document and returns the number of documents deleted.
// Deleting a missing document is a not-found error, never a zero count.
func (s *Service) Delete(ctx context.Context, ref storage.Ref, id string) (int64, error) {
	filter, err := idFilter(ref, id)
	if err != nil {
		return 0, err
	}
	n, err := s.store.Collection(ref).DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.NotFound("document not found")
	}
	return n, nil
}

// Distinct returns the distinct values of field.
func (s *Service) Distinct(ctx context.Context, ref storage.Ref, field string) ([]interface{}, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if field == "" {
		return nil, apperr.Validation("column name is required")
	}
	values, err := s.store.Collection(ref).Distinct(ctx, field, nil)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = models.NormalizeIDs(models.Document{"v": v})["v"]
	}
	return values, nil
}

// FindIDs returns the identifiers of documents whose fields equal every entry of equals.
func (s *Service) FindIDs(ctx context.Context, ref storage.Ref, equals map[string]interface{}) ([]string, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(equals))
	for k := range equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	filter := bson.D{}
	for _, k := range keys {
		filter = append(filter, bson.E{Key: k, Value: equals[k]})
	}
	docs, err := s.store.Collection(ref).Find(ctx, filter, storage.FindOptions{Projection: []string{models.IDField}})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, storage.IDString(d[models.IDField]))
	}
	return ids, nil
}

// List returns every document, optionally without the identifier.
func (s *Service) List(ctx context.Context, ref storage.Ref, withID bool) ([]models.Document, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	docs, err := s.store.Collection(ref).Find(ctx, nil, storage.FindOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if !withID {
			delete(d, models.IDField)
		}
		out = append(out, models.NormalizeIDs(d))
	}
	return out, nil
}

// SetWhere sets field to value on the first document whose matchField equals matchValue.
func (s *Service) SetWhere(ctx context.Context, ref storage.Ref, item BulkItem) error {
	if err := item.validate(); err != nil {
		return err
	}
	res, err := s.store.Collection(ref).UpdateOne(ctx,
		bson.D{{Key: item.MatchField, Value: item.MatchValue}},
		models.Document{item.Field: item.Value})
	if err != nil {
		return err
	}
	if res.Matched == 0 {
		return apperr.NotFound("%s not found", item.MatchField)
	}
	return nil
}

// BulkUpdate validates every item, then applies them all in one ordered write.
// A single invalid item rejects the batch before anything is written.
func (s *Service) BulkUpdate(ctx context.Context, ref storage.Ref, items []BulkItem) (models.UpdateSummary, error) {
	if err := ref.Validate(); err != nil {
		return models.UpdateSummary{}, err
	}
	if len(items) == 0 {
		return models.UpdateSummary{}, apperr.Validation("payload must be a non-empty array")
	}
	ops := make([]storage.UpdateOp, 0, len(items))
	for i, item := range items {
		if err := item.validate(); err != nil {
			return models.UpdateSummary{}, apperr.Validation("item %d: %s", i, err.Error())
		}
		ops = append(ops, storage.UpdateOp{
			Filter: bson.D{{Key: item.MatchField, Value: item.MatchValue}},
			Set:    models.Document{item.Field: item.Value},
		})
	}
	res, err := s.store.Collection(ref).BulkUpdate(ctx, ops)
	if err != nil {
		return models.UpdateSummary{}, err
	}
	return models.UpdateSummary{Matched: res.Matched, Modified: res.Modified}, nil
}

func (b BulkItem) validate() error {
	if b.MatchField == "" || b.Field == "" {
		return apperr.Validation("match field and target field are required")
	}
	if b.MatchValue == nil || b.Value == nil {
		return apperr.Validation("%s and %s are required", b.MatchField, b.Field)
	}
	return nil
}

func idFilter(ref storage.Ref, id string) (bson.D, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	oid, err := storage.ParseObjectID(id)
	if err != nil {
		return nil, err
	}
	return storage.ByID(oid), nil
}

func stripReserved(doc models.Document) models.Document {
	out := make(models.Document, len(doc))
	for k, v := range doc {
		switch k {
		case models.IDField, "database", "collection":
			continue
		}
		out[k] = v
	}
	return out
}

// truthy follows the usual notion of a filled-in value: nil, "", false, zero and empty
// collections are not.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	}
	return true
}
