package storage

import (
	"sort"

	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// findIn runs a find over documents held in insertion order.
func findIn(docs []models.Document, filter bson.D, opts FindOptions) ([]models.Document, error) {
	matched, err := filterDocs(docs, filter)
	if err != nil {
		return nil, err
	}
	if opts.Sort != nil && opts.Sort.Field != "" {
		field, dir := opts.Sort.Field, opts.Sort.Direction
		sort.SliceStable(matched, func(i, j int) bool {
			a, _ := lookup(matched[i], field)
			b, _ := lookup(matched[j], field)
			c := compareForSort(a, b)
			if dir < 0 {
				return c > 0
			}
			return c < 0
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && int64(len(matched)) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	out := make([]models.Document, len(matched))
	for i, d := range matched {
		out[i] = project(d, opts.Projection)
	}
	return out, nil
}

func filterDocs(docs []models.Document, filter bson.D) ([]models.Document, error) {
	var out []models.Document
	for _, d := range docs {
		ok, err := Match(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func countIn(docs []models.Document, filter bson.D) (int64, error) {
	matched, err := filterDocs(docs, filter)
	return int64(len(matched)), err
}

func distinctIn(docs []models.Document, field string, filter bson.D) ([]interface{}, error) {
	matched, err := filterDocs(docs, filter)
	if err != nil {
		return nil, err
	}
	values := []interface{}{}
	add := func(v interface{}) {
		for _, existing := range values {
			if valuesEqual(existing, v) {
				return
			}
		}
		values = append(values, v)
	}
	for _, d := range matched {
		v, ok := lookup(d, field)
		if !ok {
			continue
		}
		if arr, isArr := v.([]interface{}); isArr {
			for _, item := range arr {
				add(item)
			}
			continue
		}
		add(v)
	}
	return values, nil
}

// applySet writes set into doc and reports whether anything changed.
func applySet(doc models.Document, set models.Document) bool {
	modified := false
	for k, v := range set {
		if cur, ok := doc[k]; ok && valuesEqual(cur, v) {
			continue
		}
		doc[k] = cloneValue(v)
		modified = true
	}
	return modified
}

func project(doc models.Document, fields []string) models.Document {
	if len(fields) == 0 {
		return cloneDoc(doc)
	}
	out := make(models.Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = cloneValue(v)
		}
	}
	return out
}

func cloneDoc(doc models.Document) models.Document {
	out := make(models.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case models.Document:
		return map[string]interface{}(cloneDoc(val))
	case map[string]interface{}:
		return map[string]interface{}(cloneDoc(val))
	case bson.M:
		return map[string]interface{}(cloneDoc(models.Document(val)))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	}
	return v
}
