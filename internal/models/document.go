// Package models defines core data structures for documents, list responses, and ingestion jobs.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the identifier field every stored document carries.
const IDField = "_id"

// CreatedAtField is stamped by the services on documents they insert.
const CreatedAtField = "createdAt"

// Document is a schema-less stored document.
type Document map[string]interface{}

// NormalizeIDs rewrites store-native values into their API form in place:
// object ids become 24-hex strings and store timestamps become time.Time.
// Nested documents and arrays are walked as well.
func NormalizeIDs(d Document) Document {
	for k, v := range d {
		d[k] = normalizeValue(v)
	}
	return d
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case Document:
		return NormalizeIDs(val)
	case map[string]interface{}:
		return map[string]interface{}(NormalizeIDs(Document(val)))
	case primitive.M:
		return map[string]interface{}(NormalizeIDs(Document(val)))
	case primitive.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeValue(item)
		}
		return val
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}
