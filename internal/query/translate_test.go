package query

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hyperjump/docgate/internal/apperr"
	"go.mongodb.org/mongo-driver/bson"
)

func TestTranslate_scalars(t *testing.T) {
	filter := map[string]interface{}{
		"database":    "shop",
		"collection":  "products",
		"page":        2.0,
		"productName": "Test",
		"active":      false,
		"stock":       12.0,
		"empty":       "",
		"missing":     nil,
	}
	got := NewTranslator(Contains).Translate(filter)
	want := bson.D{
		{Key: "active", Value: false},
		{Key: "productName", Value: bson.M{"$regex": ".*Test.*", "$options": "i"}},
		{Key: "stock", Value: 12.0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Translate() = %v, want %v", got, want)
	}
}

func TestTranslate_prefixMode(t *testing.T) {
	got := NewTranslator(Prefix).Translate(map[string]interface{}{"productName": "Test"})
	want := bson.D{{Key: "productName", Value: bson.M{"$regex": "^Test", "$options": "i"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Translate() = %v, want %v", got, want)
	}
}

func TestTranslate_structured(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]interface{}
		want  interface{}
		drop  bool
	}{
		{"text", map[string]interface{}{"data_type": "text", "search_by": "lap"}, bson.M{"$regex": ".*lap.*", "$options": "i"}, false},
		{"text number", map[string]interface{}{"data_type": "text", "search_by": 1415.0}, bson.M{"$regex": ".*1415.*", "$options": "i"}, false},
		{"text decimal", map[string]interface{}{"data_type": "text", "search_by": 4.5}, bson.M{"$regex": ".*4.5.*", "$options": "i"}, false},
		{"text object dropped", map[string]interface{}{"data_type": "text", "search_by": map[string]interface{}{"a": 1.0}}, nil, true},
		{"default type is text", map[string]interface{}{"search_by": "lap"}, bson.M{"$regex": ".*lap.*", "$options": "i"}, false},
		{"integer", map[string]interface{}{"data_type": "number", "search_by": "42"}, int64(42), false},
		{"float", map[string]interface{}{"data_type": "number", "search_by": "4.5"}, 4.5, false},
		{"json number", map[string]interface{}{"data_type": "number", "search_by": 7.0}, int64(7), false},
		{"bad number dropped", map[string]interface{}{"data_type": "number", "search_by": "abc"}, nil, true},
		{"exact", map[string]interface{}{"data_type": "exact", "search_by": "SKU-1"}, "SKU-1", false},
		{"null search_by dropped", map[string]interface{}{"data_type": "exact", "search_by": nil}, nil, true},
		{"unknown type dropped", map[string]interface{}{"data_type": "geo", "search_by": "x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewTranslator(Prefix).Translate(map[string]interface{}{"f": tt.value})
			if tt.drop {
				if len(got) != 0 {
					t.Errorf("expected predicate to be dropped, got %v", got)
				}
				return
			}
			if len(got) != 1 || !reflect.DeepEqual(got[0].Value, tt.want) {
				t.Errorf("Translate() = %v, want f=%v", got, tt.want)
			}
		})
	}
}

func TestTranslate_droppedNumberLeavesOtherFilters(t *testing.T) {
	got := NewTranslator(Contains).Translate(map[string]interface{}{
		"price": map[string]interface{}{"data_type": "number", "search_by": "abc"},
		"name":  "pen",
	})
	if len(got) != 1 || got[0].Key != "name" {
		t.Errorf("Translate() = %v, want only name", got)
	}
}

func TestTranslate_reservedAndLiteral(t *testing.T) {
	tr := NewTranslator(Contains, WithReserved("filters"), WithLiteralPatterns())
	got := tr.Translate(map[string]interface{}{
		"filters": map[string]interface{}{"x": "y"},
		"fields":  []interface{}{"a"},
		"sort":    map[string]interface{}{"sort_by": "a"},
		"name":    "a.b",
	})
	want := bson.D{{Key: "name", Value: bson.M{"$regex": `.*a\.b.*`, "$options": "i"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Translate() = %v, want %v", got, want)
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]interface{}
		def      int
		want     Page
		wantSkip int64
		wantErr  bool
	}{
		{"defaults", map[string]interface{}{}, 20, Page{1, 20}, 0, false},
		{"explicit", map[string]interface{}{"page": 3.0, "page_records": 50.0}, 20, Page{3, 50}, 100, false},
		{"string values", map[string]interface{}{"page": "2", "page_records": "10"}, 1000, Page{2, 10}, 10, false},
		{"zero page", map[string]interface{}{"page": 0.0}, 20, Page{}, 0, true},
		{"zero size", map[string]interface{}{"page_records": 0.0}, 20, Page{}, 0, true},
		{"not a number", map[string]interface{}{"page": "x"}, 20, Page{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePage(tt.params, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParsePage() = %+v, want %+v", got, tt.want)
			}
			if got.Skip() != tt.wantSkip {
				t.Errorf("Skip() = %d, want %d", got.Skip(), tt.wantSkip)
			}
		})
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		name string
		spec interface{}
		want *Sort
	}{
		{"absent", nil, nil},
		{"no field", map[string]interface{}{"direction": "desc"}, nil},
		{"asc default", map[string]interface{}{"sort_by": "price"}, &Sort{"price", Ascending}},
		{"desc upper", map[string]interface{}{"sort_by": "price", "direction": "DESC"}, &Sort{"price", Descending}},
		{"unknown direction", map[string]interface{}{"sort_by": "price", "direction": "sideways"}, &Sort{"price", Ascending}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSort(tt.spec)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSort() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestProjection(t *testing.T) {
	if got := Projection(nil); got != nil {
		t.Errorf("Projection(nil) = %v", got)
	}
	got := Projection([]string{"name", "sku", "name", "_id"})
	want := []string{"_id", "name", "sku"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Projection() = %v, want %v", got, want)
	}
	if got := Projection([]string{"_id"}); !reflect.DeepEqual(got, []string{"_id"}) {
		t.Errorf("Projection(_id) = %v", got)
	}
}
