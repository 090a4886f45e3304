package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// runStorageTests runs a common suite against any Storage implementation.
func runStorageTests(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()
	ref := NewRef(" shop ", " products ")
	coll := s.Collection(ref)

	t.Run("collection missing before first insert", func(t *testing.T) {
		ok, err := s.CollectionExists(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("expected collection to be absent")
		}
	})

	var laptopID interface{}
	t.Run("InsertOne assigns object id", func(t *testing.T) {
		id, err := coll.InsertOne(ctx, models.Document{"productName": "Laptop", "sku": "L-1", "price": 999.5, "stock": int64(3)})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := id.(primitive.ObjectID); !ok {
			t.Fatalf("expected ObjectID, got %T", id)
		}
		laptopID = id
		ok, err := s.CollectionExists(ctx, ref)
		if err != nil || !ok {
			t.Fatalf("expected collection to exist, got %v, %v", ok, err)
		}
	})

	t.Run("InsertMany keeps string ids", func(t *testing.T) {
		docs := []models.Document{
			{"_id": "p-2", "productName": "Mouse", "sku": "M-1", "price": 20.0, "stock": int64(10), "tags": []interface{}{"usb"}},
			{"_id": "p-3", "productName": "Monitor", "sku": "M-2", "price": 150.0, "stock": int64(0), "active": false},
		}
		if err := coll.InsertMany(ctx, docs); err != nil {
			t.Fatal(err)
		}
		got, err := coll.FindOne(ctx, ByID("p-2"))
		if err != nil {
			t.Fatal(err)
		}
		if got["productName"] != "Mouse" {
			t.Fatalf("productName = %v", got["productName"])
		}
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		if _, err := coll.InsertOne(ctx, models.Document{"_id": "p-2"}); err == nil {
			t.Fatal("expected duplicate key error")
		}
	})

	t.Run("FindOne by object id", func(t *testing.T) {
		got, err := coll.FindOne(ctx, ByID(laptopID))
		if err != nil {
			t.Fatal(err)
		}
		if got["sku"] != "L-1" {
			t.Fatalf("sku = %v", got["sku"])
		}
		if !valuesEqual(got["stock"], 3) {
			t.Fatalf("stock = %#v", got["stock"])
		}
	})

	t.Run("FindOne not found", func(t *testing.T) {
		_, err := coll.FindOne(ctx, ByID("nope"))
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("Find with regex, sort, skip, limit, projection", func(t *testing.T) {
		filter := bson.D{{Key: "productName", Value: bson.M{"$regex": "^m", "$options": "i"}}}
		docs, err := coll.Find(ctx, filter, FindOptions{
			Projection: []string{"_id", "productName"},
			Sort:       &SortOption{Field: "price", Direction: -1},
			Limit:      1,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 || docs[0]["productName"] != "Monitor" {
			t.Fatalf("unexpected docs: %v", docs)
		}
		if _, ok := docs[0]["price"]; ok {
			t.Error("projection should exclude price")
		}
		if docs[0]["_id"] != "p-3" {
			t.Errorf("_id = %v", docs[0]["_id"])
		}

		docs, err = coll.Find(ctx, filter, FindOptions{Sort: &SortOption{Field: "price", Direction: -1}, Skip: 1})
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 || docs[0]["productName"] != "Mouse" {
			t.Fatalf("unexpected second page: %v", docs)
		}
	})

	t.Run("Count", func(t *testing.T) {
		n, err := coll.Count(ctx, nil)
		if err != nil || n != 3 {
			t.Fatalf("Count(nil) = %d, %v", n, err)
		}
		n, err = coll.Count(ctx, bson.D{{Key: "stock", Value: bson.M{"$gt": 0}}})
		if err != nil || n != 2 {
			t.Fatalf("Count(stock>0) = %d, %v", n, err)
		}
	})

	t.Run("Distinct", func(t *testing.T) {
		values, err := coll.Distinct(ctx, "sku", bson.D{{Key: "price", Value: bson.M{"$lt": 500}}})
		if err != nil {
			t.Fatal(err)
		}
		if len(values) != 2 {
			t.Fatalf("Distinct = %v", values)
		}
	})

	t.Run("UpdateOne", func(t *testing.T) {
		res, err := coll.UpdateOne(ctx, ByID("p-2"), models.Document{"price": 25.0})
		if err != nil {
			t.Fatal(err)
		}
		if res.Matched != 1 || res.Modified != 1 {
			t.Fatalf("UpdateOne = %+v", res)
		}
		res, err = coll.UpdateOne(ctx, ByID("p-2"), models.Document{"price": 25.0})
		if err != nil {
			t.Fatal(err)
		}
		if res.Matched != 1 || res.Modified != 0 {
			t.Fatalf("unchanged update = %+v", res)
		}
		res, err = coll.UpdateOne(ctx, ByID("missing"), models.Document{"price": 1.0})
		if err != nil || res.Matched != 0 {
			t.Fatalf("missing update = %+v, %v", res, err)
		}
	})

	t.Run("BulkUpdate", func(t *testing.T) {
		res, err := coll.BulkUpdate(ctx, []UpdateOp{
			{Filter: bson.D{{Key: "sku", Value: "M-1"}}, Set: models.Document{"active": true}},
			{Filter: bson.D{{Key: "sku", Value: "M-2"}}, Set: models.Document{"active": true}},
			{Filter: bson.D{{Key: "sku", Value: "none"}}, Set: models.Document{"active": true}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Matched != 2 || res.Modified != 2 {
			t.Fatalf("BulkUpdate = %+v", res)
		}
		n, _ := coll.Count(ctx, bson.D{{Key: "active", Value: true}})
		if n != 2 {
			t.Fatalf("active count = %d", n)
		}
	})

	t.Run("dates round trip", func(t *testing.T) {
		jobs := s.Collection(NewRef("shop", "jobs"))
		when := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
		if _, err := jobs.InsertOne(ctx, models.Document{"_id": "j1", "uploadDate": when}); err != nil {
			t.Fatal(err)
		}
		docs, err := jobs.Find(ctx, bson.D{{Key: "uploadDate", Value: bson.M{"$lt": when.Add(time.Hour)}}}, FindOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(docs))
		}
		got, ok := docs[0]["uploadDate"].(time.Time)
		if !ok || !got.Equal(when) {
			t.Fatalf("uploadDate = %#v", docs[0]["uploadDate"])
		}
	})

	t.Run("DeleteOne and DeleteMany", func(t *testing.T) {
		n, err := coll.DeleteOne(ctx, ByID("p-3"))
		if err != nil || n != 1 {
			t.Fatalf("DeleteOne = %d, %v", n, err)
		}
		n, err = coll.DeleteOne(ctx, ByID("p-3"))
		if err != nil || n != 0 {
			t.Fatalf("second DeleteOne = %d, %v", n, err)
		}
		n, err = coll.DeleteMany(ctx, nil)
		if err != nil || n != 2 {
			t.Fatalf("DeleteMany = %d, %v", n, err)
		}
		total, _ := coll.Count(ctx, nil)
		if total != 0 {
			t.Fatalf("count after delete = %d", total)
		}
	})

	t.Run("collections are isolated", func(t *testing.T) {
		other := s.Collection(NewRef("other", "products"))
		n, err := other.Count(ctx, nil)
		if err != nil || n != 0 {
			t.Fatalf("other.Count = %d, %v", n, err)
		}
	})
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage()
	defer s.Close(context.Background())
	runStorageTests(t, s)
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "docs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(context.Background())
	runStorageTests(t, s)
}

func TestSQLiteStorage_persistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	ref := NewRef("db", "rows")
	if err := s.Collection(ref).InsertMany(ctx, []models.Document{{"n": 1}, {"n": 2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	s, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close(ctx)
	n, err := s.Collection(ref).Count(ctx, nil)
	if err != nil || n != 2 {
		t.Fatalf("Count after reopen = %d, %v", n, err)
	}
}

func TestInstrument(t *testing.T) {
	runStorageTests(t, Instrument(NewMemoryStorage()))
}

func TestRef(t *testing.T) {
	if err := NewRef(" ", "x").Validate(); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("blank database should fail validation, got %v", err)
	}
	if err := NewRef("a", "b").Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got := NewRef(" a ", "b ").String(); got != "a.b" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	got, err := ParseObjectID(oid.Hex())
	if err != nil || got != oid {
		t.Fatalf("ParseObjectID = %v, %v", got, err)
	}
	if _, err := ParseObjectID("not-hex"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIDString(t *testing.T) {
	oid := primitive.NewObjectID()
	tests := []struct {
		in   interface{}
		want string
	}{
		{oid, oid.Hex()},
		{"abc", "abc"},
		{nil, ""},
		{int64(7), "7"},
	}
	for _, tt := range tests {
		if got := IDString(tt.in); got != tt.want {
			t.Errorf("IDString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
