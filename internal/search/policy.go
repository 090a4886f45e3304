package search

import "github.com/hyperjump/docgate/internal/query"

// Policy fixes how one operation lists documents.
type Policy struct {
	// Name labels the operation and prefixes its cache keys.
	Name string
	Mode query.MatchMode
	// DefaultPageSize applies when the request has no page_records.
	DefaultPageSize int
	Cache           bool
	// RequireCollection makes a missing collection a not-found error.
	RequireCollection bool
	// ClientSort honours the request's sort parameter.
	ClientSort bool
	// FixedSort is applied when the client does not sort.
	FixedSort *query.Sort
	// NoFilter ignores every predicate in the request.
	NoFilter bool
	// FilterKey names a nested object holding the predicates. When it is absent the
	// request root is used.
	FilterKey string
	// EchoPage includes page and page_records in the response.
	EchoPage bool
	// Reserved lists extra keys that never become predicates.
	Reserved []string
	// LiteralPatterns quotes regex metacharacters in string predicates.
	LiteralPatterns bool
}

// SearchByName is the cached prefix search.
var SearchByName = Policy{
	Name:            "searchforname",
	Mode:            query.Prefix,
	DefaultPageSize: 1000,
	Cache:           true,
}

// TableData is the contains search with structured predicates and client sort.
var TableData = Policy{
	Name:              "tabledata",
	Mode:              query.Contains,
	DefaultPageSize:   10,
	RequireCollection: true,
	ClientSort:        true,
	FilterKey:         "filters",
}

// ProductList pages through a products collection without filtering.
var ProductList = Policy{
	Name:            "products",
	DefaultPageSize: 100,
	NoFilter:        true,
	EchoPage:        true,
}

// FileList lists ingestion jobs, newest first.
var FileList = Policy{
	Name:            "files",
	Mode:            query.Contains,
	DefaultPageSize: 20,
	FixedSort:       &query.Sort{Field: "uploadDate", Direction: query.Descending},
	EchoPage:        true,
	Reserved:        []string{"file_collection", "data_collection"},
}
