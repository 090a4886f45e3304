package models

// ListResponse is the response of list and search operations.
// Count is the total number of matching documents, independent of paging and projection.
type ListResponse struct {
	Count       int64      `json:"count"`
	Page        int        `json:"page,omitempty"`
	PageRecords int        `json:"page_records,omitempty"`
	Data        []Document `json:"data"`
}

// UpdateSummary reports the outcome of an update.
type UpdateSummary struct {
	Matched  int64 `json:"matched_count"`
	Modified int64 `json:"modified_count"`
}
