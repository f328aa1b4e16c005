package models

import "time"

// ItemError records one failed item inside a run without aborting it.
type ItemError struct {
	SourceGuid string `json:"source_guid"`
	Title      string `json:"title,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// ImportResult is the aggregate outcome of one incremental run or one batch
// page. Batch runs return one result per page.
type ImportResult struct {
	RunID     string        `json:"run_id"`
	Fetched   int           `json:"fetched"`
	Imported  int           `json:"imported"`
	Skipped   int           `json:"skipped"`
	Errors    []ItemError   `json:"errors,omitempty"`
	HasMore   bool          `json:"has_more"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ErrorCount is len(Errors), kept as a method so aggregation sites read
// uniformly with Imported/Skipped.
func (r ImportResult) ErrorCount() int { return len(r.Errors) }
