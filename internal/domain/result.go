package domain

import "time"

// Column describes one result column: its name and the engine's semantic type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultTable holds the normalized output of one successful execution.
// Immutable once produced.
type ResultTable struct {
	Columns   []Column        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	RowCount  int             `json:"row_count"`
	Truncated bool            `json:"truncated"`
}

// ResultPage is one page of raw engine output as returned by EngineClient.FetchPage.
// NextToken is empty when pagination is drained.
type ResultPage struct {
	Columns   []Column
	Rows      [][]interface{}
	NextToken string
}

// CacheEntry maps a fingerprint to its result. Entries are replaced wholesale
// on refresh, never mutated in place.
type CacheEntry struct {
	Fingerprint Fingerprint
	Query       CanonicalQuery
	Result      *ResultTable
	ComputedAt  time.Time
	ExpiresAt   time.Time
}
