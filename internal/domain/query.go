package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// QueryRequest is a parameterized dashboard query as received from a caller.
// Immutable once created.
type QueryRequest struct {
	CallerKey string
	// Params holds scalar parameters: "start", "end", "metric", "agg".
	Params map[string]string
	// Filters maps a dimension column to the set of accepted values.
	Filters map[string][]string
	// GroupBy lists dimension columns to group results by.
	GroupBy []string
	// PageSize is the requested result page size; 0 means the configured default.
	PageSize int
}

// CanonicalQuery is the normalized, order-independent representation of a
// QueryRequest. Two semantically identical requests canonicalize to
// byte-identical encodings.
type CanonicalQuery struct {
	Metric      string
	Aggregation string
	StartDate   string // ISO-8601 date
	EndDate     string // ISO-8601 date
	GroupBy     []string          // sorted, case-folded, deduped
	Filters     []CanonicalFilter // sorted by column
	MaxRows     int
}

// CanonicalFilter restricts one dimension column to a set of values.
type CanonicalFilter struct {
	Column string
	Values []string // sorted, deduped
}

// Encode renders the canonical query as deterministic bytes. Keys are emitted
// in a fixed order and every value is length-prefixed, so no value content —
// commas, newlines, forged key lines — can make two distinct queries encode
// identically. List values are pre-sorted by the canonicalizer.
func (q CanonicalQuery) Encode() []byte {
	var b strings.Builder
	field := func(key, value string) {
		fmt.Fprintf(&b, "%s=%d:%s\n", key, len(value), value)
	}
	field("agg", q.Aggregation)
	field("end", q.EndDate)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, "filter.%s=%d", f.Column, len(f.Values))
		for _, v := range f.Values {
			fmt.Fprintf(&b, ":%d:%s", len(v), v)
		}
		b.WriteByte('\n')
	}
	field("group_by", strings.Join(q.GroupBy, ","))
	fmt.Fprintf(&b, "max_rows=%d\n", q.MaxRows)
	field("metric", q.Metric)
	field("start", q.StartDate)
	return []byte(b.String())
}

// Fingerprint is the stable content hash of a canonical query, used as the
// sole cache and dedup key.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Fingerprint computes the sha256 digest of the canonical encoding.
func (q CanonicalQuery) Fingerprint() Fingerprint {
	sum := sha256.Sum256(q.Encode())
	return Fingerprint(hex.EncodeToString(sum[:]))
}
