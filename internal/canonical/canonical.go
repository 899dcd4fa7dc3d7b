// Package canonical validates dashboard query requests and turns them into
// deterministic canonical representations. It is the injection boundary:
// no free-text SQL is ever accepted, and every identifier that can reach the
// engine comes from a fixed whitelist.
package canonical

import (
	"sort"
	"strings"
	"time"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

const isoDate = "2006-01-02"

// scalar parameter keys accepted in QueryRequest.Params.
var scalarParams = map[string]bool{
	"start":  true,
	"end":    true,
	"metric": true,
	"agg":    true,
}

// metrics maps a whitelisted metric name to the table column it reads.
var metrics = map[string]string{
	"visits":               "visits",
	"pageviews":            "pageviews",
	"unique_visitors":      "unique_visitors",
	"bounce_rate":          "bounce_rate",
	"avg_session_duration": "session_duration_secs",
}

// dimensions lists the columns a filter or group-by may reference.
var dimensions = map[string]bool{
	"country":   true,
	"region":    true,
	"device":    true,
	"browser":   true,
	"os":        true,
	"channel":   true,
	"page_path": true,
	"referrer":  true,
}

// aggregations lists the allowed aggregation functions.
var aggregations = map[string]bool{
	"sum":   true,
	"avg":   true,
	"min":   true,
	"max":   true,
	"count": true,
}

// Canonicalizer validates requests against the whitelists and normalizes them.
// It is a pure function of its inputs.
type Canonicalizer struct {
	defaultPageSize int
	maxPageSize     int
}

// New creates a Canonicalizer. defaultPageSize applies when a request leaves
// PageSize unset; maxPageSize caps any request.
func New(defaultPageSize, maxPageSize int) *Canonicalizer {
	return &Canonicalizer{defaultPageSize: defaultPageSize, maxPageSize: maxPageSize}
}

// MetricColumn resolves a whitelisted metric to its backing column.
// ok is false for metrics outside the whitelist.
func MetricColumn(metric string) (string, bool) {
	col, ok := metrics[metric]
	return col, ok
}

// IsDimension reports whether col is a whitelisted dimension column.
func IsDimension(col string) bool { return dimensions[col] }

// Canonicalize validates req and produces its canonical form. Validation is
// structural and whitelist-based; the returned error is always an
// *domain.InvalidQueryError naming the offending parameter.
func (c *Canonicalizer) Canonicalize(req domain.QueryRequest) (domain.CanonicalQuery, error) {
	var q domain.CanonicalQuery

	for key := range req.Params {
		if !scalarParams[normalize(key)] {
			return q, domain.ErrInvalidQuery(key, "unknown parameter")
		}
	}

	metric := normalize(req.Params["metric"])
	if metric == "" {
		return q, domain.ErrInvalidQuery("metric", "required")
	}
	if _, ok := metrics[metric]; !ok {
		return q, domain.ErrInvalidQuery("metric", "%q is not an allowed metric", metric)
	}
	q.Metric = metric

	agg := normalize(req.Params["agg"])
	if agg == "" {
		agg = "sum"
	}
	if !aggregations[agg] {
		return q, domain.ErrInvalidQuery("agg", "%q is not an allowed aggregation", agg)
	}
	q.Aggregation = agg

	start, err := parseDate(req.Params["start"])
	if err != nil {
		return q, domain.ErrInvalidQuery("start", "not a valid ISO-8601 date: %q", req.Params["start"])
	}
	end, err := parseDate(req.Params["end"])
	if err != nil {
		return q, domain.ErrInvalidQuery("end", "not a valid ISO-8601 date: %q", req.Params["end"])
	}
	if end.Before(start) {
		return q, domain.ErrInvalidQuery("end", "end date %s is before start date %s",
			end.Format(isoDate), start.Format(isoDate))
	}
	q.StartDate = start.Format(isoDate)
	q.EndDate = end.Format(isoDate)

	groupBy, err2 := normalizeColumns(req.GroupBy, "group_by")
	if err2 != nil {
		return q, err2
	}
	q.GroupBy = groupBy

	filterCols := make([]string, 0, len(req.Filters))
	for col := range req.Filters {
		filterCols = append(filterCols, col)
	}
	sort.Strings(filterCols)
	for _, col := range filterCols {
		name := normalize(col)
		if !dimensions[name] {
			return q, domain.ErrInvalidQuery(col, "%q is not a filterable column", col)
		}
		values := normalizeValues(req.Filters[col])
		if len(values) == 0 {
			return q, domain.ErrInvalidQuery(col, "filter has no values")
		}
		q.Filters = append(q.Filters, domain.CanonicalFilter{Column: name, Values: values})
	}
	sort.Slice(q.Filters, func(i, j int) bool { return q.Filters[i].Column < q.Filters[j].Column })

	switch {
	case req.PageSize < 0:
		return q, domain.ErrInvalidQuery("page_size", "must not be negative")
	case req.PageSize == 0:
		q.MaxRows = c.defaultPageSize
	case req.PageSize > c.maxPageSize:
		q.MaxRows = c.maxPageSize
	default:
		q.MaxRows = req.PageSize
	}

	return q, nil
}

// normalizeColumns case-folds, dedupes, and sorts dimension column names,
// rejecting anything outside the whitelist.
func normalizeColumns(cols []string, param string) ([]string, error) {
	seen := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		name := normalize(col)
		if name == "" {
			continue
		}
		if !dimensions[name] {
			return nil, domain.ErrInvalidQuery(param, "%q is not a groupable column", col)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// normalizeValues trims, case-folds, dedupes, and sorts filter values.
func normalizeValues(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(isoDate, strings.TrimSpace(s))
}
