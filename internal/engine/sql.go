package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/infofitsoftware/athena-dashboard/internal/canonical"
	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

// eventsTable is the Athena table the dashboard reads.
const eventsTable = "site_traffic_daily"

// BuildSQL renders a canonical query as an Athena SELECT statement. Every
// identifier comes from the canonicalizer's whitelists; literal values are
// quote-escaped validated strings, so no caller-controlled SQL can appear.
func BuildSQL(q domain.CanonicalQuery) (string, error) {
	metricCol, ok := canonical.MetricColumn(q.Metric)
	if !ok {
		return "", domain.ErrEngineRejected("submit: metric %q has no backing column", q.Metric)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, col := range q.GroupBy {
		if !canonical.IsDimension(col) {
			return "", domain.ErrEngineRejected("submit: column %q outside whitelist", col)
		}
		b.WriteString(col)
		b.WriteString(", ")
	}
	fmt.Fprintf(&b, "%s(%s) AS %s", strings.ToUpper(q.Aggregation), metricCol, q.Metric)
	fmt.Fprintf(&b, " FROM %s", eventsTable)
	fmt.Fprintf(&b, " WHERE event_date BETWEEN DATE '%s' AND DATE '%s'", q.StartDate, q.EndDate)

	for _, f := range q.Filters {
		if !canonical.IsDimension(f.Column) {
			return "", domain.ErrEngineRejected("submit: column %q outside whitelist", f.Column)
		}
		quoted := make([]string, len(f.Values))
		for i, v := range f.Values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		fmt.Fprintf(&b, " AND %s IN (%s)", f.Column, strings.Join(quoted, ", "))
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.GroupBy, ", "))
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.GroupBy, ", "))
	}

	// One extra row so the executor can detect truncation at the cap.
	if q.MaxRows > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.MaxRows+1)
	}
	return b.String(), nil
}

// convertCell converts Athena's string cell representation into a typed Go
// value based on the column's declared type. Unparseable values fall back to
// the raw string; nil stays nil.
func convertCell(raw *string, colType string) interface{} {
	if raw == nil {
		return nil
	}
	s := *raw
	switch strings.ToLower(colType) {
	case "tinyint", "smallint", "integer", "int", "bigint":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "float", "real", "double", "decimal":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "boolean":
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	case "date":
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t.Format("2006-01-02")
		}
	case "timestamp":
		if t, err := time.Parse("2006-01-02 15:04:05.000", s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}
