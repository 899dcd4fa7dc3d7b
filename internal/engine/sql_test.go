package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

func TestBuildSQL_Simple(t *testing.T) {
	sqlText, err := BuildSQL(domain.CanonicalQuery{
		Metric:      "visits",
		Aggregation: "sum",
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-31",
		MaxRows:     500,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT SUM(visits) AS visits FROM site_traffic_daily"+
			" WHERE event_date BETWEEN DATE '2024-01-01' AND DATE '2024-01-31' LIMIT 501",
		sqlText)
}

func TestBuildSQL_GroupByAndFilters(t *testing.T) {
	sqlText, err := BuildSQL(domain.CanonicalQuery{
		Metric:      "pageviews",
		Aggregation: "avg",
		StartDate:   "2024-02-01",
		EndDate:     "2024-02-29",
		GroupBy:     []string{"country", "device"},
		Filters: []domain.CanonicalFilter{
			{Column: "channel", Values: []string{"organic", "paid"}},
			{Column: "country", Values: []string{"de", "us"}},
		},
		MaxRows: 100,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT country, device, AVG(pageviews) AS pageviews FROM site_traffic_daily"+
			" WHERE event_date BETWEEN DATE '2024-02-01' AND DATE '2024-02-29'"+
			" AND channel IN ('organic', 'paid')"+
			" AND country IN ('de', 'us')"+
			" GROUP BY country, device ORDER BY country, device LIMIT 101",
		sqlText)
}

func TestBuildSQL_EscapesQuotes(t *testing.T) {
	sqlText, err := BuildSQL(domain.CanonicalQuery{
		Metric:      "visits",
		Aggregation: "sum",
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-02",
		Filters: []domain.CanonicalFilter{
			{Column: "page_path", Values: []string{"/o'brien"}},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sqlText, "page_path IN ('/o''brien')")
}

func TestBuildSQL_RejectsNonWhitelistedColumns(t *testing.T) {
	_, err := BuildSQL(domain.CanonicalQuery{
		Metric:      "visits",
		Aggregation: "sum",
		StartDate:   "2024-01-01",
		EndDate:     "2024-01-02",
		GroupBy:     []string{"password"},
	})
	var rejected *domain.EngineRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestConvertCell(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		name    string
		raw     *string
		colType string
		want    interface{}
	}{
		{"nil stays nil", nil, "bigint", nil},
		{"bigint", str("1234"), "bigint", int64(1234)},
		{"double", str("3.5"), "double", 3.5},
		{"boolean", str("true"), "boolean", true},
		{"date passthrough", str("2024-01-15"), "date", "2024-01-15"},
		{"varchar", str("mobile"), "varchar", "mobile"},
		{"unparseable int falls back", str("n/a"), "bigint", "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, convertCell(tt.raw, tt.colType))
		})
	}
}
