package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infofitsoftware/athena-dashboard/internal/domain"
)

func newTestCanonicalizer() *Canonicalizer {
	return New(500, 10000)
}

func validRequest() domain.QueryRequest {
	return domain.QueryRequest{
		CallerKey: "analyst1",
		Params: map[string]string{
			"start":  "2024-01-01",
			"end":    "2024-01-31",
			"metric": "visits",
		},
	}
}

func TestCanonicalize_Scenario(t *testing.T) {
	c := newTestCanonicalizer()

	q, err := c.Canonicalize(validRequest())
	require.NoError(t, err)

	assert.Equal(t, "visits", q.Metric)
	assert.Equal(t, "sum", q.Aggregation)
	assert.Equal(t, "2024-01-01", q.StartDate)
	assert.Equal(t, "2024-01-31", q.EndDate)
	assert.Equal(t, 500, q.MaxRows)
	assert.NotEmpty(t, q.Fingerprint())
}

func TestCanonicalize_DeterministicFingerprint(t *testing.T) {
	c := newTestCanonicalizer()

	r1 := domain.QueryRequest{
		Params: map[string]string{
			"start":  "2024-01-01",
			"end":    "2024-01-31",
			"metric": "Visits",
		},
		Filters: map[string][]string{
			"country": {"US", "de", " fr "},
			"device":  {"Mobile"},
		},
		GroupBy: []string{"Country", "device"},
	}
	r2 := domain.QueryRequest{
		Params: map[string]string{
			"metric": "  visits ",
			"end":    "2024-01-31",
			"start":  "2024-01-01",
		},
		Filters: map[string][]string{
			"device":  {"mobile", "MOBILE"},
			"country": {"fr", "US", "DE"},
		},
		GroupBy: []string{"device", "country", "device"},
	}

	q1, err := c.Canonicalize(r1)
	require.NoError(t, err)
	q2, err := c.Canonicalize(r2)
	require.NoError(t, err)

	assert.Equal(t, q1.Encode(), q2.Encode())
	assert.Equal(t, q1.Fingerprint(), q2.Fingerprint())
}

func TestCanonicalize_DifferentQueriesDiffer(t *testing.T) {
	c := newTestCanonicalizer()

	q1, err := c.Canonicalize(validRequest())
	require.NoError(t, err)

	other := validRequest()
	other.Params["metric"] = "pageviews"
	q2, err := c.Canonicalize(other)
	require.NoError(t, err)

	assert.NotEqual(t, q1.Fingerprint(), q2.Fingerprint())
}

func TestCanonicalize_FilterValueContentCannotCollide(t *testing.T) {
	c := newTestCanonicalizer()

	// One value containing a comma vs. two values: without length prefixes
	// these would encode to the same bytes.
	joined := validRequest()
	joined.Filters = map[string][]string{"page_path": {"a,b"}}
	split := validRequest()
	split.Filters = map[string][]string{"page_path": {"a", "b"}}

	qJoined, err := c.Canonicalize(joined)
	require.NoError(t, err)
	qSplit, err := c.Canonicalize(split)
	require.NoError(t, err)

	assert.NotEqual(t, qJoined.Encode(), qSplit.Encode())
	assert.NotEqual(t, qJoined.Fingerprint(), qSplit.Fingerprint())
}

func TestCanonicalize_FilterValueCannotForgeKeyLines(t *testing.T) {
	c := newTestCanonicalizer()

	// A newline inside a value must stay value content, not become a new
	// "group_by=" line in the encoding.
	crafted := validRequest()
	crafted.Filters = map[string][]string{"page_path": {"x\ngroup_by=country"}}
	grouped := validRequest()
	grouped.Filters = map[string][]string{"page_path": {"x"}}
	grouped.GroupBy = []string{"country"}

	qCrafted, err := c.Canonicalize(crafted)
	require.NoError(t, err)
	qGrouped, err := c.Canonicalize(grouped)
	require.NoError(t, err)

	assert.NotEqual(t, qCrafted.Fingerprint(), qGrouped.Fingerprint())
}

func TestCanonicalize_ValidationFailures(t *testing.T) {
	c := newTestCanonicalizer()

	tests := []struct {
		name      string
		mutate    func(r *domain.QueryRequest)
		wantParam string
	}{
		{
			name:      "unknown parameter",
			mutate:    func(r *domain.QueryRequest) { r.Params["limit"] = "10" },
			wantParam: "limit",
		},
		{
			name:      "missing metric",
			mutate:    func(r *domain.QueryRequest) { delete(r.Params, "metric") },
			wantParam: "metric",
		},
		{
			name:      "unknown metric",
			mutate:    func(r *domain.QueryRequest) { r.Params["metric"] = "revenue" },
			wantParam: "metric",
		},
		{
			name:      "bad aggregation",
			mutate:    func(r *domain.QueryRequest) { r.Params["agg"] = "median" },
			wantParam: "agg",
		},
		{
			name:      "unparsable start date",
			mutate:    func(r *domain.QueryRequest) { r.Params["start"] = "01/15/2024" },
			wantParam: "start",
		},
		{
			name:      "end before start",
			mutate:    func(r *domain.QueryRequest) { r.Params["end"] = "2023-12-31" },
			wantParam: "end",
		},
		{
			name:      "filter column outside whitelist",
			mutate:    func(r *domain.QueryRequest) { r.Filters = map[string][]string{"user_id": {"42"}} },
			wantParam: "user_id",
		},
		{
			name:      "filter with no values",
			mutate:    func(r *domain.QueryRequest) { r.Filters = map[string][]string{"country": {"  "}} },
			wantParam: "country",
		},
		{
			name:      "group by outside whitelist",
			mutate:    func(r *domain.QueryRequest) { r.GroupBy = []string{"session_id"} },
			wantParam: "group_by",
		},
		{
			name:      "negative page size",
			mutate:    func(r *domain.QueryRequest) { r.PageSize = -1 },
			wantParam: "page_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := c.Canonicalize(req)
			require.Error(t, err)

			var invalid *domain.InvalidQueryError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.wantParam, invalid.Param)
		})
	}
}

func TestCanonicalize_PageSize(t *testing.T) {
	c := New(500, 1000)

	req := validRequest()
	req.PageSize = 250
	q, err := c.Canonicalize(req)
	require.NoError(t, err)
	assert.Equal(t, 250, q.MaxRows)

	req.PageSize = 5000
	q, err = c.Canonicalize(req)
	require.NoError(t, err)
	assert.Equal(t, 1000, q.MaxRows, "page size above the cap is clamped")
}

func TestMetricColumn(t *testing.T) {
	col, ok := MetricColumn("avg_session_duration")
	require.True(t, ok)
	assert.Equal(t, "session_duration_secs", col)

	_, ok = MetricColumn("revenue")
	assert.False(t, ok)
}
