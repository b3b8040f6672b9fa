package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.NewVertices.Inc()
	m.NewVertices.Inc()
	m.SolidMilestoneIndex.Set(12)
	require.EqualValues(t, 2, testutil.ToFloat64(m.NewVertices))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.True(t, strings.Contains(body, "tangle_new_vertices_total 2"))
	require.True(t, strings.Contains(body, "tangle_solid_milestone_index 12"))
}

func TestNop(t *testing.T) {
	m := NewNop()
	m.Tips.Set(3)
	require.EqualValues(t, 3, testutil.ToFloat64(m.Tips))
}
