package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		SweepRunsTotal,
		SweepResultsTotal,
		SweepDuration,
		PublishOutcomesTotal,
		GateRefusalsTotal,
		SendDuration,
		SourceFetchesTotal,
		CircuitBreakerState,
		SeenCacheHitsTotal,
	}

	for _, c := range collectors {
		desc := make(chan *prometheus.Desc, 1)
		c.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterIncrements(t *testing.T) {
	before := testutil.ToFloat64(PublishOutcomesTotal.WithLabelValues("deferred"))
	PublishOutcomesTotal.WithLabelValues("deferred").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PublishOutcomesTotal.WithLabelValues("deferred")))
}

func TestHandlerServesMetrics(t *testing.T) {
	SeenCacheHitsTotal.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "headlinebot_seen_cache_hits_total")
}
