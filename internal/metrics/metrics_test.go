package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	m := New()
	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/reviews", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reviews": []string{}})
	})
	router.GET("/metrics", m.Handler())

	for range 2 {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/reviews", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	t.Run("ルートパターンごとに件数が記録されること", func(t *testing.T) {
		assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/api/reviews", "200")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404")))
	})

	t.Run("/metricsでテキスト形式のメトリクスが返ること", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.True(t, strings.Contains(body, "reviewdrop_http_requests_total"), "http_requests_totalが含まれていない")
		assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
	})
}

func TestDomainCounters(t *testing.T) {
	t.Parallel()

	t.Run("レビューと報酬のカウンターが加算されること", func(t *testing.T) {
		t.Parallel()

		m := New()
		m.ReviewCreated()
		m.ReviewCreated()
		m.RewardOutcome("minting")
		m.RewardMint(MintResultSuccess)
		m.RewardMint(MintResultFailure)
		m.RewardMint(MintResultFailure)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.reviewsCreated))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.rewardOutcomes.WithLabelValues("minting")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.rewardMints.WithLabelValues(MintResultSuccess)))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.rewardMints.WithLabelValues(MintResultFailure)))
	})

	t.Run("nilのMetricsでもパニックしないこと", func(t *testing.T) {
		t.Parallel()

		var m *Metrics
		assert.NotPanics(t, func() {
			m.ReviewCreated()
			m.RewardOutcome("holder")
			m.RewardMint(MintResultSuccess)
		})
	})
}
