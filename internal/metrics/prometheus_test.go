package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("test-service"))
	router.POST("/api/assess-risk", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/assess-risk/history/:sessionId", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", Handler())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/assess-risk", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/assess-risk/history/sess-1", nil))

	body := scrape(t, router)
	assert.Contains(t, body, "riskengine_http_requests_total")
	assert.Contains(t, body, "riskengine_http_request_duration_seconds")
	assert.Contains(t, body, `service="test-service"`)
	assert.Contains(t, body, `path="/api/assess-risk/history/:sessionId"`, "route template, not raw path")
	assert.NotContains(t, body, "sess-1")
	assert.NotContains(t, body, `path="/metrics"`)
}

func TestMiddleware_ConcurrentRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("concurrent-test"))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(20), testutil.ToFloat64(httpRequestsTotal.WithLabelValues("concurrent-test", "GET", "/ping", "200")))
	assert.Equal(t, float64(0), testutil.ToFloat64(httpRequestsInFlight.WithLabelValues("concurrent-test")))
}

func TestRecordAssessment(t *testing.T) {
	before := testutil.ToFloat64(assessmentsTotal.WithLabelValues("HIGH", "block"))

	RecordAssessment("checkout", "HIGH", "block", 85, 40*time.Millisecond)
	RecordAssessment("checkout", "HIGH", "block", 91, 10*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(assessmentsTotal.WithLabelValues("HIGH", "block")))
}

func TestReputationMetrics(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	evictions := testutil.ToFloat64(cacheEvictionsTotal)

	RecordCacheLookup("hit")
	RecordCacheEvictions(100, 900)

	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, evictions+100, testutil.ToFloat64(cacheEvictionsTotal))
	assert.Equal(t, float64(900), testutil.ToFloat64(cacheSize))

	SetCacheSize(12)
	assert.Equal(t, float64(12), testutil.ToFloat64(cacheSize))
}

func TestCounters(t *testing.T) {
	degraded := testutil.ToFloat64(analyzerDegradedTotal.WithLabelValues("behavioral"))
	persist := testutil.ToFloat64(persistFailuresTotal)
	sharedMiss := testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("get", "miss"))

	RecordAnalyzerDegraded("behavioral")
	RecordPersistFailure()
	RecordCacheOperation("get", "miss")
	RecordProviderCall("single", "success", 120*time.Millisecond)
	RecordDBQuery("insert", "risk_assessments", 3*time.Millisecond)

	assert.Equal(t, degraded+1, testutil.ToFloat64(analyzerDegradedTotal.WithLabelValues("behavioral")))
	assert.Equal(t, persist+1, testutil.ToFloat64(persistFailuresTotal))
	assert.Equal(t, sharedMiss+1, testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("get", "miss")))
}
