package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewHTTPMetricsWithRegisterer(reg)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/api/plans", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/api/plans", http.MethodGet, "200"))
	if got != 3 {
		t.Fatalf("expected 3 requests, got %v", got)
	}

	again := NewHTTPMetricsWithRegisterer(reg)
	if again.requests != m.requests {
		t.Fatalf("expected re-registration to reuse collectors")
	}
}
