package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestPathLabel(t *testing.T) {
	cases := map[string]string{
		"/":                "root",
		"":                 "root",
		"/health":          "health",
		"/progress/":       "progress",
		"/api/v1/anything": "api_v1",
	}
	for in, want := range cases {
		if got := pathLabel(in); got != want {
			t.Errorf("pathLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `replicator_http_requests_total{method="GET",path="health",status="200"}`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("exposition missing %s", want)
	}
}
