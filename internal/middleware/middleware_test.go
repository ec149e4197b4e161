package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(reg *prometheus.Registry) (*gin.Engine, *PrometheusMiddleware) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewWriterLogger("api", io.Discard, logging.INFO)).Handler())
	pm := NewPrometheusMiddleware("test_api", reg)
	r.Use(pm.Handler())
	pm.RegisterMetricsEndpoint(r, reg)

	r.GET("/ok", func(c *gin.Context) {
		_, exists := c.Get(TraceIDKey)
		if !exists {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	return r, pm
}

func TestPrometheusMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, pm := newRouter(reg)

	for _, path := range []string{"/ok", "/ok", "/fail", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "/fail", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reqErrors.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.reqInflight))
	assert.Equal(t, 3, testutil.CollectAndCount(pm.reqDuration))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_api_http_request_duration_seconds"))
}

func TestRequestLogger_SetsTraceID(t *testing.T) {
	r, _ := newRouter(prometheus.NewRegistry())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLogger_Lines(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(NewRequestLogger(logging.NewWriterLogger("api", &buf, logging.INFO)).Handler())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/tiles/:dim", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/tiles/:dim/:x/:z", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, path := range []string{"/health", "/api/tiles/minecraft:overworld", "/api/tiles/minecraft:the_nether/1/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, buf.String()) // health - DEBUG

	assert.Contains(t, lines[0], "[INFO] [api] 🌐 region GET /api/tiles/minecraft:overworld dim=minecraft:overworld -> 200")
	assert.Contains(t, lines[1], "[WARN] [api] 🌐 tile GET /api/tiles/minecraft:the_nether/1/2 dim=minecraft:the_nether -> 404")
	assert.Contains(t, lines[1], "trace=")
}

func TestRouteKind(t *testing.T) {
	for route, kind := range map[string]string{
		"":                      "unmatched",
		"/ws/map/:dim":          "live",
		"/api/tiles/:dim":       "region",
		"/api/tiles/:dim/:x/:z": "tile",
		"/api/markers/:dim":     "markers",
		"/api/auth/login":       "auth",
		"/health":               "service",
		"/api/stats":            "other",
	} {
		assert.Equal(t, kind, RouteKind(route), route)
	}
}
