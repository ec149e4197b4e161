package middleware

import (
	"strings"
	"time"

	"github.com/annel0/mmo-atlas/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey - ключ gin.Context с trace-ID запроса
const TraceIDKey = "trace_id"

// RequestLogger пишет по строке на запрос к атласу: вид маршрута, измерение, статус.
// Служебные маршруты (health, metrics) идут на DEBUG.
type RequestLogger struct {
	logger *logging.Logger
}

// NewRequestLogger создаёт middleware; nil - логгер компонента api
func NewRequestLogger(logger *logging.Logger) *RequestLogger {
	if logger == nil {
		logger = logging.GetAPILogger()
	}
	return &RequestLogger{logger: logger}
}

// RouteKind относит шаблон маршрута gin к разделу API
func RouteKind(route string) string {
	switch {
	case route == "":
		return "unmatched"
	case strings.HasPrefix(route, "/ws/map/"):
		return "live"
	case strings.HasPrefix(route, "/api/tiles/"):
		if strings.Count(route, "/") > 3 {
			return "tile"
		}
		return "region"
	case strings.HasPrefix(route, "/api/markers/"):
		return "markers"
	case strings.HasPrefix(route, "/api/auth/"):
		return "auth"
	case route == "/health", route == "/metrics":
		return "service"
	}
	return "other"
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := uuid.NewString()
		if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.IsValid() {
			traceID = sc.TraceID().String()
		}
		c.Set(TraceIDKey, traceID)

		start := time.Now()
		c.Next()

		kind := RouteKind(c.FullPath())
		status := c.Writer.Status()
		line := "%s %s %s dim=%s -> %d за %s ip=%s trace=%s"
		args := []interface{}{kind, c.Request.Method, c.Request.URL.Path, dimOf(c), status, time.Since(start), c.ClientIP(), traceID}

		switch {
		case status >= 500:
			rl.logger.Error("🌐 "+line, args...)
		case status >= 400:
			rl.logger.Warn("🌐 "+line, args...)
		case kind == "service":
			rl.logger.Debug("🌐 "+line, args...)
		default:
			rl.logger.Info("🌐 "+line, args...)
		}
	}
}

func dimOf(c *gin.Context) string {
	if dim := c.Param("dim"); dim != "" {
		return dim
	}
	return "-"
}
