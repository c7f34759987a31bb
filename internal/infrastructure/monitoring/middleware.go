package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// proxyRoute labels requests that fell through to the proxy catch-all, so
// arbitrary app paths do not become label values.
const proxyRoute = "proxy"

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = proxyRoute
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Timer measures an agent event handler
type Timer struct {
	start   time.Time
	metrics *Metrics
	event   string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, event string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		event:   event,
	}
}

// Stop records the duration under success or error. A timer without
// metrics only measures.
func (t *Timer) Stop(err error) time.Duration {
	duration := time.Since(t.start)
	if t.metrics == nil {
		return duration
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	t.metrics.EventDuration.WithLabelValues(t.event, status).Observe(duration.Seconds())
	return duration
}
