package tracing

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// HTTPMiddleware opens a span per request, continuing any trace named in the
// request headers, and echoes the trace headers on the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := Extract(c.Request.Context(), c.Request.Header)

		name := c.FullPath()
		if name == "" {
			name = "proxy"
		}
		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if outcome := c.Writer.Header().Get(types.CacheHeader); outcome != "" {
			span.SetTag("cache", outcome)
		}
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}
