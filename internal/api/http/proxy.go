package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/api/middleware"
	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// MaxProxyBody caps request bodies forwarded upstream
const MaxProxyBody = 10 << 20

// ErrTargetNotAllowed rejects absolute-form requests outside the proxy scope
var ErrTargetNotAllowed = errors.New("proxy target not allowed")

// Proxy answers any request not routed elsewhere. Origin-form requests
// are resolved against the app origin; absolute-form requests keep their
// own URL when the scope allows it and are answered 403 otherwise.
func (h *Handlers) Proxy(c *gin.Context) {
	if c.Request.URL.IsAbs() && !h.scope(c.Request.URL) {
		h.logger.Debug("Proxy target rejected",
			zap.String("method", c.Request.Method),
			zap.String("host", c.Request.URL.Host),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": ErrTargetNotAllowed.Error()})
		return
	}

	req, err := h.buildRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.host.Fetch(c.Request.Context(), req)
	if err != nil {
		status := proxyStatusFor(err)
		h.logger.Debug("Proxy request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Int("status", status),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := result.Response
	header := c.Writer.Header()
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	// Stored copies keep the upstream headers, so typing happens here
	if isCached(result.Outcome) && header.Get("Content-Type") == "" && len(resp.Body) > 0 {
		header.Set("Content-Type", cache.DetectContentType(resp.Body))
	}
	header.Set(middleware.CacheHeader, strings.ToUpper(result.Outcome))

	c.Status(resp.Status)
	if c.Request.Method == http.MethodHead {
		return
	}
	if _, err := c.Writer.Write(resp.Body); err != nil {
		h.logger.Debug("Client went away", zap.Error(err))
	}
}

func (h *Handlers) buildRequest(c *gin.Context) (*types.Request, error) {
	target := c.Request.URL.String()
	if !c.Request.URL.IsAbs() {
		target = strings.TrimSuffix(h.origin, "/") + c.Request.URL.RequestURI()
	}

	req := types.NewRequest(c.Request.Method, target)
	if req.URL.Host == "" {
		return nil, errors.New("cannot resolve request URL")
	}
	req.Header = c.Request.Header.Clone()
	req.Header.Del(middleware.RequestIDHeader)

	if c.Request.Body != nil && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxProxyBody))
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

func isCached(outcome string) bool {
	return outcome == monitoring.OutcomeHit || outcome == monitoring.OutcomeOffline
}

func proxyStatusFor(err error) int {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
