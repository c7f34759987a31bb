package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/agent"
	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/cache/disk"
	"github.com/GriffinCanCode/shellcache/internal/host"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// Host is the part of host.Host the handlers drive
type Host interface {
	Fetch(ctx context.Context, req *types.Request) (*agent.Result, error)
	Message(ctx context.Context, msg types.Message, port agent.Port) error
	Sync(ctx context.Context, tag string) (bool, error)
	SyncTags() []string
	Stats() types.Stats
	ActiveVersion() string
}

// ScopeFunc reports whether an absolute-form proxy target may be fetched
type ScopeFunc func(u *url.URL) bool

// usageReporter is implemented by storages that can size a bucket at rest
type usageReporter interface {
	Usage(name string) (disk.Usage, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	host    Host
	storage cache.Storage
	origin  string
	scope   ScopeFunc
	logger  *logging.Logger
}

// NewHandlers creates a new handler set. origin is the app origin that
// relative proxy requests are resolved against. Absolute-form requests are
// limited to that origin until WithScope widens it.
func NewHandlers(h Host, storage cache.Storage, origin string, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	handlers := &Handlers{
		host:    h,
		storage: storage,
		origin:  origin,
		logger:  logger.Named("api"),
	}
	handlers.scope = sameOrigin(origin)
	return handlers
}

// WithScope sets the check applied to absolute-form proxy targets
func (h *Handlers) WithScope(scope ScopeFunc) *Handlers {
	if scope != nil {
		h.scope = scope
	}
	return h
}

// AnyTarget allows every absolute-form target, turning the proxy into an
// open forward proxy.
func AnyTarget(*url.URL) bool { return true }

func sameOrigin(origin string) ScopeFunc {
	base, err := url.Parse(origin)
	if err != nil {
		return func(*url.URL) bool { return false }
	}
	want := strings.ToLower(base.Scheme + "://" + base.Host)
	return func(u *url.URL) bool {
		return strings.ToLower(u.Scheme+"://"+u.Host) == want
	}
}

// BucketInfo describes one stored bucket. Bytes is reported only by
// backends that keep buckets on disk.
type BucketInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   *int64 `json:"bytes,omitempty"`
	Current bool   `json:"current"`
}

// Health handles the health check
func (h *Handlers) Health(c *gin.Context) {
	stats := h.host.Stats()
	status := "healthy"
	if stats.Active == nil {
		status = "installing"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"host":   stats,
	})
}

// Version reports the active worker's version
func (h *Handlers) Version(c *gin.Context) {
	version := h.host.ActiveVersion()
	if version == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": host.ErrNoWorker.Error()})
		return
	}
	c.JSON(http.StatusOK, types.Reply{Version: version})
}

// Buckets lists stored buckets with their entry counts
func (h *Handlers) Buckets(c *gin.Context) {
	ctx := c.Request.Context()

	names, err := h.storage.Keys(ctx)
	if err != nil {
		h.logger.Error("Failed to list buckets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	active := h.host.ActiveVersion()
	sizer, _ := h.storage.(usageReporter)
	buckets := make([]BucketInfo, 0, len(names))
	for _, name := range names {
		// Lookup never creates, so a bucket deleted by activation since
		// Keys is skipped rather than brought back.
		bucket, err := h.storage.Lookup(ctx, name)
		if errors.Is(err, cache.ErrNoBucket) {
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		keys, err := bucket.Keys(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		info := BucketInfo{Name: name, Entries: len(keys), Current: name == active}
		if sizer != nil {
			if usage, err := sizer.Usage(name); err == nil {
				info.Bytes = &usage.Bytes
			} else {
				h.logger.Debug("Bucket usage unavailable", zap.String("bucket", name), zap.Error(err))
			}
		}
		buckets = append(buckets, info)
	}

	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// replyPort keeps the last reply posted during one message dispatch
type replyPort struct {
	mu    sync.Mutex
	reply *types.Reply
}

func (p *replyPort) PostMessage(reply types.Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reply = &reply
	return nil
}

// Message posts a page message to the agent. A reply is returned as JSON;
// messages without one answer 204.
func (h *Handlers) Message(c *gin.Context) {
	var msg types.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	port := &replyPort{}
	if err := h.host.Message(c.Request.Context(), msg, port); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	port.mu.Lock()
	reply := port.reply
	port.mu.Unlock()

	if reply == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// Sync triggers a background sync by tag
func (h *Handlers) Sync(c *gin.Context) {
	tag := c.Param("tag")

	handled, err := h.host.Sync(c.Request.Context(), tag)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "tag": tag})
		return
	}
	if !handled {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown sync tag", "tag": tag, "known": h.host.SyncTags()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tag": tag, "status": "complete"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, host.ErrNoWorker):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
