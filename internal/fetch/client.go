package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
)

// Fetcher performs network requests
type Fetcher interface {
	Fetch(ctx context.Context, req *types.Request) (*types.Response, error)
}

// ErrStatus reports a response whose status the caller cannot use
var ErrStatus = errors.New("unexpected response status")

// CheckStatus returns ErrStatus wrapped with the status when resp is not 2xx
func CheckStatus(resp *types.Response) error {
	if resp.Status < 200 || resp.Status > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.Status)
	}
	return nil
}

// errServerStatus marks 5xx responses as breaker failures without turning
// them into errors for the caller.
var errServerStatus = errors.New("upstream server error")

// hopHeaders are never forwarded in either direction
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Options configures a Client
type Options struct {
	Name      string
	Timeout   time.Duration
	Retries   int
	RPS       float64
	UserAgent string
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
	Tracer    *tracing.Tracer
}

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	Mu      sync.RWMutex

	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// leveledLogger adapts zap to retryablehttp's logger interface
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

// NewClient creates a production-ready fetch client
func NewClient(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "upstream"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "shellcache/1.0"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	logger := opts.Logger.Named("fetch")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{s: logger.Sugar()}

	restyClient := resty.NewWithClient(retryClient.StandardClient())
	restyClient.
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent)

	c := &Client{
		Resty:   restyClient,
		Limiter: rate.NewLimiter(rate.Inf, 0),
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
	c.SetRateLimit(opts.RPS)

	c.Breaker = resilience.New(opts.Name, resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if c.metrics != nil {
				c.metrics.SetBreakerState(name, int(to))
			}
		},
	})

	return c
}

// SetRateLimit configures rate limiting (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}

// request creates a resty request once the breaker and limiter allow it
func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if c.BreakerState() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	c.Mu.RLock()
	limiter := c.Limiter
	c.Mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// Fetch performs req against the network. Non-2xx statuses are returned as
// responses; only transport failures, an open breaker or cancellation are
// errors.
func (c *Client) Fetch(ctx context.Context, req *types.Request) (out *types.Response, err error) {
	if req.URL == nil || !req.URL.IsAbs() {
		return nil, fmt.Errorf("fetch requires an absolute URL, got %q", req.URL)
	}

	if c.tracer != nil {
		var span *tracing.Span
		span, ctx = c.tracer.StartSpan(ctx, "fetch")
		span.SetTag("http.method", req.Method)
		span.SetTag("http.host", req.Hostname())
		defer func() {
			if out != nil {
				span.SetStatus(out.Status)
			}
			span.SetError(err)
			span.Finish()
			c.tracer.Submit(span)
		}()
	}

	r, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	header := forwardHeader(req.Header)
	tracing.Inject(ctx, header)
	r.SetHeaderMultiValues(header)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	host := req.Hostname()
	start := time.Now()

	resp, err := resilience.Do(c.Breaker, func() (*resty.Response, error) {
		resp, err := r.Execute(req.Method, req.URL.String())
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if err != nil && !errors.Is(err, errServerStatus) {
		c.record(host, 0, time.Since(start))
		c.logger.Debug("Network fetch failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("fetch %s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	c.record(host, resp.StatusCode(), time.Since(start))
	return &types.Response{
		Status: resp.StatusCode(),
		Header: responseHeader(resp.Header()),
		Body:   resp.Body(),
	}, nil
}

func (c *Client) record(host string, status int, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordUpstream(host, status, d)
	}
}

// forwardHeader copies request headers minus hop-by-hop ones. Accept-Encoding
// is dropped so the transport negotiates and decodes compression itself.
func forwardHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	for _, k := range hopHeaders {
		delete(out, k)
	}
	delete(out, "Accept-Encoding")
	delete(out, "Host")
	return out
}

// responseHeader copies response headers minus hop-by-hop ones and the
// length, which is recomputed when the body is written.
func responseHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	out.Del("Content-Length")
	return out
}
