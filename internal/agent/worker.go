package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/fetch"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/shared/types"
	"github.com/GriffinCanCode/shellcache/internal/shared/utils"
)

var (
	// ErrNotIntercepted tells the host to send the request to the network untouched
	ErrNotIntercepted = errors.New("request not intercepted")
	// ErrInvalidConfig is returned by New for unusable configuration
	ErrInvalidConfig = errors.New("invalid agent config")
)

// Controls are the host capabilities a worker may invoke
type Controls interface {
	// SkipWaiting asks the host to activate this worker without waiting
	SkipWaiting()
	// Claim makes this worker the controller of every connected client
	Claim(ctx context.Context) error
}

// Port carries a reply back to the page that sent a message
type Port interface {
	PostMessage(reply types.Reply) error
}

// Config describes one agent version
type Config struct {
	Version  string
	Origin   string
	CDNHosts []string
	Assets   []string
	ShellURL string
	SyncTags []string
}

// Result is the outcome of an intercepted fetch
type Result struct {
	Response *types.Response
	// Outcome is one of the monitoring.Outcome* lookup labels
	Outcome string
}

// Worker is a cache agent bound to one version
type Worker struct {
	version  string
	origin   string
	cdnHosts []string
	assets   []string
	shellURL string
	syncs    map[string]SyncFunc

	storage cache.Storage
	fetcher fetch.Fetcher
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// New creates a worker. Relative assets and the shell URL are resolved
// against the origin once, here.
func New(cfg Config, storage cache.Storage, fetcher fetch.Fetcher, logger *logging.Logger) (*Worker, error) {
	if err := utils.ValidateName(cfg.Version); err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrInvalidConfig, err)
	}
	base, err := url.Parse(cfg.Origin)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("%w: origin must be an absolute URL, got %q", ErrInvalidConfig, cfg.Origin)
	}
	if base.Path == "" {
		base.Path = "/"
	}
	for _, pattern := range cfg.CDNHosts {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("%w: bad CDN host pattern %q", ErrInvalidConfig, pattern)
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	assets := make([]string, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		resolved, err := resolve(base, asset)
		if err != nil {
			return nil, fmt.Errorf("%w: asset %q: %v", ErrInvalidConfig, asset, err)
		}
		assets = append(assets, resolved)
	}

	shellURL := ""
	if cfg.ShellURL != "" {
		shellURL, err = resolve(base, cfg.ShellURL)
		if err != nil {
			return nil, fmt.Errorf("%w: shell url %q: %v", ErrInvalidConfig, cfg.ShellURL, err)
		}
	}

	w := &Worker{
		version:  cfg.Version,
		origin:   strings.ToLower(base.Scheme + "://" + base.Host),
		cdnHosts: cfg.CDNHosts,
		assets:   assets,
		shellURL: shellURL,
		syncs:    make(map[string]SyncFunc),
		storage:  storage,
		fetcher:  fetcher,
		logger:   logger.Named("agent").With(zap.String("version", cfg.Version)),
	}
	for _, tag := range cfg.SyncTags {
		w.syncs[tag] = w.syncScores
	}
	return w, nil
}

// WithMetrics adds metrics tracking to the worker
func (w *Worker) WithMetrics(metrics *monitoring.Metrics) *Worker {
	w.metrics = metrics
	return w
}

// Version returns the bucket name this worker reads and writes
func (w *Worker) Version() string {
	return w.version
}

// Origin returns the application origin as scheme://host
func (w *Worker) Origin() string {
	return w.origin
}

// Assets returns the resolved asset manifest
func (w *Worker) Assets() []string {
	return append([]string(nil), w.assets...)
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// OnInstall opens the version bucket and fills it with every asset. All
// assets are fetched before any is stored, so a single failure leaves the
// bucket untouched.
func (w *Worker) OnInstall(ctx context.Context, ctl Controls) (err error) {
	timer := monitoring.NewTimer(w.metrics, "install")
	defer func() { timer.Stop(err) }()

	w.logger.Info("Installing", zap.Int("assets", len(w.assets)))

	bucket, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", w.version, err)
	}

	entries := make([]*cache.Entry, len(w.assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, asset := range w.assets {
		g.Go(func() error {
			req := types.NewRequest(http.MethodGet, asset)
			resp, err := w.fetcher.Fetch(gctx, req)
			if err != nil {
				return err
			}
			if err := fetch.CheckStatus(resp); err != nil {
				return fmt.Errorf("%s: %w", asset, err)
			}
			entries[i] = cache.NewEntry(req, resp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.logger.Error("Install failed", zap.Error(err))
		return fmt.Errorf("install %s: %w", w.version, err)
	}

	if err := cache.PutAll(ctx, bucket, entries); err != nil {
		w.logger.Error("Install failed to store assets", zap.Error(err))
		return fmt.Errorf("install %s: %w", w.version, err)
	}

	w.logger.Info("Assets cached", zap.Int("assets", len(entries)))
	ctl.SkipWaiting()
	return nil
}

// OnActivate deletes every bucket not named by this version, then claims
// all clients.
func (w *Worker) OnActivate(ctx context.Context, ctl Controls) (err error) {
	timer := monitoring.NewTimer(w.metrics, "activate")
	defer func() { timer.Stop(err) }()

	w.logger.Info("Activating")

	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	for _, name := range names {
		if name == w.version {
			continue
		}
		deleted, err := w.storage.Delete(ctx, name)
		if err != nil {
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}
		if deleted {
			w.logger.Info("Deleted stale bucket", zap.String("bucket", name))
			if w.metrics != nil {
				w.metrics.RecordBucketDeleted()
			}
		}
	}

	return ctl.Claim(ctx)
}

// Intercepts reports whether OnFetch would handle req
func (w *Worker) Intercepts(req *types.Request) bool {
	return req.Method == http.MethodGet && w.InScope(req.URL)
}

// InScope reports whether u belongs to the app origin or an allow-listed
// CDN host, whatever the method.
func (w *Worker) InScope(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	if strings.ToLower(u.Scheme+"://"+u.Host) == w.origin {
		return true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	for _, pattern := range w.cdnHosts {
		if ok, _ := doublestar.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// OnFetch serves req cache-first. Requests outside the app origin and the
// CDN allow-list, and every non-GET, return ErrNotIntercepted.
func (w *Worker) OnFetch(ctx context.Context, req *types.Request) (*Result, error) {
	if !w.Intercepts(req) {
		w.record(monitoring.OutcomeBypass)
		return nil, ErrNotIntercepted
	}

	bucket, err := w.storage.Open(ctx, w.version)
	if err != nil {
		w.record(monitoring.OutcomeError)
		return nil, fmt.Errorf("open bucket %s: %w", w.version, err)
	}

	key := cache.Key(req.Method, req.URL.String())
	entry, err := bucket.Match(ctx, key)
	switch {
	case err == nil:
		w.logger.Debug("Cache hit", zap.String("url", req.URL.String()))
		w.record(monitoring.OutcomeHit)
		return &Result{Response: entry.Response(), Outcome: monitoring.OutcomeHit}, nil
	case !errors.Is(err, cache.ErrNotFound):
		// An unreadable bucket is treated as a miss.
		w.logger.Warn("Cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	w.logger.Debug("Network fetch", zap.String("url", req.URL.String()))
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return w.offline(ctx, bucket, req, err)
	}

	if resp.OK() {
		putErr := bucket.Put(ctx, cache.NewEntry(req, resp))
		if putErr != nil {
			w.logger.Warn("Cache store failed", zap.String("key", key), zap.Error(putErr))
		}
		if w.metrics != nil {
			w.metrics.RecordStore(putErr)
		}
	}

	w.record(monitoring.OutcomeMiss)
	return &Result{Response: resp, Outcome: monitoring.OutcomeMiss}, nil
}

// offline answers a failed network fetch with the stored shell page when
// the request accepts HTML.
func (w *Worker) offline(ctx context.Context, bucket cache.Bucket, req *types.Request, fetchErr error) (*Result, error) {
	if w.shellURL == "" || !req.Accepts("text/html") {
		w.record(monitoring.OutcomeError)
		return nil, fetchErr
	}

	entry, err := bucket.Match(ctx, cache.Key(http.MethodGet, w.shellURL))
	if err != nil {
		w.logger.Warn("Offline shell unavailable", zap.Error(err))
		w.record(monitoring.OutcomeError)
		return nil, fetchErr
	}

	w.logger.Info("Serving offline shell",
		zap.String("url", req.URL.String()),
		zap.NamedError("fetch_error", fetchErr),
	)
	w.record(monitoring.OutcomeOffline)
	return &Result{Response: entry.Response(), Outcome: monitoring.OutcomeOffline}, nil
}

func (w *Worker) record(outcome string) {
	if w.metrics != nil {
		w.metrics.RecordLookup(outcome)
	}
}

// OnMessage handles a page message. Replies go to port; unknown types and
// a missing port are ignored.
func (w *Worker) OnMessage(ctx context.Context, msg types.Message, port Port, ctl Controls) error {
	switch msg.Type {
	case types.MessageSkipWaiting:
		w.logger.Info("Skip waiting requested")
		ctl.SkipWaiting()
	case types.MessageGetVersion:
		if port == nil {
			return nil
		}
		return port.PostMessage(types.Reply{Version: w.version})
	default:
		w.logger.Debug("Ignoring message", zap.String("type", msg.Type))
	}
	return nil
}
