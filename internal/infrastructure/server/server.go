package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/shellcache/internal/agent"
	apihttp "github.com/GriffinCanCode/shellcache/internal/api/http"
	"github.com/GriffinCanCode/shellcache/internal/api/middleware"
	"github.com/GriffinCanCode/shellcache/internal/api/ws"
	"github.com/GriffinCanCode/shellcache/internal/cache"
	"github.com/GriffinCanCode/shellcache/internal/fetch"
	"github.com/GriffinCanCode/shellcache/internal/host"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/config"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/logging"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/shellcache/internal/infrastructure/tracing"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	host    *host.Host
	worker  *agent.Worker
	storage cache.Storage
	fetcher *fetch.Client
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// Option customises a Server
type Option func(*options)

type options struct {
	storage cache.Storage
	fetcher *fetch.Client
	logger  *logging.Logger
}

// WithStorage replaces the configured storage backend
func WithStorage(storage cache.Storage) Option {
	return func(o *options) { o.storage = storage }
}

// WithFetcher replaces the configured network client
func WithFetcher(fetcher *fetch.Client) Option {
	return func(o *options) { o.fetcher = fetcher }
}

// WithLogger replaces the configured logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}

	logger.Info("Initializing shellcache",
		zap.String("version", cfg.Agent.Version),
		zap.String("origin", cfg.Agent.Origin),
		zap.String("store", cfg.Store.Backend),
	)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	storage := o.storage
	if storage == nil {
		var err error
		storage, err = NewStorage(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
		}
	}

	tracer := tracing.New("shellcache", logger)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = fetch.NewClient(fetch.Options{
			Timeout:   cfg.Fetch.Timeout,
			Retries:   cfg.Fetch.Retries,
			RPS:       cfg.Fetch.RPS,
			UserAgent: cfg.Fetch.UserAgent,
			Logger:    logger,
			Metrics:   metrics,
			Tracer:    tracer,
		})
	}

	worker, err := agent.New(agent.Config{
		Version:  cfg.Agent.Version,
		Origin:   cfg.Agent.Origin,
		CDNHosts: cfg.Agent.CDNHosts,
		Assets:   cfg.Agent.Assets,
		ShellURL: cfg.Agent.ShellURL,
		SyncTags: cfg.Agent.SyncTags,
	}, storage, fetcher, logger)
	if err != nil {
		tracer.Close()
		storage.Close()
		return nil, err
	}
	worker.WithMetrics(metrics)

	h := host.New(fetcher, logger).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		}))
	}

	handlers := apihttp.NewHandlers(h, storage, cfg.Agent.Origin, logger)
	if cfg.Server.ForwardProxy {
		logger.Warn("Forward proxy enabled, absolute-form requests may reach any host")
		handlers.WithScope(apihttp.AnyTarget)
	} else {
		handlers.WithScope(worker.InScope)
	}
	wsHandler := ws.NewHandler(h, logger)

	agentRoutes := router.Group("/_agent")
	agentRoutes.GET("/health", handlers.Health)
	agentRoutes.GET("/version", handlers.Version)
	agentRoutes.GET("/buckets", handlers.Buckets)
	agentRoutes.POST("/messages", handlers.Message)
	agentRoutes.POST("/sync/:tag", handlers.Sync)
	agentRoutes.GET("/ws", wsHandler.HandleConnection)
	agentRoutes.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.NoRoute(handlers.Proxy)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		host:    h,
		worker:  worker,
		storage: storage,
		fetcher: fetcher,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Host returns the worker host
func (s *Server) Host() *host.Host {
	return s.host
}

// Install registers the worker, retrying until it installs or ctx ends
func (s *Server) Install(ctx context.Context) error {
	return s.host.RegisterWithRetry(ctx, s.worker, s.config.Agent.InstallRetryInterval)
}

// Run installs the worker in the background and serves HTTP until ctx
// ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	installCtx, cancelInstall := context.WithCancel(ctx)
	installDone := make(chan struct{})
	// The store outlives Run, so the install must be over before returning
	defer func() {
		cancelInstall()
		<-installDone
	}()
	go func() {
		defer close(installDone)
		if err := s.Install(installCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Install abandoned", zap.Error(err))
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the storage backend and flushes spans and logs
func (s *Server) Close() error {
	s.tracer.Close()
	err := s.storage.Close()
	if err != nil {
		s.logger.Error("Failed to close store", zap.Error(err))
	}
	_ = s.logger.Sync()
	return err
}
