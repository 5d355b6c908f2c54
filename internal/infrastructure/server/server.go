package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/webrelay/backend/internal/api/http"
	"github.com/GriffinCanCode/webrelay/backend/internal/api/middleware"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/cache"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/relay"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/session"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webrelay/backend/internal/providers/http/client"
	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	relay   *relay.Relay
	cache   *cache.Cache
	jar     *session.Jar
	fetcher *client.Client
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return newServer(cfg, logger)
}

func newServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing webrelay server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("relay_path", cfg.Relay.Path),
		zap.Strings("aliases", cfg.Relay.Aliases),
	)

	policy, err := utils.NewHostPolicy(cfg.Policy.DenyHosts, cfg.Policy.BlockPrivate)
	if err != nil {
		return nil, fmt.Errorf("invalid host policy: %w", err)
	}

	// Private registry so several servers can coexist in one process.
	metrics := monitoring.NewRegistryMetrics()
	tracer := tracing.New("webrelay", logger.Component("tracing"))

	fetcher := client.New(client.Config{
		Timeout:         cfg.Relay.Timeout.Std(),
		MaxRedirects:    cfg.Upstream.MaxRedirects,
		MaxBodyBytes:    cfg.Relay.MaxBodyBytes,
		Retries:         cfg.Upstream.Retries,
		RateLimit:       cfg.Upstream.RateLimit,
		Burst:           cfg.Upstream.Burst,
		BreakerFailures: cfg.Upstream.BreakerFailures,
		BreakerTimeout:  cfg.Upstream.BreakerTimeout.Std(),
		Policy:          policy,
	}, logger.Component("upstream"))

	store := cache.New(cache.Config{
		MaxBytes:     cfg.Cache.MaxBytes,
		MaxItemBytes: cfg.Cache.MaxItemBytes,
		TTL:          cfg.Cache.TTL.Std(),
	})
	jar := session.NewJar(cfg.Session.IdleTimeout.Std())

	metrics.TrackCache(store)
	metrics.TrackSessions(jar)
	metrics.TrackBreakers(fetcher.Breakers)

	rl := relay.New(fetcher, store, jar,
		relay.WithTimeout(cfg.Relay.Timeout.Std()),
		relay.WithLogger(logger.Component("relay")),
		relay.WithHostPolicy(policy),
		relay.WithObserver(metrics),
		relay.WithProxyPath(cfg.Relay.Path),
		relay.WithUserAgent(cfg.Relay.UserAgent),
		relay.WithMaxBodyBytes(cfg.Relay.MaxBodyBytes),
		relay.WithDedup(cfg.Relay.Dedup),
	)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery(logger.Component("http")))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.Logger(logger.Component("http")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.CORS.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Bool("global", cfg.RateLimit.Global),
		)
		rateCfg := middleware.DefaultRateLimitConfig()
		rateCfg.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rateCfg.Burst = cfg.RateLimit.Burst
		if cfg.RateLimit.Global {
			router.Use(middleware.GlobalRateLimit(rateCfg))
		} else {
			router.Use(middleware.RateLimit(rateCfg))
		}
	}

	handlers := api.NewHandlers(rl, store, jar, fetcher.Breakers, metrics, api.Config{
		ProxyPath:    cfg.Relay.Path,
		PublicOrigin: cfg.Relay.PublicOrigin,
	}, logger.Component("api"))
	handlers.Register(router, cfg.Relay.Aliases...)

	router.GET("/metrics", monitoring.Handler(metrics))

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		relay:   rl,
		cache:   store,
		jar:     jar,
		fetcher: fetcher,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully. The cache and
// session sweepers run for the lifetime of the call.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.cache.Run(ctx, s.config.Cache.SweepInterval.Std())
	}()
	go func() {
		defer wg.Done()
		s.jar.Run(ctx, s.config.Session.SweepInterval.Std())
	}()
	defer wg.Wait()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
	defer stop()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases the tracer and flushes the logger.
func (s *Server) Close() error {
	s.tracer.Close()
	return s.logger.Close()
}
