package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/cache"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/relay"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/session"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/monitoring"
)

// DefaultMaxRequestBody bounds inbound bodies forwarded upstream.
const DefaultMaxRequestBody int64 = 10 << 20

// BreakerLister reports upstream hosts whose circuit breaker is open.
type BreakerLister interface {
	Open() []string
}

// Config configures the handlers.
type Config struct {
	// ProxyPath is the path rewritten references point at.
	ProxyPath string
	// PublicOrigin, when set, replaces the origin derived from requests.
	PublicOrigin   string
	MaxRequestBody int64
}

// Handlers serves the relay endpoints.
type Handlers struct {
	relay    *relay.Relay
	cache    *cache.Cache
	jar      *session.Jar
	breakers BreakerLister
	metrics  *monitoring.Metrics
	cfg      Config
	logger   *zap.Logger
	started  time.Time
}

// NewHandlers creates the handler set. breakers and metrics may be nil.
func NewHandlers(r *relay.Relay, c *cache.Cache, jar *session.Jar, breakers BreakerLister, metrics *monitoring.Metrics, cfg Config, logger *zap.Logger) *Handlers {
	if cfg.ProxyPath == "" {
		cfg.ProxyPath = relay.DefaultProxyPath
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = DefaultMaxRequestBody
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		relay:    r,
		cache:    c,
		jar:      jar,
		breakers: breakers,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		started:  time.Now(),
	}
}

// Register mounts every route on router. aliases serve the relay under
// additional paths; rewritten references always use ProxyPath.
func (h *Handlers) Register(router gin.IRouter, aliases ...string) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	router.Any(h.cfg.ProxyPath, h.Relay)
	for _, alias := range aliases {
		router.Any(alias, h.Relay)
	}

	router.POST("/sessions", h.CreateSession)
	router.DELETE("/sessions/:id", h.DeleteSession)
}

// Root describes the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "webrelay",
		"relay":   h.cfg.ProxyPath + "?url=<target>&session=<id>",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Health reports liveness and resource usage
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"cache":    h.cache.Stats(),
		"sessions": h.jar.Len(),
	}

	open := []string{}
	if h.breakers != nil {
		if hosts := h.breakers.Open(); len(hosts) > 0 {
			open = hosts
		}
	}
	body["open_breakers"] = open

	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}

	c.JSON(http.StatusOK, body)
}
