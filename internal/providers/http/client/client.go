package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/relay"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/resilience"
)

// Config controls the upstream client.
type Config struct {
	// Timeout is a backstop; the relay passes its own deadline per call.
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is the global requests per second, 0 for unlimited.
	RateLimit float64
	Burst     int
	// BreakerFailures consecutive failures open a host's breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// Policy, when set, is applied to every redirect target.
	Policy relay.HostChecker
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         60 * time.Second,
		MaxRedirects:    10,
		MaxBodyBytes:    relay.DefaultMaxBodyBytes,
		Retries:         1,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		BreakerFailures: 10,
		BreakerTimeout:  30 * time.Second,
	}
}

// Client wraps resty with rate limiting and per-host circuit breakers.
type Client struct {
	Resty    *resty.Client
	Limiter  *rate.Limiter
	Breakers *resilience.Registry

	cfg    Config
	logger *zap.Logger
	mu     sync.RWMutex
}

type redirectCookiesKey struct{}

// redirectCookies collects Set-Cookie values of intermediate hops.
type redirectCookies struct {
	mu     sync.Mutex
	values []string
}

func (r *redirectCookies) add(values []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, values...)
}

func (r *redirectCookies) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

// New creates the upstream client.
func New(cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = max(def.RetryWaitMax, cfg.RetryWaitMin)
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Pooled, keep-alive transport
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTransport(retryClient.HTTPClient.Transport).
		SetCookieJar(nil).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWaitMin).
		SetRetryMaxWaitTime(cfg.RetryWaitMax).
		SetRedirectPolicy(redirectPolicy(cfg.MaxRedirects, cfg.Policy)).
		SetLogger(logger.Sugar())

	failures := cfg.BreakerFailures
	breakers := resilience.NewRegistry(resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller that gave up, or a redirect we refused, says nothing
		// about the host.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, relay.ErrRedirectBlocked)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("upstream circuit breaker changed state",
				zap.String("host", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	c := &Client{
		Resty:    restyClient,
		Limiter:  rate.NewLimiter(rate.Inf, 0),
		Breakers: breakers,
		cfg:      cfg,
		logger:   logger,
	}
	c.SetRateLimit(cfg.RateLimit, cfg.Burst)
	return c
}

// redirectPolicy caps the chain, vets each target host and records
// Set-Cookie of every hop.
func redirectPolicy(limit int, policy relay.HostChecker) resty.RedirectPolicy {
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("%w: stopped after %d", relay.ErrTooManyRedirects, limit)
		}
		if policy != nil {
			if err := policy.Check(req.Context(), req.URL.Hostname()); err != nil {
				return fmt.Errorf("%w: %w", relay.ErrRedirectBlocked, err)
			}
		}
		if req.Response != nil {
			if jar, ok := req.Context().Value(redirectCookiesKey{}).(*redirectCookies); ok {
				jar.add(req.Response.Header.Values("Set-Cookie"))
			}
		}
		return nil
	})
}

// SetRateLimit configures the global limiter; rps <= 0 disables it.
func (c *Client) SetRateLimit(rps float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Client) limiter() *rate.Limiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Limiter
}

// Fetch implements relay.Fetcher.
func (c *Client) Fetch(ctx context.Context, req *relay.UpstreamRequest) (*relay.UpstreamResponse, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	host := target.Hostname()

	if err := c.limiter().Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: rate limited: %w", relay.ErrUpstreamUnavailable, err)
	}

	resp, err := resilience.Do(c.Breakers.Get(host), func() (*relay.UpstreamResponse, error) {
		return c.do(ctx, req)
	})
	if resilience.Rejected(err) {
		return nil, fmt.Errorf("%w: %s: %w", relay.ErrUpstreamUnavailable, host, err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req *relay.UpstreamRequest) (*relay.UpstreamResponse, error) {
	hops := &redirectCookies{}
	ctx = context.WithValue(ctx, redirectCookiesKey{}, hops)

	r := c.Resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeaderMultiValues(req.Header)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
	r.AddRetryCondition(func(_ *resty.Response, err error) bool {
		return idempotent && err != nil && ctx.Err() == nil &&
			!errors.Is(err, relay.ErrTooManyRedirects) && !errors.Is(err, relay.ErrRedirectBlocked)
	})

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		if resp != nil && resp.RawResponse != nil {
			resp.RawResponse.Body.Close()
		}
		return nil, err
	}
	raw := resp.RawResponse
	body := resp.RawBody()
	defer body.Close()

	data, err := relay.ReadLimited(body, c.cfg.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	final := raw.Request.URL
	c.logger.Debug("upstream response",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("final_url", final.String()),
		zap.Int("status", raw.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Int("attempt", r.Attempt))

	return &relay.UpstreamResponse{
		Status:          raw.StatusCode,
		Header:          raw.Header,
		Body:            data,
		FinalURL:        final,
		RedirectCookies: hops.list(),
	}, nil
}
