package relay

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/cache"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/rewrite"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/session"
	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

const (
	// DefaultTimeout bounds one upstream call including redirects.
	DefaultTimeout = 25 * time.Second
	// DefaultProxyPath is the path proxied references point at.
	DefaultProxyPath = "/proxy"
	// DefaultMaxBodyBytes bounds a decoded upstream body.
	DefaultMaxBodyBytes int64 = 50 << 20
)

// Observer receives relay outcomes, typically for metrics.
type Observer interface {
	RelayCompleted(class Class, cache CacheStatus, status int, elapsed time.Duration)
	RelayFailed(kind Kind, elapsed time.Duration)
	UpstreamFetched(host string, status int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) RelayCompleted(Class, CacheStatus, int, time.Duration) {}
func (nopObserver) RelayFailed(Kind, time.Duration)                      {}
func (nopObserver) UpstreamFetched(string, int, time.Duration, error)    {}

// Option configures a Relay.
type Option func(*Relay)

// WithTimeout sets the hard upstream deadline.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHostPolicy rejects targets the checker refuses.
func WithHostPolicy(p HostChecker) Option {
	return func(r *Relay) { r.policy = p }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Relay) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithProxyPath sets the path used to recognize proxied Referer values.
func WithProxyPath(path string) Option {
	return func(r *Relay) {
		if path != "" {
			r.proxyPath = path
		}
	}
}

// WithUserAgent overrides the browser User-Agent sent upstream.
func WithUserAgent(ua string) Option {
	return func(r *Relay) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithMaxBodyBytes bounds decoded bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxBody = n
		}
	}
}

// WithDedup shares one upstream fetch among identical concurrent GETs of
// the same session.
func WithDedup(enabled bool) Option {
	return func(r *Relay) { r.dedup = enabled }
}

// Relay is the orchestrator. It is safe for concurrent use.
type Relay struct {
	fetcher   Fetcher
	cache     *cache.Cache
	jar       *session.Jar
	timeout   time.Duration
	userAgent string
	proxyPath string
	maxBody   int64
	dedup     bool
	policy    HostChecker
	observer  Observer
	logger    *zap.Logger
	hasher    *utils.Hasher
	flight    singleflight.Group
}

// New creates a relay over the given collaborators.
func New(fetcher Fetcher, c *cache.Cache, jar *session.Jar, opts ...Option) *Relay {
	r := &Relay{
		fetcher:   fetcher,
		cache:     c,
		jar:       jar,
		timeout:   DefaultTimeout,
		userAgent: browserUserAgent,
		proxyPath: DefaultProxyPath,
		maxBody:   DefaultMaxBodyBytes,
		observer:  nopObserver{},
		logger:    zap.NewNop(),
		hasher:    utils.NewHasher(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New(cache.DefaultConfig())
	}
	if r.jar == nil {
		r.jar = session.NewJar(session.DefaultIdleTimeout)
	}
	return r
}

// Timeout returns the upstream deadline.
func (r *Relay) Timeout() time.Duration {
	return r.timeout
}

// Handle relays one request. A non-nil error is always an *Error.
func (r *Relay) Handle(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := r.handle(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		relayErr := AsError(err)
		r.observer.RelayFailed(relayErr.Kind, elapsed)
		fields := []zap.Field{
			zap.String("kind", relayErr.Kind.String()),
			zap.String("url", req.RawURL),
			zap.Duration("elapsed", elapsed),
			zap.Error(relayErr.Err),
		}
		if relayErr.Kind == KindUnclassified {
			r.logger.Error(relayErr.Message, fields...)
		} else {
			r.logger.Warn(relayErr.Message, fields...)
		}
		return nil, relayErr
	}

	r.observer.RelayCompleted(resp.Class, resp.CacheStatus, resp.Status, elapsed)
	return resp, nil
}

func (r *Relay) handle(ctx context.Context, req *Request) (*Response, error) {
	// RESOLVING
	if strings.TrimSpace(req.RawURL) == "" {
		return nil, newError(KindClientInput, nil, "missing url parameter")
	}
	target, err := resolve.Canonicalize(req.RawURL)
	if err != nil {
		return nil, newError(KindClientInput, err, "invalid target url")
	}
	if r.policy != nil {
		if err := r.policy.Check(ctx, target.Hostname()); err != nil {
			return nil, newError(KindBlocked, err, "target host %s is not allowed", target.Hostname())
		}
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.DefaultID
	}
	key := target.String()
	log := r.logger.With(
		zap.String("session", sessionID),
		zap.String("method", method),
		zap.String("url", key),
	)

	// CACHE_CHECK
	if method == http.MethodGet {
		if entry, ok := r.cache.Get(key); ok {
			r.jar.Touch(sessionID)
			log.Debug("cache hit", zap.Int("bytes", len(entry.Payload)))
			return r.serveCached(target, entry, req), nil
		}
	}

	// FETCHING
	log.Debug("fetching upstream")
	upstream, err := r.fetch(ctx, method, target, sessionID, req)
	if err != nil {
		return nil, err
	}

	// CLASSIFYING, TRANSFORMING
	resp, err := r.transform(method, target, upstream, req)
	if err != nil {
		return nil, err
	}
	log.Debug("relayed",
		zap.Int("status", resp.Status),
		zap.String("class", resp.Class.String()),
		zap.String("cache", string(resp.CacheStatus)),
		zap.String("final_url", resp.FinalURL),
	)
	return resp, nil
}

func (r *Relay) fetch(ctx context.Context, method string, target *url.URL, sessionID string, req *Request) (*UpstreamResponse, error) {
	upReq := r.upstreamRequest(method, target, sessionID, req)
	call := func() (*UpstreamResponse, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		start := time.Now()
		resp, err := r.fetcher.Fetch(fetchCtx, upReq)
		status := 0
		if resp != nil {
			status = resp.Status
		}
		r.observer.UpstreamFetched(target.Hostname(), status, time.Since(start), err)
		if err != nil {
			return nil, classifyFetchError(ctx, fetchCtx, target.Hostname(), err)
		}
		r.recordCookies(sessionID, resp)
		return resp, nil
	}

	if !r.dedup || method != http.MethodGet {
		return call()
	}

	v, err, shared := r.flight.Do(sessionID+" "+target.String(), func() (any, error) {
		return call()
	})
	if err != nil {
		// The leader's caller went away; this caller is still waiting.
		var relayErr *Error
		if shared && errors.As(err, &relayErr) && relayErr.Kind == KindCanceled && ctx.Err() == nil {
			return call()
		}
		return nil, err
	}
	return v.(*UpstreamResponse), nil
}

func (r *Relay) upstreamRequest(method string, target *url.URL, sessionID string, req *Request) *UpstreamRequest {
	header := make(http.Header)
	header.Set("User-Agent", r.userAgent)
	header.Set("Accept", defaultAccept)
	header.Set("Accept-Language", defaultAcceptLanguage)
	header.Set("Accept-Encoding", "identity")
	if cookies, ok := r.jar.CookieHeader(sessionID); ok {
		header.Set("Cookie", cookies)
	}
	if referer := r.upstreamReferer(req.Referer); referer != "" {
		header.Set("Referer", referer)
	}

	var body []byte
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		switch {
		case len(req.Body) > 0:
			body = req.Body
			if req.ContentType != "" {
				header.Set("Content-Type", req.ContentType)
			}
		case len(req.Form) > 0:
			body = []byte(req.Form.Encode())
			header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	return &UpstreamRequest{
		Method: method,
		URL:    target.String(),
		Header: header,
		Body:   body,
	}
}

// upstreamReferer recovers the real page from a proxied Referer. Referers
// that do not point at the proxy would leak the embedding page and are
// dropped.
func (r *Relay) upstreamReferer(referer string) string {
	if referer == "" {
		return ""
	}
	target, ok := resolve.Unwrap(referer, r.proxyPath)
	if !ok {
		return ""
	}
	u, err := resolve.Canonicalize(target)
	if err != nil {
		return ""
	}
	return u.String()
}

func (r *Relay) recordCookies(sessionID string, resp *UpstreamResponse) {
	cookies := append(append([]string(nil), resp.RedirectCookies...), resp.Header.Values("Set-Cookie")...)
	if len(cookies) == 0 {
		r.jar.Touch(sessionID)
		return
	}
	r.jar.RecordSetCookies(sessionID, cookies)
}

func (r *Relay) transform(method string, target *url.URL, up *UpstreamResponse, req *Request) (*Response, error) {
	host := target.Hostname()
	key := target.String()
	body := up.Body
	header := responseHeaders(up.Header)
	contentType := up.Header.Get("Content-Type")
	class := Classify(contentType)
	passthrough := false

	if encoding := up.Header.Get("Content-Encoding"); encoding != "" {
		decoded, ok, err := decodeContent(body, encoding, r.maxBody)
		switch {
		case errors.Is(err, ErrBodyTooLarge):
			return nil, newError(KindUpstreamTransport, err, "upstream %s response exceeds the size limit", host)
		case err != nil:
			return nil, newError(KindUpstreamTransport, err, "upstream %s sent a malformed %s body", host, encoding)
		case ok:
			body = decoded
		default:
			// Unknown encoding: forward the bytes with their encoding intact.
			header.Set("Content-Encoding", encoding)
			class = ClassOpaque
			passthrough = true
		}
	}

	if !passthrough && class == ClassBinary && mediaType(contentType) == "application/octet-stream" && len(body) > 0 {
		contentType = mimetype.Detect(body).String()
	}

	final := up.FinalURL
	if final == nil {
		final = target
	}
	rctx := rewrite.Context{DocumentURL: final, ProxyBase: req.ProxyBase}

	resp := &Response{
		Status:      up.Status,
		Header:      header,
		Class:       class,
		FinalURL:    final.String(),
		CacheStatus: CacheBypass,
	}
	cacheable := !passthrough && Cacheable(method, class) && up.Status == http.StatusOK
	if cacheable {
		resp.CacheStatus = CacheMiss
	}

	switch class {
	case ClassHTML:
		resp.ContentType = "text/html; charset=utf-8"
		resp.Body = []byte(rewrite.HTML(toUTF8(body, contentType), rctx))
	case ClassCSS:
		resp.ContentType = "text/css; charset=utf-8"
		text := toUTF8(body, contentType)
		// Relative references resolve against the final URL, so a
		// redirected stylesheet cannot be replayed from its request key.
		if cacheable && final.String() == key {
			r.cache.Put(key, []byte(text), resp.ContentType)
		}
		resp.Body = []byte(rewrite.CSS(text, rctx))
	default:
		resp.ContentType = contentType
		resp.Body = body
		if cacheable {
			r.cache.Put(key, body, contentType)
		}
	}
	return resp, nil
}

func (r *Relay) serveCached(target *url.URL, entry cache.Entry, req *Request) *Response {
	class := Classify(entry.ContentType)
	resp := &Response{
		Status:      http.StatusOK,
		ContentType: entry.ContentType,
		Header:      make(http.Header),
		CacheStatus: CacheHit,
		Class:       class,
		Body:        entry.Payload,
	}

	etag := entry.ETag
	if class == ClassCSS {
		// The served body depends on the session's proxy base.
		etag = `"` + r.hasher.HashString(entry.ETag+req.ProxyBase)[:32] + `"`
		resp.Body = []byte(rewrite.CSS(string(entry.Payload), rewrite.Context{DocumentURL: target, ProxyBase: req.ProxyBase}))
	}
	if etag != "" {
		resp.Header.Set("ETag", etag)
	}
	if etagMatches(req.IfNoneMatch, etag) {
		resp.Status = http.StatusNotModified
		resp.Body = nil
	}
	return resp
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
