package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/cache"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/session"
	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

// testFetcher is a plain net/http Fetcher with a call counter.
type testFetcher struct {
	client *http.Client
	calls  atomic.Int32
}

func newTestFetcher() *testFetcher {
	return &testFetcher{client: &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return ErrTooManyRedirects
			}
			return nil
		},
	}}
}

func (f *testFetcher) Fetch(ctx context.Context, req *UpstreamRequest) (*UpstreamResponse, error) {
	f.calls.Add(1)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Header.Clone()

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := ReadLimited(resp.Body, DefaultMaxBodyBytes)
	if err != nil {
		return nil, err
	}
	return &UpstreamResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     data,
		FinalURL: resp.Request.URL,
	}, nil
}

// errFetcher fails every call with err.
type errFetcher struct {
	err   error
	calls atomic.Int32
}

func (f *errFetcher) Fetch(context.Context, *UpstreamRequest) (*UpstreamResponse, error) {
	f.calls.Add(1)
	return nil, f.err
}

func proxyBase(sessionID string) string {
	return resolve.Base("https://relay.local", DefaultProxyPath, sessionID)
}

func get(rawURL, sessionID string) *Request {
	return &Request{
		Method:    http.MethodGet,
		RawURL:    rawURL,
		SessionID: sessionID,
		ProxyBase: proxyBase(sessionID),
	}
}

func requireRelayError(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	var relayErr *Error
	require.True(t, errors.As(err, &relayErr), "expected *relay.Error, got %T", err)
	return relayErr
}

func TestRelayRewritesHTMLAndThreadsCookies(t *testing.T) {
	var seenCookie atomic.Value
	seenCookie.Store("")

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCookie.Store(r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/", HttpOnly: true})
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Frame-Options", "DENY")
		_, _ = io.WriteString(w, `<html><head></head><body><a href="/about">About</a></body></html>`)
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil)

	resp, err := r.Handle(context.Background(), get(upstream.URL, "abc"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	assert.Equal(t, CacheBypass, resp.CacheStatus)
	assert.Empty(t, resp.Header.Get("X-Frame-Options"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"))
	assert.Contains(t, string(resp.Body),
		`href="`+proxyBase("abc")+url.QueryEscape(upstream.URL+"/about")+`"`)
	assert.Equal(t, "", seenCookie.Load())

	_, err = r.Handle(context.Background(), get(upstream.URL, "abc"))
	require.NoError(t, err)
	assert.Equal(t, "sid=1", seenCookie.Load())

	// Another session starts empty.
	_, err = r.Handle(context.Background(), get(upstream.URL, "xyz"))
	require.NoError(t, err)
	assert.Equal(t, "", seenCookie.Load())
}

func TestRelayCachesBinary(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0xff}
	var calls atomic.Int32

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), cache.New(cache.DefaultConfig()), nil)
	target := upstream.URL + "/logo.png"

	first, err := r.Handle(context.Background(), get(target, "s1"))
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.CacheStatus)
	assert.Equal(t, payload, first.Body)
	assert.Equal(t, "image/png", first.ContentType)
	assert.Empty(t, first.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "max-age=60", first.Header.Get("Cache-Control"))

	second, err := r.Handle(context.Background(), get(target, "s2"))
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.CacheStatus)
	assert.Equal(t, payload, second.Body)
	assert.Equal(t, int32(1), calls.Load())

	t.Run("conditional request", func(t *testing.T) {
		etag := second.Header.Get("ETag")
		require.NotEmpty(t, etag)

		req := get(target, "s1")
		req.IfNoneMatch = etag
		resp, err := r.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotModified, resp.Status)
		assert.Empty(t, resp.Body)
	})

	t.Run("non-GET bypasses cache", func(t *testing.T) {
		req := get(target, "s1")
		req.Method = http.MethodHead
		resp, err := r.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, CacheBypass, resp.CacheStatus)
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestRelayCSSCachedRawRewrittenPerSession(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/css")
		_, _ = io.WriteString(w, `@import "foo.css"; body { background: url(../img/x.png) }`)
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil)
	target := upstream.URL + "/styles/main.css"

	first, err := r.Handle(context.Background(), get(target, "one"))
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, first.CacheStatus)
	assert.Contains(t, string(first.Body), proxyBase("one")+url.QueryEscape(upstream.URL+"/styles/foo.css"))
	assert.Contains(t, string(first.Body), proxyBase("one")+url.QueryEscape(upstream.URL+"/img/x.png"))

	second, err := r.Handle(context.Background(), get(target, "two"))
	require.NoError(t, err)
	assert.Equal(t, CacheHit, second.CacheStatus)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, string(second.Body), proxyBase("two")+url.QueryEscape(upstream.URL+"/img/x.png"))
	assert.NotContains(t, string(second.Body), proxyBase("one"))
}

func TestRelayFollowsRedirectsForRewriteBase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/guide/index.html", http.StatusFound)
	})
	mux.HandleFunc("/docs/guide/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<body><img src="diagram.png"></body>`)
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil)

	resp, err := r.Handle(context.Background(), get(upstream.URL+"/start", "s"))
	require.NoError(t, err)
	assert.Equal(t, upstream.URL+"/docs/guide/index.html", resp.FinalURL)
	assert.Contains(t, string(resp.Body), url.QueryEscape(upstream.URL+"/docs/guide/diagram.png"))
}

func TestRelayTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()
	defer close(release)

	timeout := 150 * time.Millisecond
	r := New(newTestFetcher(), nil, nil, WithTimeout(timeout))

	start := time.Now()
	_, err := r.Handle(context.Background(), get(upstream.URL, "s"))
	elapsed := time.Since(start)

	relayErr := requireRelayError(t, err)
	assert.Equal(t, KindUpstreamTimeout, relayErr.Kind)
	assert.Equal(t, http.StatusGatewayTimeout, relayErr.Status)
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestRelayClientInput(t *testing.T) {
	fetcher := &errFetcher{err: errors.New("must not be called")}
	r := New(fetcher, nil, nil)

	for _, raw := range []string{"", "   ", "ftp://files.example/x", "https://", "javascript:alert(1)"} {
		t.Run(raw, func(t *testing.T) {
			_, err := r.Handle(context.Background(), get(raw, "s"))
			relayErr := requireRelayError(t, err)
			assert.Equal(t, KindClientInput, relayErr.Kind)
			assert.Equal(t, http.StatusBadRequest, relayErr.Status)
		})
	}
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestRelayTransportErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		message string
	}{
		{"dns", &url.Error{Op: "Get", URL: "https://nowhere.invalid/", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}},
			KindUpstreamTransport, "could not resolve"},
		{"too large", ErrBodyTooLarge, KindUpstreamTransport, "size limit"},
		{"redirects", &url.Error{Op: "Get", URL: "https://loop.example/", Err: ErrTooManyRedirects}, KindUpstreamTransport, "redirected"},
		{"unavailable", ErrUpstreamUnavailable, KindUpstreamTransport, "unavailable"},
		{"redirect blocked", &url.Error{Op: "Get", URL: "https://site.example/", Err: fmt.Errorf("%w: private address", ErrRedirectBlocked)},
			KindBlocked, "not allowed"},
		{"unexpected eof", io.ErrUnexpectedEOF, KindUpstreamTransport, "closed unexpectedly"},
		{"other", errors.New("boom"), KindUnclassified, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&errFetcher{err: tt.err}, nil, nil)
			_, err := r.Handle(context.Background(), get("https://site.example/", "s"))
			relayErr := requireRelayError(t, err)
			assert.Equal(t, tt.kind, relayErr.Kind)
			assert.Equal(t, tt.kind.Status(), relayErr.Status)
			assert.Contains(t, relayErr.Message, tt.message)
		})
	}
}

func TestRelayConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r := New(newTestFetcher(), nil, nil)
	_, err = r.Handle(context.Background(), get("http://"+addr+"/", "s"))

	relayErr := requireRelayError(t, err)
	assert.Equal(t, KindUpstreamTransport, relayErr.Kind)
	assert.Equal(t, http.StatusBadGateway, relayErr.Status)
	assert.Contains(t, relayErr.Message, "refused")
}

func TestRelayBlockedHost(t *testing.T) {
	policy, err := utils.NewHostPolicy([]string{"*.internal.example"}, false)
	require.NoError(t, err)
	fetcher := &errFetcher{err: errors.New("must not be called")}
	r := New(fetcher, nil, nil, WithHostPolicy(policy))

	_, err = r.Handle(context.Background(), get("https://db.internal.example/", "s"))

	relayErr := requireRelayError(t, err)
	assert.Equal(t, KindBlocked, relayErr.Kind)
	assert.Equal(t, http.StatusForbidden, relayErr.Status)
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestRelayForwardsBodiesAndReferer(t *testing.T) {
	type seen struct {
		method, contentType, body, referer, userAgent, encoding string
	}
	got := make(chan seen, 1)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
			referer:     r.Header.Get("Referer"),
			userAgent:   r.Header.Get("User-Agent"),
			encoding:    r.Header.Get("Accept-Encoding"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil)

	t.Run("form", func(t *testing.T) {
		req := get(upstream.URL+"/submit", "s")
		req.Method = http.MethodPost
		req.Form = url.Values{"q": {"go proxy"}, "page": {"2"}}
		req.Referer = proxyBase("s") + url.QueryEscape(upstream.URL+"/search")

		resp, err := r.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, `{"ok":true}`, string(resp.Body))
		assert.Equal(t, CacheBypass, resp.CacheStatus)

		s := <-got
		assert.Equal(t, http.MethodPost, s.method)
		assert.Equal(t, "application/x-www-form-urlencoded", s.contentType)
		assert.Equal(t, "page=2&q=go+proxy", s.body)
		assert.Equal(t, upstream.URL+"/search", s.referer)
		assert.Contains(t, s.userAgent, "Mozilla/5.0")
		assert.Equal(t, "identity", s.encoding)
	})

	t.Run("encoded form kept verbatim", func(t *testing.T) {
		req := get(upstream.URL+"/submit", "s")
		req.Method = http.MethodPost
		req.ContentType = "application/x-www-form-urlencoded; charset=utf-8"
		req.Body = []byte("z=last&a=first%20word&a=again")

		_, err := r.Handle(context.Background(), req)
		require.NoError(t, err)

		s := <-got
		assert.Equal(t, "application/x-www-form-urlencoded; charset=utf-8", s.contentType)
		assert.Equal(t, "z=last&a=first%20word&a=again", s.body)
	})

	t.Run("raw body", func(t *testing.T) {
		req := get(upstream.URL+"/api", "s")
		req.Method = http.MethodPut
		req.ContentType = "application/json"
		req.Body = []byte(`{"a":1}`)
		req.Referer = "https://embedder.example/app"

		_, err := r.Handle(context.Background(), req)
		require.NoError(t, err)

		s := <-got
		assert.Equal(t, http.MethodPut, s.method)
		assert.Equal(t, "application/json", s.contentType)
		assert.Equal(t, `{"a":1}`, s.body)
		assert.Empty(t, s.referer)
	})
}

func TestRelayDecodesContentEncoding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, `<body><a href="/x">x</a></body>`)
		_ = gz.Close()
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil)
	resp, err := r.Handle(context.Background(), get(upstream.URL, "s"))
	require.NoError(t, err)

	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Contains(t, string(resp.Body), url.QueryEscape(upstream.URL+"/x"))
}

func TestRelayTranscodesLegacyCharsets(t *testing.T) {
	// "café" in ISO-8859-1.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<body><p>caf\xe9</p></body>"))
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil)
	resp, err := r.Handle(context.Background(), get(upstream.URL, "s"))
	require.NoError(t, err)

	assert.Contains(t, string(resp.Body), "<p>café</p>")
}

func TestRelayDedupSharesFetch(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-gate
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<p>shared</p>`)
	}))
	defer upstream.Close()

	r := New(newTestFetcher(), nil, nil, WithDedup(true))

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := r.Handle(context.Background(), get(upstream.URL, "same"))
			results <- err
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gate)

	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRelayRecordsRedirectCookies(t *testing.T) {
	jar := session.NewJar(time.Minute)
	fetcher := &stubFetcher{resp: &UpstreamResponse{
		Status:          http.StatusOK,
		Header:          http.Header{"Content-Type": {"text/plain"}, "Set-Cookie": {"b=2; Path=/"}},
		Body:            []byte("ok"),
		RedirectCookies: []string{"a=1; HttpOnly"},
	}}
	r := New(fetcher, nil, jar)

	_, err := r.Handle(context.Background(), get("https://site.example/login", "s"))
	require.NoError(t, err)

	cookies, ok := jar.CookieHeader("s")
	require.True(t, ok)
	assert.Equal(t, "a=1; b=2", cookies)
}

type stubFetcher struct {
	resp *UpstreamResponse
	last *UpstreamRequest
}

func (f *stubFetcher) Fetch(_ context.Context, req *UpstreamRequest) (*UpstreamResponse, error) {
	f.last = req
	return f.resp, nil
}

func TestRelaySniffsOctetStream(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	fetcher := &stubFetcher{resp: &UpstreamResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:   png,
	}}
	r := New(fetcher, nil, nil)

	resp, err := r.Handle(context.Background(), get("https://site.example/file", "s"))
	require.NoError(t, err)
	assert.Equal(t, ClassBinary, resp.Class)
	assert.Equal(t, "image/png", resp.ContentType)
	assert.Equal(t, png, resp.Body)
}

func TestRelaySendsSessionDefaults(t *testing.T) {
	fetcher := &stubFetcher{resp: &UpstreamResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/plain"}},
	}}
	jar := session.NewJar(time.Minute)
	jar.RecordSetCookies(session.DefaultID, []string{"pref=dark"})
	r := New(fetcher, nil, jar)

	req := get("example.com", "")
	_, err := r.Handle(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, fetcher.last)
	assert.Equal(t, "https://example.com/", fetcher.last.URL)
	assert.Equal(t, "pref=dark", fetcher.last.Header.Get("Cookie"))
	assert.Equal(t, "identity", fetcher.last.Header.Get("Accept-Encoding"))
	assert.NotEmpty(t, fetcher.last.Header.Get("Accept-Language"))
	assert.True(t, strings.HasPrefix(fetcher.last.Header.Get("Accept"), "text/html"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		contentType string
		want        Class
	}{
		{"", ClassHTML},
		{"text/html; charset=utf-8", ClassHTML},
		{"application/xhtml+xml", ClassHTML},
		{"TEXT/CSS", ClassCSS},
		{"application/javascript", ClassText},
		{"text/javascript; charset=utf-8", ClassText},
		{"application/json", ClassText},
		{"application/ld+json", ClassText},
		{"image/svg+xml", ClassBinary},
		{"font/woff2", ClassBinary},
		{"audio/mpeg", ClassBinary},
		{"video/mp4", ClassBinary},
		{"application/octet-stream", ClassBinary},
		{"application/pdf", ClassOpaque},
		{"text/plain", ClassOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.contentType))
		})
	}
}

func TestCacheable(t *testing.T) {
	assert.True(t, Cacheable(http.MethodGet, ClassBinary))
	assert.True(t, Cacheable(http.MethodGet, ClassCSS))
	assert.True(t, Cacheable(http.MethodGet, ClassText))
	assert.False(t, Cacheable(http.MethodGet, ClassHTML))
	assert.False(t, Cacheable(http.MethodPost, ClassBinary))
}

func TestETagMatches(t *testing.T) {
	assert.True(t, etagMatches(`"abc"`, `"abc"`))
	assert.True(t, etagMatches(`W/"abc"`, `"abc"`))
	assert.True(t, etagMatches(`"x", "abc"`, `"abc"`))
	assert.True(t, etagMatches(`*`, `"abc"`))
	assert.False(t, etagMatches(`"x"`, `"abc"`))
	assert.False(t, etagMatches("", `"abc"`))
}
