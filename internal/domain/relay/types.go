package relay

import (
	"context"
	"net/http"
	"net/url"
)

// CacheStatus is reported to clients in the X-Cache header.
type CacheStatus string

const (
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
	CacheBypass CacheStatus = "BYPASS"
)

// CacheHeader is the response header carrying the CacheStatus.
const CacheHeader = "X-Cache"

// Request is one inbound proxy request as seen by the orchestrator.
type Request struct {
	Method string
	// RawURL is the target as received, possibly percent-encoded or
	// missing its scheme.
	RawURL    string
	SessionID string
	// ContentType is the declared type of Body.
	ContentType string
	// Referer is the inbound Referer; a proxied value is unwrapped before
	// it is forwarded.
	Referer     string
	IfNoneMatch string
	Body        []byte
	// Form is sent url-encoded when Body is empty. A non-empty Body is
	// forwarded byte for byte with ContentType.
	Form url.Values
	// ProxyBase prefixes every rewritten reference, see resolve.Base.
	ProxyBase string
}

// Response is what the transport layer writes back.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Header      http.Header
	CacheStatus CacheStatus
	Class       Class
	// FinalURL is the document URL after redirects. Empty on cache hits.
	FinalURL string
}

// UpstreamRequest is the outbound request handed to a Fetcher.
type UpstreamRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// UpstreamResponse is a fully read upstream response.
type UpstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
	// FinalURL is the URL that produced this response after redirects.
	FinalURL *url.URL
	// RedirectCookies holds Set-Cookie values seen on intermediate
	// redirect responses.
	RedirectCookies []string
}

// Fetcher performs upstream HTTP calls. Implementations must follow
// redirects, honor ctx cancellation and fail with ErrBodyTooLarge when a
// body exceeds their ceiling.
type Fetcher interface {
	Fetch(ctx context.Context, req *UpstreamRequest) (*UpstreamResponse, error)
}

// HostChecker decides whether a target host may be contacted.
type HostChecker interface {
	Check(ctx context.Context, host string) error
}
