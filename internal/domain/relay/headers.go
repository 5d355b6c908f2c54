package relay

import (
	"net/http"
	"strings"
)

const (
	browserUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// hopByHopHeaders never cross the relay.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// securityHeaders stop a page from rendering inside the embedding frame or
// from loading proxied subresources. Stripped on every response path.
var securityHeaders = map[string]bool{
	"Content-Security-Policy":             true,
	"Content-Security-Policy-Report-Only": true,
	"X-Content-Security-Policy":           true,
	"X-Webkit-Csp":                        true,
	"X-Frame-Options":                     true,
	"Cross-Origin-Opener-Policy":          true,
	"Cross-Origin-Embedder-Policy":        true,
	"Cross-Origin-Resource-Policy":        true,
	"Strict-Transport-Security":           true,
	"Permissions-Policy":                  true,
	"Referrer-Policy":                     true,
	"X-Xss-Protection":                    true,
	"Report-To":                           true,
	"Nel":                                 true,
}

// relayOwnedHeaders are recomputed by the relay or kept server side.
var relayOwnedHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Set-Cookie":       true,
	"Location":         true,
	"Etag":             true,
	"Alt-Svc":          true,
}

// corsHeaders belong to the relay's own CORS policy. An upstream value
// would replace the one granted to the embedding front-end.
var corsHeaders = map[string]bool{
	"Access-Control-Allow-Origin":      true,
	"Access-Control-Allow-Credentials": true,
	"Access-Control-Allow-Methods":     true,
	"Access-Control-Allow-Headers":     true,
	"Access-Control-Expose-Headers":    true,
	"Access-Control-Max-Age":           true,
	"Vary":                             true,
}

// responseHeaders copies the upstream headers a client may see.
func responseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	connHop := make(map[string]bool)
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			connHop[http.CanonicalHeaderKey(strings.TrimSpace(name))] = true
		}
	}

	for key, values := range src {
		key = http.CanonicalHeaderKey(key)
		if hopByHopHeaders[key] || securityHeaders[key] || corsHeaders[key] || relayOwnedHeaders[key] || connHop[key] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	return dst
}
