package resolve

import (
	"net/url"
	"strings"
)

// Base builds the proxy base prefix: <origin><path>?session=<id>&url=
func Base(proxyOrigin, proxyPath, sessionID string) string {
	return strings.TrimRight(proxyOrigin, "/") + proxyPath + "?session=" + url.QueryEscape(sessionID) + "&url="
}

// Proxy wraps an absolute URL in the proxy form.
func Proxy(proxyBase, absolute string) string {
	return proxyBase + url.QueryEscape(absolute)
}

// IsProxied reports whether value already points back at the proxy base.
func IsProxied(value, proxyBase string) bool {
	if proxyBase == "" {
		return false
	}
	if strings.HasPrefix(value, proxyBase) {
		return true
	}
	// The origin may have been dropped (root-relative form).
	prefix := proxyBase
	if u, err := url.Parse(proxyBase); err == nil && u.Host != "" {
		prefix = strings.TrimPrefix(proxyBase, u.Scheme+"://"+u.Host)
	}
	return prefix != "" && strings.HasPrefix(value, prefix)
}

// Unwrap extracts the target from a proxied URL. ok is false when value is
// not a proxied URL for proxyPath.
func Unwrap(value, proxyPath string) (string, bool) {
	u, err := url.Parse(value)
	if err != nil || u.Path != proxyPath {
		return "", false
	}
	target := u.Query().Get("url")
	if target == "" {
		return "", false
	}
	return target, true
}
