package rewrite

import (
	"net/url"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
)

// Context carries what every rewrite call needs about the current document.
type Context struct {
	// DocumentURL is the final URL of the document after redirects.
	DocumentURL *url.URL
	// ProxyBase is the prefix prepended to every rewritten reference.
	ProxyBase string
}

// Origin returns the document origin.
func (c Context) Origin() string {
	if c.DocumentURL == nil {
		return ""
	}
	return resolve.Origin(c.DocumentURL)
}

// withBase returns a copy resolving relative references against base.
func (c Context) withBase(base *url.URL) Context {
	c.DocumentURL = base
	return c
}

// proxyURL rewrites one reference. ok is false when the reference must be
// left unchanged.
func (c Context) proxyURL(raw string) (string, bool) {
	if resolve.IsProxied(raw, c.ProxyBase) {
		return "", false
	}
	absolute, err := resolve.Resolve(raw, c.DocumentURL)
	if err != nil {
		return "", false
	}
	return resolve.Proxy(c.ProxyBase, absolute), true
}
