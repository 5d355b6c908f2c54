package resolve

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// ErrNotProxiable marks references that must be left untouched.
	ErrNotProxiable = errors.New("reference is not proxiable")
	// ErrInvalidTarget marks a target the proxy refuses to fetch.
	ErrInvalidTarget = errors.New("invalid target url")
)

// schemePrefix matches an explicit scheme at the start of a target.
var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// nonProxiable lists schemes that never trigger a network fetch through us.
var nonProxiable = []string{"data:", "blob:", "javascript:", "mailto:", "tel:", "about:"}

// IsNonProxiable reports whether raw is a fragment or uses a scheme that is
// never proxied.
func IsNonProxiable(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, scheme := range nonProxiable {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Resolve converts raw into an absolute URL using base as the document URL.
func Resolve(raw string, base *url.URL) (string, error) {
	if IsNonProxiable(raw) {
		return "", ErrNotProxiable
	}
	ref := strings.TrimSpace(raw)

	if strings.HasPrefix(ref, "//") {
		parsed, err := url.Parse("https:" + ref)
		if err != nil {
			return "", fmt.Errorf("parse protocol-relative reference: %w", err)
		}
		return parsed.String(), nil
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference: %w", err)
	}

	if parsed.IsAbs() {
		if !isHTTP(parsed.Scheme) {
			return "", ErrNotProxiable
		}
		return parsed.String(), nil
	}

	if base == nil {
		return "", fmt.Errorf("relative reference %q without base", ref)
	}

	if strings.HasPrefix(ref, "/") {
		origin := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}
		return origin.ResolveReference(parsed).String(), nil
	}

	return base.ResolveReference(parsed).String(), nil
}

// Canonicalize turns the raw url query parameter into a fetchable target.
func Canonicalize(raw string) (*url.URL, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return nil, fmt.Errorf("%w: url parameter required", ErrInvalidTarget)
	}

	// Accept targets that arrive percent-encoded one level too deep.
	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "http%3a") || strings.HasPrefix(lower, "https%3a") {
		if decoded, err := url.QueryUnescape(target); err == nil {
			target = decoded
		}
	}

	if strings.HasPrefix(target, "//") {
		target = "https:" + target
	} else if !schemePrefix.MatchString(target) {
		target = "https://" + target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if !isHTTP(parsed.Scheme) {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}

	parsed.User = nil
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed, nil
}

// Origin returns scheme://host of u.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func isHTTP(scheme string) bool {
	s := strings.ToLower(scheme)
	return s == "http" || s == "https"
}
