package utils

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// HostPolicy decides whether a target host may be fetched.
//
// Deny patterns are doublestar globs matched against the lowercase host
// name with dots mapped to path separators, so "**.ads.example" blocks
// every subdomain of ads.example and "tracker.*" blocks any TLD.
type HostPolicy struct {
	deny         []string
	blockPrivate bool
	lookup       func(ctx context.Context, host string) ([]netip.Addr, error)
}

// NewHostPolicy validates patterns and builds a policy.
func NewHostPolicy(deny []string, blockPrivate bool) (*HostPolicy, error) {
	patterns := make([]string, 0, len(deny))
	for _, p := range deny {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		glob := hostToPath(p)
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid host pattern %q", p)
		}
		patterns = append(patterns, glob)
	}

	return &HostPolicy{
		deny:         patterns,
		blockPrivate: blockPrivate,
		lookup:       lookupIP,
	}, nil
}

func lookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Check returns an error describing why host is refused, or nil.
func (p *HostPolicy) Check(ctx context.Context, host string) error {
	if p == nil {
		return nil
	}
	name := strings.ToLower(strings.TrimSuffix(host, "."))
	path := hostToPath(name)

	for _, glob := range p.deny {
		if ok, _ := doublestar.Match(glob, path); ok {
			return fmt.Errorf("host %s is blocked by policy", name)
		}
	}

	if !p.blockPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(name); err == nil {
		if isPrivate(addr) {
			return fmt.Errorf("host %s is a private address", name)
		}
		return nil
	}

	addrs, err := p.lookup(ctx, name)
	if err != nil {
		// Let the fetch surface the DNS failure with its own classification.
		return nil
	}
	for _, addr := range addrs {
		if isPrivate(addr) {
			return fmt.Errorf("host %s resolves to private address %s", name, addr)
		}
	}
	return nil
}

func hostToPath(host string) string {
	return strings.ReplaceAll(host, ".", "/")
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
