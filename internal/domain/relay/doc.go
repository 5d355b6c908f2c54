// Package relay orchestrates one proxied request end to end.
//
// A request moves through a fixed sequence of states:
//
//	RESOLVING -> CACHE_CHECK -> FETCHING -> CLASSIFYING -> TRANSFORMING -> RESPONDING
//
// and ends in DONE (a *Response) or FAILED (an *Error). The orchestrator
// owns no transport: upstream calls go through a Fetcher, content is
// rewritten by package rewrite, cacheable payloads live in package cache
// and per-session cookies in package session.
//
// Example Usage:
//
//	r := relay.New(fetcher, cache.New(cache.DefaultConfig()), session.NewJar(0),
//		relay.WithTimeout(25*time.Second),
//		relay.WithLogger(logger),
//	)
//	resp, err := r.Handle(ctx, &relay.Request{Method: "GET", RawURL: "example.com", ProxyBase: base})
package relay
