// Package client is the upstream HTTP client of the relay.
//
// It implements relay.Fetcher on top of go-resty/resty:
//   - Pooled transport from hashicorp/go-retryablehttp
//   - Redirects followed up to a limit, Set-Cookie of each hop captured
//   - Retries for idempotent methods only, never past the caller's deadline
//   - One circuit breaker per upstream host
//   - Optional global token bucket rate limit
//   - Body ceiling enforced while reading
//
// No cookie jar is attached: cookies are owned per browsing session by the
// relay and arrive as an explicit Cookie header.
//
// Example Usage:
//
//	c := client.New(client.DefaultConfig())
//	r := relay.New(c, cache, jar)
package client
