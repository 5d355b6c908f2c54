// Package cache provides the bounded, TTL-based response cache used by the
// relay for binary and text subresources.
//
// Admission and eviction:
//   - Payloads larger than MaxItemBytes are never admitted
//   - While admitting would exceed MaxBytes, the oldest inserted entry goes
//   - Entries older than TTL are purged on lookup or by Sweep
//
// Eviction follows insertion order, not access recency. The cache is
// advisory: a miss or a refused admission only costs an upstream fetch.
package cache
