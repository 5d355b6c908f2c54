// Package main is the entry point for the webrelay server.
//
// webrelay is a rewriting forward proxy: it fetches a page on behalf of
// the browser and rewrites every reference in HTML and CSS so follow-up
// requests come back through the relay under the same browsing session.
//
//	Browser → /proxy?session=<id>&url=<target> → webrelay → target site
//
// Configuration:
//   - Defaults for development
//   - Optional YAML or TOML file (--config or CONFIG_FILE)
//   - Environment variables (12-factor)
//   - CLI flags (override everything)
//
// Usage:
//
//	# Production mode
//	./server --port 8000 --config relay.yaml
//
//	# Development mode (colored logs, debug level)
//	./server --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
