/*
Package tracing provides lightweight request tracing.

# Overview

Every inbound request gets a trace id (a req_ ULID, or the caller's
X-Trace-ID) that flows through the request context into relay log lines and
back to the client in response headers. Completed spans are logged by a
buffered collector goroutine.

# Usage

	tracer := tracing.New("webrelay", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// Anywhere downstream
	logger.Debug("fetching", tracing.Field(ctx))

# Trace Format

- X-Trace-ID: identifier for the entire request flow
- X-Span-ID: identifier for the current operation
*/
package tracing
