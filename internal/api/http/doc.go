// Package http exposes the relay over gin.
//
// Routes:
//   - ANY  /proxy (and aliases such as /browse): relay the url parameter
//   - GET  /health: liveness, cache and session usage, open breakers
//   - POST /sessions: issue a session token
//   - DELETE /sessions/:id: drop a session's cookies
//
// Errors are rendered as a small HTML page when the client accepts
// text/html and as JSON otherwise.
package http
