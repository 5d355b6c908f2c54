package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/relay"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/tracing"
)

// errorText strips all markup from text shown on the error page.
var errorText = bluemonday.StrictPolicy()

// ErrorBody is the JSON error shape.
type ErrorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	TraceID string `json:"trace_id,omitempty"`
}

const errorPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%d %s</title>
<style>body{font-family:system-ui,sans-serif;max-width:40em;margin:4em auto;color:#222}code{color:#666}</style>
</head><body>
<h1>%d %s</h1>
<p>%s</p>
<p><code>%s</code></p>
</body></html>`

// writeError renders err as an HTML page for browsers and JSON otherwise.
func (h *Handlers) writeError(c *gin.Context, err error) {
	relayErr := relay.AsError(err)
	status := relayErr.Status
	if status == 0 {
		status = relayErr.Kind.Status()
	}
	traceID := string(tracing.GetTraceID(c.Request.Context()))

	c.Header(relay.CacheHeader, string(relay.CacheBypass))
	c.Header("Cache-Control", "no-store")

	if wantsHTML(c.GetHeader("Accept")) {
		reason := http.StatusText(status)
		if reason == "" {
			reason = relayErr.Kind.String()
		}
		page := fmt.Sprintf(errorPage,
			status, reason, status, reason,
			errorText.Sanitize(relayErr.Message),
			errorText.Sanitize(traceID))
		c.Data(status, "text/html; charset=utf-8", []byte(page))
		return
	}

	body, marshalErr := sonic.Marshal(ErrorBody{
		Error:   relayErr.Message,
		Kind:    relayErr.Kind.String(),
		TraceID: traceID,
	})
	if marshalErr != nil {
		c.String(status, relayErr.Message)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
}

func wantsHTML(accept string) bool {
	return strings.Contains(strings.ToLower(accept), "text/html")
}
