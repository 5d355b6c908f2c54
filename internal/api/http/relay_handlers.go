package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/relay"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
	"github.com/GriffinCanCode/webrelay/backend/internal/domain/session"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webrelay/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

// Relay proxies the url query parameter for any method
func (h *Handlers) Relay(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID := c.Query("session")
	if sessionID == "" {
		sessionID = c.Query("s")
	}
	if sessionID == "" {
		sessionID = session.DefaultID
	}
	if err := utils.ValidateID(sessionID, "session", true); err != nil {
		h.writeError(c, &relay.Error{Kind: relay.KindClientInput, Status: http.StatusBadRequest, Message: err.Error(), Err: err})
		return
	}

	rawURL := c.Query("url")
	if rawURL != "" {
		if err := utils.ValidateTargetURL(rawURL); err != nil {
			h.writeError(c, &relay.Error{Kind: relay.KindClientInput, Status: http.StatusBadRequest, Message: err.Error(), Err: err})
			return
		}
	}

	req := &relay.Request{
		Method:      c.Request.Method,
		RawURL:      rawURL,
		SessionID:   sessionID,
		ContentType: c.GetHeader("Content-Type"),
		Referer:     c.GetHeader("Referer"),
		IfNoneMatch: c.GetHeader("If-None-Match"),
		ProxyBase:   resolve.Base(h.proxyOrigin(c), h.cfg.ProxyPath, sessionID),
	}

	if c.Request.Body != nil && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		body, err := relay.ReadLimited(c.Request.Body, h.cfg.MaxRequestBody)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, relay.ErrBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			h.writeError(c, &relay.Error{Kind: relay.KindClientInput, Status: status, Message: "request body could not be read", Err: err})
			return
		}
		req.Body = body
	}

	h.logger.Debug("relaying",
		logging.Session(sessionID),
		logging.Target(rawURL),
		zap.String("method", req.Method),
		tracing.Field(ctx))

	resp, err := h.relay.Handle(ctx, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	header := c.Writer.Header()
	for name, values := range resp.Header {
		header[name] = values
	}
	header.Set(relay.CacheHeader, string(resp.CacheStatus))

	if resp.Status == http.StatusNotModified || (len(resp.Body) == 0 && resp.ContentType == "") {
		c.Status(resp.Status)
		return
	}
	c.Data(resp.Status, resp.ContentType, resp.Body)

	// Headers are gone by now; all that is left is to record the failure.
	if len(c.Errors) > 0 {
		h.logger.Warn("writing relayed response failed",
			logging.Session(sessionID),
			logging.Target(rawURL),
			zap.Int("size", len(resp.Body)),
			zap.Error(c.Errors.Last()),
			tracing.Field(ctx))
	}
}

// proxyOrigin is the scheme and host clients reach the relay at.
func (h *Handlers) proxyOrigin(c *gin.Context) string {
	if h.cfg.PublicOrigin != "" {
		return h.cfg.PublicOrigin
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		proto = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		if proto == "http" || proto == "https" {
			scheme = proto
		}
	}
	return scheme + "://" + c.Request.Host
}
