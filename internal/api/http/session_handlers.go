package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
	"github.com/GriffinCanCode/webrelay/backend/internal/shared/id"
	"github.com/GriffinCanCode/webrelay/backend/internal/shared/utils"
)

// CreateSession issues a fresh browsing session token
func (h *Handlers) CreateSession(c *gin.Context) {
	sessionID := id.NewSessionID().String()
	h.jar.Touch(sessionID)

	c.JSON(http.StatusCreated, gin.H{
		"session":    sessionID,
		"proxy_base": resolve.Base(h.proxyOrigin(c), h.cfg.ProxyPath, sessionID),
	})
}

// DeleteSession drops the cookies of a session
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")

	if err := utils.ValidateID(sessionID, "session", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "client_input"})
		return
	}

	if !h.jar.Clear(sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "kind": "client_input"})
		return
	}

	c.Status(http.StatusNoContent)
}
