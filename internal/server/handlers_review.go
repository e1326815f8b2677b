package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

type transitionFunc func(ctx context.Context, actor users.Actor, projectID string) (quotes.Project, error)

type shareLinkRequestPayload struct {
	Password      string `json:"password"`
	ExpiresInDays int    `json:"expiresInDays"`
}

type shareVerifyPayload struct {
	Password string `json:"password"`
}

func (h *httpHandler) handleTransition(transition transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := h.requireActor(c)
		if !ok {
			return
		}
		project, err := transition(c.Request.Context(), actor, c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

func (h *httpHandler) handleListShareLinks(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	links, err := h.quotes.ListShareLinks(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shareLinks": links})
}

func (h *httpHandler) handleCreateShareLink(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request shareLinkRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	link, err := h.quotes.CreateShareLink(c.Request.Context(), actor, c.Param("id"), request.Password, request.ExpiresInDays)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (h *httpHandler) handleRevokeShareLink(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	link, err := h.quotes.RevokeShareLink(c.Request.Context(), actor, c.Param("id"), c.Param("linkId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

// handleVerifyShareLink is the only unauthenticated quote endpoint.
func (h *httpHandler) handleVerifyShareLink(c *gin.Context) {
	var request shareVerifyPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	snapshot, err := h.quotes.VerifyShareLink(c.Request.Context(), c.Param("token"), request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleListPdfExports(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	exports, err := h.quotes.ListPdfExports(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pdfExports": exports})
}

func (h *httpHandler) handleRequestPdfExport(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	export, err := h.quotes.RequestPdfExport(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, export)
}
