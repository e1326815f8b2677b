package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
)

type blockUpdatePayload struct {
	Content *string `json:"content"`
}

type commentPayload struct {
	Body string `json:"body"`
}

func (h *httpHandler) handleListProposal(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	document, err := h.quotes.ListProposal(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleGenerateProposal(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	document, err := h.quotes.GenerateProposal(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleRegenerateProposal(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	document, err := h.quotes.RegenerateProposal(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleUpdateBlock(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request blockUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Content == nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	block, err := h.quotes.UpdateBlock(c.Request.Context(), actor, c.Param("id"), c.Param("blockId"), *request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	comments, err := h.quotes.ListComments(c.Request.Context(), actor, c.Param("id"), quotes.CommentFilter{
		BlockID: c.Param("blockId"),
		Status:  quotes.CommentStatus(c.Query("status")),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *httpHandler) handleListProjectComments(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	comments, err := h.quotes.ListComments(c.Request.Context(), actor, c.Param("id"), quotes.CommentFilter{
		Status: quotes.CommentStatus(c.Query("status")),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

func (h *httpHandler) handleOpenComment(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	comment, err := h.quotes.OpenComment(c.Request.Context(), actor, c.Param("id"), c.Param("blockId"), request.Body)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleResolveComment(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	comment, err := h.quotes.ResolveComment(c.Request.Context(), actor, c.Param("commentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, comment)
}
