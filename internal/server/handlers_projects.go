package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/estimate"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
)

type rateCardRequestPayload struct {
	PMDayRate     *int64 `json:"pmDayRate"`
	DevDayRate    *int64 `json:"devDayRate"`
	DesignDayRate *int64 `json:"designDayRate"`
}

func (h *httpHandler) handleListRateCards(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	cards, err := h.quotes.ListRateCards(c.Request.Context(), actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rateCards": cards})
}

func (h *httpHandler) handleActiveRateCard(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	card, err := h.quotes.ActiveRateCard(c.Request.Context(), actor)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

func (h *httpHandler) handlePublishRateCard(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request rateCardRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	if request.PMDayRate == nil || request.DevDayRate == nil || request.DesignDayRate == nil {
		h.respondInvalidRequest(c, "missing_rates")
		return
	}
	card, err := h.quotes.PublishRateCard(c.Request.Context(), actor, estimate.Rates{
		PMDayRate:     *request.PMDayRate,
		DevDayRate:    *request.DevDayRate,
		DesignDayRate: *request.DesignDayRate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

func (h *httpHandler) handleListProjects(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	projects, err := h.quotes.ListProjects(c.Request.Context(), actor, quotes.ProjectFilter{
		Status:      quotes.Status(c.Query("status")),
		OwnerUserID: c.Query("owner"),
		Search:      c.Query("q"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request quotes.CreateProjectInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	project, err := h.quotes.CreateProject(c.Request.Context(), actor, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *httpHandler) handleGetProject(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	project, err := h.quotes.GetProject(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	snapshot, err := h.quotes.Snapshot(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// handleSaveRequirements stores the payload and then refreshes the estimate.
// A failed refresh is logged by the service and does not fail the save.
func (h *httpHandler) handleSaveRequirements(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	var request estimate.Requirements
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "invalid_request")
		return
	}
	projectID := c.Param("id")
	saved, err := h.quotes.SaveRequirements(c.Request.Context(), actor, projectID, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.quotes.RecomputeEstimateBestEffort(c.Request.Context(), actor, projectID)
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleGetRequirements(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	requirements, err := h.quotes.GetRequirements(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requirements)
}

func (h *httpHandler) handleGetEstimate(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	result, err := h.quotes.GetEstimate(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleComputeEstimate(c *gin.Context) {
	actor, ok := h.requireActor(c)
	if !ok {
		return
	}
	result, err := h.quotes.ComputeEstimate(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
