package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gympulse/gympulse-api/internal/service"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
	"github.com/gympulse/gympulse-api/pkg/response"
)

// CheckinHandler exposes check-in ingestion and visit history endpoints.
type CheckinHandler struct {
	checkins *service.CheckinService
}

// NewCheckinHandler constructs CheckinHandler.
func NewCheckinHandler(checkins *service.CheckinService) *CheckinHandler {
	return &CheckinHandler{checkins: checkins}
}

// Register accepts one check-in event and enqueues it for processing.
func (h *CheckinHandler) Register(c *gin.Context) {
	var req service.CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid check-in payload"))
		return
	}
	if err := h.checkins.RegisterCheckin(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"status": "queued"})
}

// RegisterBatch accepts a batch of check-in events as one unit of work.
func (h *CheckinHandler) RegisterBatch(c *gin.Context) {
	var req service.BatchCheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid batch payload"))
		return
	}
	count, err := h.checkins.RegisterBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"status": "queued", "count": count})
}

// History lists a student's visits, most recent first.
func (h *CheckinHandler) History(c *gin.Context) {
	studentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || studentID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student id"))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	visits, err := h.checkins.VisitHistory(c.Request.Context(), studentID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, visits, nil)
}
