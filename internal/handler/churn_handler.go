package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gympulse/gympulse-api/internal/service"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
	"github.com/gympulse/gympulse-api/pkg/response"
)

// ChurnHandler exposes churn scoring and training endpoints.
type ChurnHandler struct {
	churn    *service.ChurnService
	checkins *service.CheckinService
}

// NewChurnHandler constructs ChurnHandler.
func NewChurnHandler(churn *service.ChurnService, checkins *service.CheckinService) *ChurnHandler {
	return &ChurnHandler{churn: churn, checkins: checkins}
}

// Score returns the churn score for one student, cached or freshly computed.
func (h *ChurnHandler) Score(c *gin.Context) {
	studentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || studentID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student id"))
		return
	}
	score, err := h.churn.Score(c.Request.Context(), studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, score, nil)
}

// Train enqueues a model retraining request.
func (h *ChurnHandler) Train(c *gin.Context) {
	if err := h.checkins.RequestTraining(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"status": "queued"})
}

// ScoreAll enqueues a scoring request, for every student or one when the
// student_id query parameter is present.
func (h *ChurnHandler) ScoreAll(c *gin.Context) {
	var studentID *int64
	if raw := c.Query("student_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid student_id"))
			return
		}
		studentID = &parsed
	}
	if err := h.checkins.RequestScoring(c.Request.Context(), studentID); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"status": "queued"})
}

// ModelStats returns metadata for the latest trained model.
func (h *ChurnHandler) ModelStats(c *gin.Context) {
	stats, err := h.churn.ModelStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
