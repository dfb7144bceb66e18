package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/gympulse/gympulse-api/internal/service"
	"github.com/gympulse/gympulse-api/pkg/response"
)

// ReportHandler exposes report generation endpoints.
type ReportHandler struct {
	checkins *service.CheckinService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(checkins *service.CheckinService) *ReportHandler {
	return &ReportHandler{checkins: checkins}
}

// RequestDaily enqueues generation of the daily attendance report. With no
// date in the payload the worker reports on the current day.
func (h *ReportHandler) RequestDaily(c *gin.Context) {
	var req struct {
		Date string `json:"date"`
	}
	// Body is optional.
	_ = c.ShouldBindJSON(&req)
	if err := h.checkins.RequestDailyReport(c.Request.Context(), req.Date); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"status": "queued"})
}
