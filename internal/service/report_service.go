package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/internal/models"
	"github.com/gympulse/gympulse-api/internal/worker"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
	"github.com/gympulse/gympulse-api/pkg/export"
	"github.com/gympulse/gympulse-api/pkg/queue"
)

type reportVisitSource interface {
	Between(ctx context.Context, from, to time.Time) ([]models.VisitWithStudent, error)
}

type documentRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type reportSink interface {
	Save(filename string, data []byte) (string, error)
}

// ReportService aggregates one day of attendance and persists the rendered
// report to local storage.
type ReportService struct {
	visits   reportVisitSource
	renderer documentRenderer
	sink     reportSink
	logger   *zap.Logger
	format   string
}

func NewReportService(visits reportVisitSource, renderer documentRenderer, sink reportSink, logger *zap.Logger, format string) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if format == "" {
		format = "csv"
	}
	return &ReportService{
		visits:   visits,
		renderer: renderer,
		sink:     sink,
		logger:   logger,
		format:   format,
	}
}

// BuildDailyReport aggregates all visits whose entry falls on the given
// calendar day (UTC).
func (s *ReportService) BuildDailyReport(ctx context.Context, date time.Time) (*models.DailyReport, error) {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	visits, err := s.visits.Between(ctx, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visits for report")
	}

	report := &models.DailyReport{
		Date:           from,
		TotalCheckins:  len(visits),
		CheckinsByPlan: make(map[string]int),
		Attendees:      visits,
	}

	seen := make(map[int64]struct{})
	totalDuration := 0
	for _, v := range visits {
		if _, ok := seen[v.StudentID]; !ok {
			seen[v.StudentID] = struct{}{}
		}
		report.CheckinsByHour[v.EntryTime.UTC().Hour()]++
		plan := "none"
		if v.PlanName != nil {
			plan = *v.PlanName
		}
		report.CheckinsByPlan[plan]++
		if v.DurationMinutes != nil {
			report.CompletedVisits++
			totalDuration += *v.DurationMinutes
		}
	}
	report.UniqueStudents = len(seen)
	if report.CompletedVisits > 0 {
		report.AvgDurationMinutes = float64(totalDuration) / float64(report.CompletedVisits)
	}
	return report, nil
}

// RenderDailyReport persists the report in the configured format and
// returns the stored file path.
func (s *ReportService) RenderDailyReport(report *models.DailyReport) (string, error) {
	doc := buildReportDocument(report)
	data, err := s.renderer.Render(doc)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render daily report")
	}
	filename := fmt.Sprintf("daily_%s_%d.%s",
		report.Date.Format("2006-01-02"), time.Now().Unix(), s.format)
	path, err := s.sink.Save(filename, data)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store daily report")
	}
	return path, nil
}

// HandleReport consumes one daily report request. A missing or unparseable
// date falls back to the current day.
func (s *ReportService) HandleReport(ctx context.Context, msg queue.Message) worker.Result {
	var req models.ReportRequest
	if len(msg.Body) > 0 {
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			s.logger.Warn("malformed report request, discarding",
				zap.String("message_id", msg.ID), zap.Error(err))
			return worker.ResultDiscard
		}
	}

	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			s.logger.Warn("unparseable report date, using today",
				zap.String("date", req.Date))
		} else {
			date = parsed
		}
	}

	report, err := s.BuildDailyReport(ctx, date)
	if err != nil {
		s.logger.Error("failed to build daily report, retrying",
			zap.String("message_id", msg.ID), zap.Error(err))
		return worker.ResultRetry
	}
	path, err := s.RenderDailyReport(report)
	if err != nil {
		s.logger.Error("failed to persist daily report, retrying",
			zap.String("message_id", msg.ID), zap.Error(err))
		return worker.ResultRetry
	}
	s.logger.Info("daily report generated",
		zap.String("date", report.Date.Format("2006-01-02")),
		zap.Int("checkins", report.TotalCheckins),
		zap.String("path", path))
	return worker.ResultAck
}

func buildReportDocument(report *models.DailyReport) export.Document {
	doc := export.Document{
		Title:    "Daily Attendance Report",
		Subtitle: report.Date.Format("2006-01-02"),
		Summary: [][2]string{
			{"Total check-ins", strconv.Itoa(report.TotalCheckins)},
			{"Unique students", strconv.Itoa(report.UniqueStudents)},
			{"Completed visits", strconv.Itoa(report.CompletedVisits)},
			{"Average duration (min)", fmt.Sprintf("%.1f", report.AvgDurationMinutes)},
		},
	}

	hourly := export.Table{
		Title:   "Check-ins by hour",
		Headers: []string{"Hour", "Check-ins"},
	}
	for hour, count := range report.CheckinsByHour {
		if count == 0 {
			continue
		}
		hourly.Rows = append(hourly.Rows, []string{
			fmt.Sprintf("%02d:00", hour), strconv.Itoa(count),
		})
	}
	doc.Tables = append(doc.Tables, hourly)

	plans := make([]string, 0, len(report.CheckinsByPlan))
	for plan := range report.CheckinsByPlan {
		plans = append(plans, plan)
	}
	sort.Strings(plans)
	byPlan := export.Table{
		Title:   "Check-ins by plan",
		Headers: []string{"Plan", "Check-ins"},
	}
	for _, plan := range plans {
		byPlan.Rows = append(byPlan.Rows, []string{plan, strconv.Itoa(report.CheckinsByPlan[plan])})
	}
	doc.Tables = append(doc.Tables, byPlan)

	attendees := export.Table{
		Title:   "Attendees",
		Headers: []string{"Student", "Plan", "Entry", "Exit", "Duration (min)"},
	}
	for _, v := range report.Attendees {
		plan, exit, duration := "-", "-", "-"
		if v.PlanName != nil {
			plan = *v.PlanName
		}
		if v.ExitTime != nil {
			exit = v.ExitTime.UTC().Format("15:04:05")
		}
		if v.DurationMinutes != nil {
			duration = strconv.Itoa(*v.DurationMinutes)
		}
		attendees.Rows = append(attendees.Rows, []string{
			v.StudentName, plan, v.EntryTime.UTC().Format("15:04:05"), exit, duration,
		})
	}
	doc.Tables = append(doc.Tables, attendees)
	return doc
}
