package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/internal/models"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
	"github.com/gympulse/gympulse-api/pkg/queue"
)

type eventPublisher interface {
	Publish(ctx context.Context, stream string, body []byte) error
}

type visitHistoryStore interface {
	HistoryByStudent(ctx context.Context, studentID int64, limit int) ([]models.Visit, error)
}

type studentChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// CheckinService is the producer side of the pipeline plus the synchronous
// read API. Publishing is fire-and-forget: success means the broker has
// persisted the message, not that a worker has processed it.
type CheckinService struct {
	publisher eventPublisher
	visits    visitHistoryStore
	students  studentChecker
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewCheckinService constructs the service.
func NewCheckinService(publisher eventPublisher, visits visitHistoryStore, students studentChecker, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *CheckinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &CheckinService{
		publisher: publisher,
		visits:    visits,
		students:  students,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
	svc.validator.RegisterValidation("checkin_type", func(fl validator.FieldLevel) bool {
		t := strings.ToLower(fl.Field().String())
		return t == models.EventTypeEntry || t == models.EventTypeExit
	})
	return svc
}

// CheckinRequest describes a single entry/exit event submission.
type CheckinRequest struct {
	StudentID int64  `json:"student_id" validate:"required,gt=0"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type" validate:"required,checkin_type"`
}

// BatchCheckinRequest carries multiple checkins submitted together.
type BatchCheckinRequest struct {
	Checkins []CheckinRequest `json:"checkins" validate:"required,min=1,dive"`
}

// RegisterCheckin publishes one attendance event.
func (s *CheckinService) RegisterCheckin(ctx context.Context, req CheckinRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checkin payload")
	}
	event := models.CheckinEvent{
		StudentID: req.StudentID,
		Timestamp: req.Timestamp,
		Type:      strings.ToLower(req.Type),
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return s.publish(ctx, queue.StreamCheckin, event)
}

// RegisterBatch publishes a batch of attendance events as one message.
func (s *CheckinService) RegisterBatch(ctx context.Context, req BatchCheckinRequest) (int, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	batch := models.BatchCheckinEvent{
		Checkins:  make([]models.CheckinEvent, len(req.Checkins)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for i, item := range req.Checkins {
		batch.Checkins[i] = models.CheckinEvent{
			StudentID: item.StudentID,
			Timestamp: item.Timestamp,
			Type:      strings.ToLower(item.Type),
		}
	}
	if err := s.publish(ctx, queue.StreamCheckinBatch, batch); err != nil {
		return 0, err
	}
	return len(batch.Checkins), nil
}

// RequestTraining publishes a churn model retraining request.
func (s *CheckinService) RequestTraining(ctx context.Context) error {
	return s.publish(ctx, queue.StreamModelTrain, models.TrainRequest{
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// RequestScoring publishes a scoring request for one student, or for every
// student when studentID is nil.
func (s *CheckinService) RequestScoring(ctx context.Context, studentID *int64) error {
	return s.publish(ctx, queue.StreamModelScore, models.ScoreRequest{
		StudentID:   studentID,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// RequestDailyReport publishes a daily report request. An empty date means
// today; otherwise YYYY-MM-DD.
func (s *CheckinService) RequestDailyReport(ctx context.Context, date string) error {
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
		}
	}
	return s.publish(ctx, queue.StreamReportDaily, models.ReportRequest{
		Date:        date,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// VisitHistory returns a student's visits, most recent first.
func (s *CheckinService) VisitHistory(ctx context.Context, studentID int64, limit int) ([]models.Visit, error) {
	found, err := s.students.Exists(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up student")
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	visits, err := s.visits.HistoryByStudent(ctx, studentID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch visit history")
	}
	return visits, nil
}

func (s *CheckinService) publish(ctx context.Context, stream string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode event")
	}
	if err := s.publisher.Publish(ctx, stream, body); err != nil {
		s.logger.Error("publish failed", zap.String("stream", stream), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrQueueUnavailable.Code, appErrors.ErrQueueUnavailable.Status, appErrors.ErrQueueUnavailable.Message)
	}
	s.metrics.RecordPublish(stream)
	return nil
}
