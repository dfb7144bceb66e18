package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/internal/churn"
	"github.com/gympulse/gympulse-api/internal/models"
	"github.com/gympulse/gympulse-api/internal/worker"
	"github.com/gympulse/gympulse-api/pkg/config"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
	"github.com/gympulse/gympulse-api/pkg/queue"
)

const churnScoreKeyPrefix = "churn:student:"

// ChurnScoreCacheKey is the cache key for one student's score.
func ChurnScoreCacheKey(studentID int64) string {
	return fmt.Sprintf("%s%d", churnScoreKeyPrefix, studentID)
}

// Classifier is the black-box model contract the scorer depends on.
type Classifier interface {
	PredictProba(features []float64) (float64, error)
}

type churnScoreStore interface {
	UpsertScore(ctx context.Context, score *models.ChurnScore) error
	GetScore(ctx context.Context, studentID int64) (*models.ChurnScore, error)
	SaveModelStats(ctx context.Context, stats *models.ModelStats) error
	LatestModelStats(ctx context.Context) (*models.ModelStats, error)
}

type studentSource interface {
	GetWithPlan(ctx context.Context, id int64) (*models.StudentWithPlan, error)
	ListAllWithPlan(ctx context.Context) ([]models.StudentWithPlan, error)
}

type visitSource interface {
	ListByStudent(ctx context.Context, studentID int64) ([]models.Visit, error)
	ListAll(ctx context.Context) ([]models.Visit, error)
}

type artifactStore interface {
	SaveAtomic(name string, data []byte) (string, error)
	Read(name string) ([]byte, error)
}

const modelArtifactName = "churn_model.json"

// ChurnService trains the churn model and scores students. The current model
// artifact is immutable once published; training swaps the pointer under the
// mutex so readers always see a fully built model.
type ChurnService struct {
	scores    churnScoreStore
	students  studentSource
	visits    visitSource
	features  *FeatureService
	cache     *CacheService
	artifacts artifactStore
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       config.ChurnConfig

	mu           sync.RWMutex
	model        Classifier
	modelVersion string
}

// NewChurnService constructs the service and loads a previously persisted
// model artifact when one exists.
func NewChurnService(scores churnScoreStore, students studentSource, visits visitSource, features *FeatureService, cache *CacheService, artifacts artifactStore, metrics *MetricsService, logger *zap.Logger, cfg config.ChurnConfig) *ChurnService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinTrainingSamples <= 0 {
		cfg.MinTrainingSamples = 10
	}
	svc := &ChurnService{
		scores:    scores,
		students:  students,
		visits:    visits,
		features:  features,
		cache:     cache,
		artifacts: artifacts,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
	svc.loadArtifact()
	return svc
}

func (s *ChurnService) loadArtifact() {
	if s.artifacts == nil {
		return
	}
	data, err := s.artifacts.Read(modelArtifactName)
	if err != nil {
		return
	}
	model, err := churn.Unmarshal(data)
	if err != nil {
		s.logger.Warn("ignoring unreadable model artifact", zap.Error(err))
		return
	}
	s.setModel(model, model.Version)
	s.logger.Info("loaded churn model artifact", zap.String("version", model.Version))
}

func (s *ChurnService) setModel(model Classifier, version string) {
	s.mu.Lock()
	s.model = model
	s.modelVersion = version
	s.mu.Unlock()
}

func (s *ChurnService) currentModel() (Classifier, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, s.modelVersion
}

// Train fits a new model on every student's feature vector, persists the
// artifact and its stats, and invalidates all cached scores. With fewer than
// the configured minimum of students it returns ErrInsufficientData and the
// prior artifact stays in place.
func (s *ChurnService) Train(ctx context.Context) (*models.ModelStats, error) {
	students, err := s.students.ListAllWithPlan(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students for training")
	}
	if len(students) < s.cfg.MinTrainingSamples {
		return nil, appErrors.Clone(appErrors.ErrInsufficientData,
			fmt.Sprintf("need at least %d students to train, have %d", s.cfg.MinTrainingSamples, len(students)))
	}

	allVisits, err := s.visits.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visits for training")
	}
	visitsByStudent := make(map[int64][]models.Visit, len(students))
	for _, v := range allVisits {
		visitsByStudent[v.StudentID] = append(visitsByStudent[v.StudentID], v)
	}

	now := time.Now().UTC()
	samples := make([][]float64, len(students))
	labels := make([]float64, len(students))
	activeCount := 0
	for i, student := range students {
		fv := s.features.Extract(student, visitsByStudent[student.ID], now)
		samples[i] = fv.Values()
		if student.Active {
			activeCount++
		} else {
			labels[i] = 1
		}
	}

	model, err := churn.Fit(samples, labels, churn.TrainConfig{
		Epochs:       s.cfg.TrainEpochs,
		LearningRate: s.cfg.LearningRate,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "model training failed")
	}

	stats := &models.ModelStats{
		Version:        model.Version,
		TotalSamples:   len(students),
		ActiveCount:    activeCount,
		InactiveCount:  len(students) - activeCount,
		Accuracy:       model.Accuracy(samples, labels),
		FeatureWeights: featureWeights(model),
		TrainedAt:      model.TrainedAt,
	}
	if err := s.scores.SaveModelStats(ctx, stats); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist model stats")
	}

	if s.artifacts != nil {
		data, err := model.Marshal()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode model artifact")
		}
		if _, err := s.artifacts.SaveAtomic(modelArtifactName, data); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist model artifact")
		}
	}

	s.setModel(model, model.Version)
	if err := s.cache.Invalidate(ctx, churnScoreKeyPrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate score cache after retrain", zap.Error(err))
	}
	s.metrics.RecordTraining(stats.Accuracy)
	s.logger.Info("churn model trained",
		zap.String("version", stats.Version),
		zap.Int("samples", stats.TotalSamples),
		zap.Float64("accuracy", stats.Accuracy))
	return stats, nil
}

// Score returns the churn score for one student, serving a fresh cached
// value when present and recomputing through the model otherwise. Without a
// loaded model the last persisted score, if any, is served instead.
func (s *ChurnService) Score(ctx context.Context, studentID int64) (*models.ChurnScore, error) {
	key := ChurnScoreCacheKey(studentID)
	var cached models.ChurnScore
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	model, version := s.currentModel()
	if model == nil {
		stored, err := s.scores.GetScore(ctx, studentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load persisted churn score")
		}
		if stored == nil {
			return nil, appErrors.ErrModelNotFound
		}
		if err := s.cache.Set(ctx, key, stored, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache churn score", zap.Int64("student_id", studentID), zap.Error(err))
		}
		return stored, nil
	}

	student, err := s.students.GetWithPlan(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return s.scoreStudent(ctx, model, version, *student)
}

// ScoreAll recomputes scores for every student. Returns the number scored.
func (s *ChurnService) ScoreAll(ctx context.Context) (int, error) {
	model, version := s.currentModel()
	if model == nil {
		return 0, appErrors.ErrModelNotFound
	}
	students, err := s.students.ListAllWithPlan(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students for scoring")
	}
	scored := 0
	for _, student := range students {
		if _, err := s.scoreStudent(ctx, model, version, student); err != nil {
			s.logger.Warn("failed to score student",
				zap.Int64("student_id", student.ID), zap.Error(err))
			continue
		}
		scored++
	}
	s.logger.Info("bulk scoring finished", zap.Int("scored", scored), zap.Int("students", len(students)))
	return scored, nil
}

// ModelStats returns metadata for the most recent training run.
func (s *ChurnService) ModelStats(ctx context.Context) (*models.ModelStats, error) {
	stats, err := s.scores.LatestModelStats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load model stats")
	}
	if stats == nil {
		return nil, appErrors.ErrModelNotFound
	}
	return stats, nil
}

func (s *ChurnService) scoreStudent(ctx context.Context, model Classifier, version string, student models.StudentWithPlan) (*models.ChurnScore, error) {
	visits, err := s.visits.ListByStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visits for scoring")
	}
	fv := s.features.Extract(student, visits, time.Now().UTC())
	probability, err := model.PredictProba(fv.Values())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "model prediction failed")
	}

	score := &models.ChurnScore{
		StudentID:    student.ID,
		Probability:  probability,
		RiskLevel:    models.RiskLevelFor(probability),
		RiskFactors:  s.features.RiskFactors(fv),
		ModelVersion: version,
		ComputedAt:   time.Now().UTC(),
	}
	if err := s.scores.UpsertScore(ctx, score); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist churn score")
	}
	if err := s.cache.Set(ctx, ChurnScoreCacheKey(student.ID), score, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache churn score", zap.Int64("student_id", student.ID), zap.Error(err))
	}
	s.metrics.RecordScoreComputed()
	return score, nil
}

// HandleTrain consumes one model retraining request.
func (s *ChurnService) HandleTrain(ctx context.Context, msg queue.Message) worker.Result {
	var req models.TrainRequest
	if len(msg.Body) > 0 {
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			s.logger.Warn("malformed train request, discarding",
				zap.String("message_id", msg.ID), zap.Error(err))
			return worker.ResultDiscard
		}
	}
	if _, err := s.Train(ctx); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrInsufficientData.Code {
			// Not retryable until more data arrives; leave the prior model.
			s.logger.Warn("training skipped", zap.String("reason", appErr.Message))
			return worker.ResultAck
		}
		s.logger.Error("training failed, retrying", zap.String("message_id", msg.ID), zap.Error(err))
		return worker.ResultRetry
	}
	return worker.ResultAck
}

// HandleScore consumes one scoring request, for a single student or all.
func (s *ChurnService) HandleScore(ctx context.Context, msg queue.Message) worker.Result {
	var req models.ScoreRequest
	if len(msg.Body) > 0 {
		if err := json.Unmarshal(msg.Body, &req); err != nil {
			s.logger.Warn("malformed score request, discarding",
				zap.String("message_id", msg.ID), zap.Error(err))
			return worker.ResultDiscard
		}
	}

	var err error
	if req.StudentID != nil {
		_, err = s.Score(ctx, *req.StudentID)
	} else {
		_, err = s.ScoreAll(ctx)
	}
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			switch appErr.Code {
			case appErrors.ErrModelNotFound.Code:
				s.logger.Warn("scoring requested before training, dropping request",
					zap.String("message_id", msg.ID))
				return worker.ResultAck
			case appErrors.ErrNotFound.Code:
				s.logger.Warn("scoring requested for unknown student, discarding",
					zap.String("message_id", msg.ID))
				return worker.ResultDiscard
			}
		}
		s.logger.Error("scoring failed, retrying", zap.String("message_id", msg.ID), zap.Error(err))
		return worker.ResultRetry
	}
	return worker.ResultAck
}

func featureWeights(model *churn.Model) map[string]float64 {
	names := models.FeatureNames()
	weights := make(map[string]float64, len(names))
	for i, name := range names {
		if i < len(model.Weights) {
			weights[name] = model.Weights[i]
		}
	}
	return weights
}
