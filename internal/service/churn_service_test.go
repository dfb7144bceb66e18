package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gympulse/gympulse-api/internal/models"
	"github.com/gympulse/gympulse-api/internal/worker"
	"github.com/gympulse/gympulse-api/pkg/config"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
	"github.com/gympulse/gympulse-api/pkg/queue"
)

type fakeChurnStore struct {
	scores []models.ChurnScore
	stats  *models.ModelStats
}

func (f *fakeChurnStore) UpsertScore(_ context.Context, score *models.ChurnScore) error {
	f.scores = append(f.scores, *score)
	return nil
}

func (f *fakeChurnStore) GetScore(_ context.Context, studentID int64) (*models.ChurnScore, error) {
	for i := len(f.scores) - 1; i >= 0; i-- {
		if f.scores[i].StudentID == studentID {
			score := f.scores[i]
			return &score, nil
		}
	}
	return nil, nil
}

func (f *fakeChurnStore) SaveModelStats(_ context.Context, stats *models.ModelStats) error {
	f.stats = stats
	return nil
}

func (f *fakeChurnStore) LatestModelStats(context.Context) (*models.ModelStats, error) {
	return f.stats, nil
}

type fakeStudentSource struct {
	students []models.StudentWithPlan
	getCalls int
}

func (f *fakeStudentSource) GetWithPlan(_ context.Context, id int64) (*models.StudentWithPlan, error) {
	f.getCalls++
	for _, s := range f.students {
		if s.ID == id {
			student := s
			return &student, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
}

func (f *fakeStudentSource) ListAllWithPlan(context.Context) ([]models.StudentWithPlan, error) {
	return f.students, nil
}

type fakeVisitSource struct {
	byStudent map[int64][]models.Visit
}

func (f *fakeVisitSource) ListByStudent(_ context.Context, studentID int64) ([]models.Visit, error) {
	return f.byStudent[studentID], nil
}

func (f *fakeVisitSource) ListAll(context.Context) ([]models.Visit, error) {
	var all []models.Visit
	for _, visits := range f.byStudent {
		all = append(all, visits...)
	}
	return all, nil
}

type fakeArtifactStore struct {
	files map[string][]byte
}

func (f *fakeArtifactStore) SaveAtomic(name string, data []byte) (string, error) {
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[name] = data
	return name, nil
}

func (f *fakeArtifactStore) Read(name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, errors.New("no such artifact")
	}
	return data, nil
}

type fakeCacheRepo struct {
	entries map[string][]byte
}

func (f *fakeCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.entries == nil {
		f.entries = map[string][]byte{}
	}
	f.entries[key] = data
	return nil
}

func (f *fakeCacheRepo) Delete(_ context.Context, key string) error {
	delete(f.entries, key)
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(_ context.Context, _ string) error {
	f.entries = map[string][]byte{}
	return nil
}

type constClassifier struct {
	probability float64
	calls       int
}

func (c *constClassifier) PredictProba([]float64) (float64, error) {
	c.calls++
	return c.probability, nil
}

func testChurnConfig() config.ChurnConfig {
	return config.ChurnConfig{
		Enabled:             true,
		MinTrainingSamples:  10,
		NoVisitSentinelDays: 365,
		CacheTTL:            30 * time.Minute,
		PlanCategories:      map[string]int{"Basic": 0, "Standard": 1, "Premium": 2},
	}
}

func trainingPopulation(n int) ([]models.StudentWithPlan, map[int64][]models.Visit) {
	plan := "Standard"
	fee := 89.90
	students := make([]models.StudentWithPlan, 0, n)
	visits := make(map[int64][]models.Visit, n)
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		active := i%2 == 0
		students = append(students, models.StudentWithPlan{
			Student:    models.Student{ID: id, Name: fmt.Sprintf("Student %d", id), Active: active},
			PlanName:   &plan,
			MonthlyFee: &fee,
		})
		if active {
			// Regular attendance over the last month.
			for w := 0; w < 8; w++ {
				entry := now.Add(-time.Duration(w*3*24) * time.Hour)
				duration := 60
				exit := entry.Add(time.Hour)
				visits[id] = append(visits[id], models.Visit{
					StudentID:       id,
					EntryTime:       entry,
					ExitTime:        &exit,
					DurationMinutes: &duration,
				})
			}
		}
	}
	return students, visits
}

func newChurnFixture(students []models.StudentWithPlan, visits map[int64][]models.Visit) (*ChurnService, *fakeChurnStore, *fakeArtifactStore, *fakeCacheRepo) {
	cfg := testChurnConfig()
	store := &fakeChurnStore{}
	artifacts := &fakeArtifactStore{}
	cacheRepo := &fakeCacheRepo{}
	cache := NewCacheService(cacheRepo, nil, cfg.CacheTTL, nil, true)
	svc := NewChurnService(store, &fakeStudentSource{students: students}, &fakeVisitSource{byStudent: visits},
		NewFeatureService(cfg), cache, artifacts, nil, nil, cfg)
	return svc, store, artifacts, cacheRepo
}

func TestTrainRequiresMinimumSamples(t *testing.T) {
	students, visits := trainingPopulation(3)
	svc, store, artifacts, _ := newChurnFixture(students, visits)
	svc.setModel(&constClassifier{probability: 0.5}, "prior")

	_, err := svc.Train(context.Background())
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInsufficientData.Code, appErr.Code)

	// The prior model and artifact survive a refused training run.
	_, version := svc.currentModel()
	assert.Equal(t, "prior", version)
	assert.Empty(t, artifacts.files)
	assert.Nil(t, store.stats)
}

func TestTrainPersistsArtifactAndStats(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, store, artifacts, _ := newChurnFixture(students, visits)

	stats, err := svc.Train(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 12, stats.TotalSamples)
	assert.Equal(t, 6, stats.ActiveCount)
	assert.Equal(t, 6, stats.InactiveCount)
	assert.GreaterOrEqual(t, stats.Accuracy, 0.5)
	assert.Contains(t, artifacts.files, "churn_model.json")
	require.NotNil(t, store.stats)
	assert.Equal(t, stats.Version, store.stats.Version)

	model, version := svc.currentModel()
	require.NotNil(t, model)
	assert.Equal(t, stats.Version, version)
}

func TestScoreBeforeTrainingReturnsModelNotFound(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, _, _, _ := newChurnFixture(students, visits)

	_, err := svc.Score(context.Background(), 1)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrModelNotFound.Code, appErr.Code)
}

func TestScoreFallsBackToPersistedScoreWithoutModel(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, store, _, cacheRepo := newChurnFixture(students, visits)

	store.scores = []models.ChurnScore{{StudentID: 1, Probability: 0.66, RiskLevel: models.RiskModerate, ModelVersion: "v-old"}}

	score, err := svc.Score(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.66, score.Probability)
	assert.Equal(t, "v-old", score.ModelVersion)
	assert.Contains(t, cacheRepo.entries, ChurnScoreCacheKey(1))
}

func TestScoreServesCachedValueWithoutModel(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, _, _, cacheRepo := newChurnFixture(students, visits)

	cached := models.ChurnScore{StudentID: 1, Probability: 0.82, RiskLevel: models.RiskHigh}
	data, err := json.Marshal(cached)
	require.NoError(t, err)
	cacheRepo.entries = map[string][]byte{ChurnScoreCacheKey(1): data}

	score, err := svc.Score(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0.82, score.Probability)
	assert.Equal(t, models.RiskHigh, score.RiskLevel)
}

func TestScoreComputesPersistsAndCaches(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, store, _, cacheRepo := newChurnFixture(students, visits)
	classifier := &constClassifier{probability: 0.9}
	svc.setModel(classifier, "v-test")

	score, err := svc.Score(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, classifier.calls)
	assert.Equal(t, models.RiskHigh, score.RiskLevel)
	assert.Equal(t, "v-test", score.ModelVersion)
	assert.NotEmpty(t, score.RiskFactors)
	require.Len(t, store.scores, 1)
	assert.Contains(t, cacheRepo.entries, ChurnScoreCacheKey(2))

	// Second read is served from cache, never touching the model.
	again, err := svc.Score(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, classifier.calls)
	assert.Equal(t, score.Probability, again.Probability)
}

func TestTrainInvalidatesCachedScores(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, _, _, cacheRepo := newChurnFixture(students, visits)

	cacheRepo.entries = map[string][]byte{ChurnScoreCacheKey(1): []byte(`{}`)}
	_, err := svc.Train(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cacheRepo.entries)
}

func TestHandleTrainAcksWhenDataInsufficient(t *testing.T) {
	students, visits := trainingPopulation(2)
	svc, _, _, _ := newChurnFixture(students, visits)

	msg := queue.Message{ID: "1-0", Stream: queue.StreamModelTrain, Body: []byte(`{}`)}
	assert.Equal(t, worker.ResultAck, svc.HandleTrain(context.Background(), msg))
}

func TestHandleScoreOutcomes(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, _, _, _ := newChurnFixture(students, visits)

	// Before training: nothing to score, drop the request.
	msg := queue.Message{ID: "1-0", Stream: queue.StreamModelScore, Body: []byte(`{"student_id":1}`)}
	assert.Equal(t, worker.ResultAck, svc.HandleScore(context.Background(), msg))

	svc.setModel(&constClassifier{probability: 0.3}, "v-test")

	assert.Equal(t, worker.ResultAck, svc.HandleScore(context.Background(), msg))

	unknown := queue.Message{ID: "2-0", Stream: queue.StreamModelScore, Body: []byte(`{"student_id":999}`)}
	assert.Equal(t, worker.ResultDiscard, svc.HandleScore(context.Background(), unknown))

	malformed := queue.Message{ID: "3-0", Stream: queue.StreamModelScore, Body: []byte("{oops")}
	assert.Equal(t, worker.ResultDiscard, svc.HandleScore(context.Background(), malformed))
}

func TestHandleScoreAllStudents(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, store, _, _ := newChurnFixture(students, visits)
	svc.setModel(&constClassifier{probability: 0.5}, "v-test")

	msg := queue.Message{ID: "1-0", Stream: queue.StreamModelScore, Body: []byte(`{}`)}
	assert.Equal(t, worker.ResultAck, svc.HandleScore(context.Background(), msg))
	assert.Len(t, store.scores, 12)
}

func TestNewChurnServiceLoadsPersistedArtifact(t *testing.T) {
	students, visits := trainingPopulation(12)
	svc, _, artifacts, _ := newChurnFixture(students, visits)
	_, err := svc.Train(context.Background())
	require.NoError(t, err)

	cfg := testChurnConfig()
	reloaded := NewChurnService(&fakeChurnStore{}, &fakeStudentSource{students: students}, &fakeVisitSource{byStudent: visits},
		NewFeatureService(cfg), NewCacheService(nil, nil, 0, nil, false), artifacts, nil, nil, cfg)
	model, version := reloaded.currentModel()
	require.NotNil(t, model)
	assert.NotEmpty(t, version)
}
