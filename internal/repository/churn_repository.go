package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/gympulse/gympulse-api/internal/models"
)

// ChurnRepository persists churn scores and model training metadata.
type ChurnRepository struct {
	db *sqlx.DB
}

// NewChurnRepository constructs the repository.
func NewChurnRepository(db *sqlx.DB) *ChurnRepository {
	return &ChurnRepository{db: db}
}

type churnScoreRow struct {
	StudentID    int64     `db:"student_id"`
	Probability  float64   `db:"probability"`
	RiskLevel    string    `db:"risk_level"`
	RiskFactors  string    `db:"risk_factors"`
	ModelVersion string    `db:"model_version"`
	ComputedAt   time.Time `db:"computed_at"`
}

// UpsertScore writes or replaces the score row for a student.
func (r *ChurnRepository) UpsertScore(ctx context.Context, score *models.ChurnScore) error {
	if score.ComputedAt.IsZero() {
		score.ComputedAt = time.Now().UTC()
	}
	query := `INSERT INTO churn_scores (student_id, probability, risk_level, risk_factors, model_version, computed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (student_id)
DO UPDATE SET probability = EXCLUDED.probability,
              risk_level = EXCLUDED.risk_level,
              risk_factors = EXCLUDED.risk_factors,
              model_version = EXCLUDED.model_version,
              computed_at = EXCLUDED.computed_at`
	_, err := r.db.ExecContext(ctx, query,
		score.StudentID,
		score.Probability,
		string(score.RiskLevel),
		strings.Join(score.RiskFactors, ","),
		score.ModelVersion,
		score.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert churn score: %w", err)
	}
	return nil
}

// GetScore returns the persisted score for a student, or nil when absent.
func (r *ChurnRepository) GetScore(ctx context.Context, studentID int64) (*models.ChurnScore, error) {
	query := `SELECT student_id, probability, risk_level, risk_factors, model_version, computed_at
FROM churn_scores
WHERE student_id = $1`
	var row churnScoreRow
	if err := r.db.GetContext(ctx, &row, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get churn score: %w", err)
	}
	score := &models.ChurnScore{
		StudentID:    row.StudentID,
		Probability:  row.Probability,
		RiskLevel:    models.RiskLevel(row.RiskLevel),
		ModelVersion: row.ModelVersion,
		ComputedAt:   row.ComputedAt,
	}
	if row.RiskFactors != "" {
		score.RiskFactors = strings.Split(row.RiskFactors, ",")
	}
	return score, nil
}

// SaveModelStats appends a metadata row for a freshly trained artifact.
func (r *ChurnRepository) SaveModelStats(ctx context.Context, stats *models.ModelStats) error {
	if stats.ID == "" {
		stats.ID = uuid.NewString()
	}
	if stats.TrainedAt.IsZero() {
		stats.TrainedAt = time.Now().UTC()
	}
	weights, err := json.Marshal(stats.FeatureWeights)
	if err != nil {
		return fmt.Errorf("marshal feature weights: %w", err)
	}
	query := `INSERT INTO churn_model_stats (id, version, total_samples, active_count, inactive_count, accuracy, feature_weights, trained_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = r.db.ExecContext(ctx, query,
		stats.ID,
		stats.Version,
		stats.TotalSamples,
		stats.ActiveCount,
		stats.InactiveCount,
		stats.Accuracy,
		weights,
		stats.TrainedAt,
	)
	if err != nil {
		return fmt.Errorf("save model stats: %w", err)
	}
	return nil
}

// LatestModelStats returns metadata for the most recent artifact, or nil.
func (r *ChurnRepository) LatestModelStats(ctx context.Context) (*models.ModelStats, error) {
	query := `SELECT id, version, total_samples, active_count, inactive_count, accuracy, feature_weights, trained_at
FROM churn_model_stats
ORDER BY trained_at DESC
LIMIT 1`
	var row struct {
		ID             string    `db:"id"`
		Version        string    `db:"version"`
		TotalSamples   int       `db:"total_samples"`
		ActiveCount    int       `db:"active_count"`
		InactiveCount  int       `db:"inactive_count"`
		Accuracy       float64   `db:"accuracy"`
		FeatureWeights []byte    `db:"feature_weights"`
		TrainedAt      time.Time `db:"trained_at"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest model stats: %w", err)
	}
	stats := &models.ModelStats{
		ID:            row.ID,
		Version:       row.Version,
		TotalSamples:  row.TotalSamples,
		ActiveCount:   row.ActiveCount,
		InactiveCount: row.InactiveCount,
		Accuracy:      row.Accuracy,
		TrainedAt:     row.TrainedAt,
	}
	if len(row.FeatureWeights) > 0 {
		if err := json.Unmarshal(row.FeatureWeights, &stats.FeatureWeights); err != nil {
			return nil, fmt.Errorf("unmarshal feature weights: %w", err)
		}
	}
	return stats, nil
}
