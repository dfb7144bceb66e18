package models

import "time"

// RiskLevel buckets a churn probability for operators.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// RiskLevelFor maps a probability to its bucket.
func RiskLevelFor(probability float64) RiskLevel {
	switch {
	case probability > 0.7:
		return RiskHigh
	case probability > 0.4:
		return RiskModerate
	default:
		return RiskLow
	}
}

// ChurnScore is the persisted, cacheable scoring result for one student.
type ChurnScore struct {
	StudentID    int64     `db:"student_id" json:"student_id"`
	Probability  float64   `db:"probability" json:"probability"`
	RiskLevel    RiskLevel `db:"risk_level" json:"risk_level"`
	RiskFactors  []string  `db:"-" json:"risk_factors"`
	ModelVersion string    `db:"model_version" json:"model_version"`
	ComputedAt   time.Time `db:"computed_at" json:"computed_at"`
}

// FeatureVector is the fixed-shape classifier input for one student.
// It is derived fresh from visits and the plan at scoring time, never stored.
type FeatureVector struct {
	StudentID          int64   `json:"student_id"`
	TotalVisits        float64 `json:"total_visits"`
	DaysSinceLastVisit float64 `json:"days_since_last_visit"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
	WeeklyFrequency    float64 `json:"weekly_frequency"`
	PlanCategory       float64 `json:"plan_category"`
	MonthlyFee         float64 `json:"monthly_fee"`
}

// Values returns the vector in the fixed order the classifier trains on.
func (v FeatureVector) Values() []float64 {
	return []float64{
		v.TotalVisits,
		v.DaysSinceLastVisit,
		v.AvgDurationMinutes,
		v.WeeklyFrequency,
		v.PlanCategory,
		v.MonthlyFee,
	}
}

// FeatureNames matches the order of FeatureVector.Values.
func FeatureNames() []string {
	return []string{
		"total_visits",
		"days_since_last_visit",
		"avg_duration_minutes",
		"weekly_frequency",
		"plan_category",
		"monthly_fee",
	}
}

// ModelStats records metadata for one trained model artifact.
type ModelStats struct {
	ID             string             `db:"id" json:"id"`
	Version        string             `db:"version" json:"version"`
	TotalSamples   int                `db:"total_samples" json:"total_samples"`
	ActiveCount    int                `db:"active_count" json:"active_count"`
	InactiveCount  int                `db:"inactive_count" json:"inactive_count"`
	Accuracy       float64            `db:"accuracy" json:"accuracy"`
	FeatureWeights map[string]float64 `db:"-" json:"feature_weights"`
	TrainedAt      time.Time          `db:"trained_at" json:"trained_at"`
}
