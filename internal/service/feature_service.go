package service

import (
	"fmt"
	"time"

	"github.com/gympulse/gympulse-api/internal/models"
	"github.com/gympulse/gympulse-api/pkg/config"
)

// FeatureService derives classifier feature vectors from attendance history.
// Extraction is a pure function of its inputs; the service carries only
// immutable configuration and is safe for concurrent use.
type FeatureService struct {
	sentinelDays   int
	planCategories map[string]int
}

// NewFeatureService constructs the extractor from churn configuration.
func NewFeatureService(cfg config.ChurnConfig) *FeatureService {
	sentinel := cfg.NoVisitSentinelDays
	if sentinel <= 0 {
		sentinel = 365
	}
	categories := cfg.PlanCategories
	if categories == nil {
		categories = map[string]int{}
	}
	return &FeatureService{sentinelDays: sentinel, planCategories: categories}
}

// Extract builds the feature vector for one student. Visits are expected in
// entry-time order; a student with no visits gets the no-visit sentinel for
// recency and zeros elsewhere.
func (s *FeatureService) Extract(student models.StudentWithPlan, visits []models.Visit, now time.Time) models.FeatureVector {
	fv := models.FeatureVector{
		StudentID:          student.ID,
		DaysSinceLastVisit: float64(s.sentinelDays),
	}

	if student.PlanName != nil {
		fv.PlanCategory = float64(s.planCategories[*student.PlanName])
	}
	if student.MonthlyFee != nil {
		fv.MonthlyFee = *student.MonthlyFee
	}

	if len(visits) == 0 {
		return fv
	}

	fv.TotalVisits = float64(len(visits))

	first := visits[0].EntryTime
	last := visits[0].EntryTime
	durationSum := 0
	durationCount := 0
	for _, v := range visits {
		if v.EntryTime.Before(first) {
			first = v.EntryTime
		}
		if v.EntryTime.After(last) {
			last = v.EntryTime
		}
		if v.DurationMinutes != nil {
			durationSum += *v.DurationMinutes
			durationCount++
		}
	}

	days := now.Sub(last).Hours() / 24
	if days < 0 {
		days = 0
	}
	fv.DaysSinceLastVisit = float64(int(days))

	if durationCount > 0 {
		fv.AvgDurationMinutes = float64(durationSum) / float64(durationCount)
	}

	weeks := now.Sub(first).Hours() / 24 / 7
	if weeks < 1 {
		weeks = 1
	}
	fv.WeeklyFrequency = fv.TotalVisits / weeks

	return fv
}

// RiskFactors translates threshold breaches into operator-readable reasons.
func (s *FeatureService) RiskFactors(fv models.FeatureVector) []string {
	factors := []string{}

	if fv.DaysSinceLastVisit > 30 {
		factors = append(factors, fmt.Sprintf("inactive for %d days", int(fv.DaysSinceLastVisit)))
	}
	if fv.WeeklyFrequency < 1 {
		factors = append(factors, "fewer than one visit per week")
	}
	if fv.AvgDurationMinutes < 30 {
		factors = append(factors, fmt.Sprintf("average visit duration of only %d minutes", int(fv.AvgDurationMinutes)))
	}
	if fv.TotalVisits < 5 {
		factors = append(factors, "few total visits")
	}

	return factors
}
