package models

import "time"

// Visit is one gym attendance record. An open visit has a recorded entry and
// no exit yet; at most one open visit exists per student, enforced by a
// partial unique index on (student_id) WHERE exit_time IS NULL.
type Visit struct {
	ID              string     `db:"id" json:"id"`
	StudentID       int64      `db:"student_id" json:"student_id"`
	EntryTime       time.Time  `db:"entry_time" json:"entry_time"`
	ExitTime        *time.Time `db:"exit_time" json:"exit_time,omitempty"`
	DurationMinutes *int       `db:"duration_minutes" json:"duration_minutes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Open reports whether the visit still lacks an exit.
func (v *Visit) Open() bool {
	return v.ExitTime == nil
}

// DurationBetween computes visit duration in whole minutes, truncated and
// clamped to zero so clock skew never yields a negative duration.
func DurationBetween(entry, exit time.Time) int {
	minutes := int(exit.Sub(entry) / time.Minute)
	if minutes < 0 {
		return 0
	}
	return minutes
}

// VisitWithStudent joins visit rows with student metadata for reporting.
type VisitWithStudent struct {
	Visit
	StudentName string  `db:"student_name" json:"student_name"`
	PlanName    *string `db:"plan_name" json:"plan_name,omitempty"`
}

// DailyReport aggregates one calendar day of attendance.
type DailyReport struct {
	Date               time.Time          `json:"date"`
	TotalCheckins      int                `json:"total_checkins"`
	UniqueStudents     int                `json:"unique_students"`
	CompletedVisits    int                `json:"completed_visits"`
	AvgDurationMinutes float64            `json:"avg_duration_minutes"`
	CheckinsByHour     [24]int            `json:"checkins_by_hour"`
	CheckinsByPlan     map[string]int     `json:"checkins_by_plan"`
	Attendees          []VisitWithStudent `json:"attendees"`
}
