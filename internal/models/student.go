package models

import "time"

// Student is owned by the registration subsystem; this service only reads
// id, plan and active flag.
type Student struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	PlanID    *int64    `db:"plan_id" json:"plan_id,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Plan is a membership plan, also read-only here.
type Plan struct {
	ID         int64   `db:"id" json:"id"`
	Name       string  `db:"name" json:"name"`
	MonthlyFee float64 `db:"monthly_fee" json:"monthly_fee"`
}

// StudentWithPlan joins a student with its plan for feature extraction.
type StudentWithPlan struct {
	Student
	PlanName   *string  `db:"plan_name" json:"plan_name,omitempty"`
	MonthlyFee *float64 `db:"monthly_fee" json:"monthly_fee,omitempty"`
}
