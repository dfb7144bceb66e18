package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gympulse/gympulse-api/internal/models"
	appErrors "github.com/gympulse/gympulse-api/pkg/errors"
)

// StudentRepository reads students and plans owned by the registration
// subsystem. This service never writes to those tables.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// GetWithPlan returns one student joined with its plan.
func (r *StudentRepository) GetWithPlan(ctx context.Context, id int64) (*models.StudentWithPlan, error) {
	query := `SELECT s.id, s.name, s.plan_id, s.active, s.created_at,
       p.name AS plan_name, p.monthly_fee
FROM students s
LEFT JOIN plans p ON p.id = s.plan_id
WHERE s.id = $1`
	var student models.StudentWithPlan
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &student, nil
}

// Exists reports whether a student id is known.
func (r *StudentRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var found bool
	if err := r.db.GetContext(ctx, &found, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("student exists: %w", err)
	}
	return found, nil
}

// ListAllWithPlan returns every student joined with plan metadata.
func (r *StudentRepository) ListAllWithPlan(ctx context.Context) ([]models.StudentWithPlan, error) {
	query := `SELECT s.id, s.name, s.plan_id, s.active, s.created_at,
       p.name AS plan_name, p.monthly_fee
FROM students s
LEFT JOIN plans p ON p.id = s.plan_id
ORDER BY s.id ASC`
	var students []models.StudentWithPlan
	if err := r.db.SelectContext(ctx, &students, query); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}
