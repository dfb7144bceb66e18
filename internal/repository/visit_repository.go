package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/gympulse/gympulse-api/internal/models"
)

// ErrOpenVisitExists signals that another writer created the open visit
// first. The consumer treats this as retryable: on redelivery the open visit
// is found and processing proceeds idempotently.
var ErrOpenVisitExists = errors.New("open visit already exists for student")

const pqUniqueViolation = "23505"

// VisitRepository handles persistence for visit records.
type VisitRepository struct {
	db *sqlx.DB
}

// NewVisitRepository constructs the repository.
func NewVisitRepository(db *sqlx.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// VisitTx exposes visit operations inside one transaction. Message handlers
// open a unit of work per message and commit before acknowledging.
type VisitTx struct {
	tx *sqlx.Tx
}

// RunInTx opens a transaction, runs fn, and commits unless fn errors. The
// rollback on error covers every exit path including panics unwinding.
func (r *VisitRepository) RunInTx(ctx context.Context, fn func(*VisitTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin visit tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback() //nolint:errcheck
		}
	}()
	if err := fn(&VisitTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit visit tx: %w", err)
	}
	committed = true
	return nil
}

// FindOpen returns the student's open visit, or nil when none exists.
func (t *VisitTx) FindOpen(ctx context.Context, studentID int64) (*models.Visit, error) {
	return findOpen(ctx, t.tx, studentID)
}

// Insert creates a new visit row.
func (t *VisitTx) Insert(ctx context.Context, visit *models.Visit) error {
	return insertVisit(ctx, t.tx, visit)
}

// Close stamps exit time and duration on an open visit.
func (t *VisitTx) Close(ctx context.Context, visitID string, exitTime time.Time, durationMinutes int) error {
	return closeVisit(ctx, t.tx, visitID, exitTime, durationMinutes)
}

// FindOpen returns the student's open visit outside a transaction.
func (r *VisitRepository) FindOpen(ctx context.Context, studentID int64) (*models.Visit, error) {
	return findOpen(ctx, r.db, studentID)
}

// HistoryByStudent returns a student's visits, most recent first.
func (r *VisitRepository) HistoryByStudent(ctx context.Context, studentID int64, limit int) ([]models.Visit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, student_id, entry_time, exit_time, duration_minutes, created_at, updated_at
FROM visits
WHERE student_id = $1
ORDER BY entry_time DESC
LIMIT $2`
	var rows []models.Visit
	if err := r.db.SelectContext(ctx, &rows, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("visit history: %w", err)
	}
	return rows, nil
}

// ListByStudent returns all of a student's visits ordered by entry time,
// the shape feature extraction expects.
func (r *VisitRepository) ListByStudent(ctx context.Context, studentID int64) ([]models.Visit, error) {
	query := `SELECT id, student_id, entry_time, exit_time, duration_minutes, created_at, updated_at
FROM visits
WHERE student_id = $1
ORDER BY entry_time ASC`
	var rows []models.Visit
	if err := r.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, fmt.Errorf("list visits by student: %w", err)
	}
	return rows, nil
}

// ListAll returns every visit grouped by student then entry time. Training
// walks the whole table once instead of issuing one query per student.
func (r *VisitRepository) ListAll(ctx context.Context) ([]models.Visit, error) {
	query := `SELECT id, student_id, entry_time, exit_time, duration_minutes, created_at, updated_at
FROM visits
ORDER BY student_id ASC, entry_time ASC`
	var rows []models.Visit
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list all visits: %w", err)
	}
	return rows, nil
}

// Between returns visits with entry time inside [from, to), joined with
// student and plan metadata for the daily report.
func (r *VisitRepository) Between(ctx context.Context, from, to time.Time) ([]models.VisitWithStudent, error) {
	query := `SELECT v.id, v.student_id, v.entry_time, v.exit_time, v.duration_minutes, v.created_at, v.updated_at,
       s.name AS student_name, p.name AS plan_name
FROM visits v
JOIN students s ON s.id = v.student_id
LEFT JOIN plans p ON p.id = s.plan_id
WHERE v.entry_time >= $1 AND v.entry_time < $2
ORDER BY v.entry_time ASC`
	var rows []models.VisitWithStudent
	if err := r.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("visits between: %w", err)
	}
	return rows, nil
}

func findOpen(ctx context.Context, q sqlx.ExtContext, studentID int64) (*models.Visit, error) {
	query := `SELECT id, student_id, entry_time, exit_time, duration_minutes, created_at, updated_at
FROM visits
WHERE student_id = $1 AND exit_time IS NULL
ORDER BY entry_time DESC
LIMIT 1`
	var visit models.Visit
	if err := sqlx.GetContext(ctx, q, &visit, query, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open visit: %w", err)
	}
	return &visit, nil
}

func insertVisit(ctx context.Context, q sqlx.ExtContext, visit *models.Visit) error {
	now := time.Now().UTC()
	if visit.ID == "" {
		visit.ID = uuid.NewString()
	}
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = now
	}
	visit.UpdatedAt = now
	query := `INSERT INTO visits (id, student_id, entry_time, exit_time, duration_minutes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := q.ExecContext(ctx, query, visit.ID, visit.StudentID, visit.EntryTime, visit.ExitTime, visit.DurationMinutes, visit.CreatedAt, visit.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrOpenVisitExists
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func closeVisit(ctx context.Context, q sqlx.ExtContext, visitID string, exitTime time.Time, durationMinutes int) error {
	query := `UPDATE visits
SET exit_time = $2, duration_minutes = $3, updated_at = $4
WHERE id = $1 AND exit_time IS NULL`
	result, err := q.ExecContext(ctx, query, visitID, exitTime, durationMinutes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("close visit: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		// Already closed by a concurrent writer or an earlier redelivery.
		return nil
	}
	return nil
}
