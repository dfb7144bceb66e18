package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gympulse/gympulse-api/internal/models"
)

func newVisitRepoMock(t *testing.T) (*VisitRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewVisitRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

var visitCols = []string{"id", "student_id", "entry_time", "exit_time", "duration_minutes", "created_at", "updated_at"}

func TestVisitRepositoryFindOpenReturnsNilWithoutRow(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, entry_time")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(visitCols))

	visit, err := repo.FindOpen(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, visit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryFindOpenReturnsVisit(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, entry_time")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(visitCols).
			AddRow("visit-1", 7, entry, nil, nil, entry, entry))

	visit, err := repo.FindOpen(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, visit)
	assert.Equal(t, "visit-1", visit.ID)
	assert.True(t, visit.Open())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRunInTxCommits(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO visits")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RunInTx(context.Background(), func(tx *VisitTx) error {
		return tx.Insert(context.Background(), &models.Visit{
			StudentID: 7,
			EntryTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryRunInTxRollsBackOnError(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("handler failed")
	err := repo.RunInTx(context.Background(), func(*VisitTx) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryInsertTranslatesUniqueViolation(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO visits")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.RunInTx(context.Background(), func(tx *VisitTx) error {
		return tx.Insert(context.Background(), &models.Visit{StudentID: 7, EntryTime: time.Now()})
	})
	require.ErrorIs(t, err, ErrOpenVisitExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryInsertAssignsID(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO visits")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	visit := &models.Visit{StudentID: 7, EntryTime: time.Now()}
	err := repo.RunInTx(context.Background(), func(tx *VisitTx) error {
		return tx.Insert(context.Background(), visit)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, visit.ID)
	assert.False(t, visit.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryCloseToleratesAlreadyClosed(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE visits")).
		WithArgs("visit-1", sqlmock.AnyArg(), 45, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.RunInTx(context.Background(), func(tx *VisitTx) error {
		return tx.Close(context.Background(), "visit-1", time.Now().UTC(), 45)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryHistoryCapsLimit(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, entry_time")).
		WithArgs(int64(7), 100).
		WillReturnRows(sqlmock.NewRows(visitCols).
			AddRow("visit-1", 7, entry, nil, nil, entry, entry))

	visits, err := repo.HistoryByStudent(context.Background(), 7, 9999)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVisitRepositoryBetweenJoinsStudents(t *testing.T) {
	repo, mock, cleanup := newVisitRepoMock(t)
	defer cleanup()

	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	cols := append(append([]string{}, visitCols...), "student_name", "plan_name")
	mock.ExpectQuery(regexp.QuoteMeta("JOIN students s ON s.id = v.student_id")).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("visit-1", 7, entry, nil, nil, entry, entry, "Ana", "Basic"))

	visits, err := repo.Between(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "Ana", visits[0].StudentName)
	require.NotNil(t, visits[0].PlanName)
	require.NoError(t, mock.ExpectationsWereMet())
}
