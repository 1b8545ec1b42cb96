package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

func newChangeRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestChangeRequestRepositoryCreateEncodesPayload(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	routineID := "routine-1"
	req := &models.ChangeRequest{
		Kind:       models.ChangeKindWeekly,
		RoutineID:  &routineID,
		CreatedBy:  "teacher-1",
		StudentIDs: pq.StringArray{"student-1"},
		PendingBy:  pq.StringArray{"student-1"},
		Status:     models.ChangeRequestStatusPending,
		Weekly: &models.WeeklyChange{
			Op:     models.WeeklyOpUpdate,
			Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0},
			New:    &models.SlotSpec{Weekday: 2, Hour: 18, Minute: 0, DurationMinutes: 60},
		},
	}
	require.NoError(t, repo.Create(context.Background(), req))
	require.NotEmpty(t, req.ID)
	require.Contains(t, string(req.Payload), `"op":"update"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryFindByIDDecodesPayload(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	payload := []byte(`{"proposed_start":"2030-06-03T10:00:00Z","duration_minutes":45}`)
	rows := sqlmock.NewRows([]string{"id", "kind", "routine_id", "schedule_id", "created_by", "student_ids", "pending_by", "accepted_by", "rejected_by", "status", "payload", "created_at", "updated_at"}).
		AddRow("req-1", "oneoff", nil, "sched-1", "teacher-1", pq.StringArray{"student-1"}, pq.StringArray{"student-1"}, pq.StringArray{}, pq.StringArray{}, "pending", payload, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM change_requests WHERE id = $1")).
		WithArgs("req-1").
		WillReturnRows(rows)

	req, err := repo.FindByID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeKindOneOff, req.Kind)
	require.NotNil(t, req.OneOff)
	require.Equal(t, 45, req.OneOff.DurationMinutes)
	require.True(t, req.OneOff.ProposedStart.Equal(time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)))
	require.Nil(t, req.Weekly)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositorySaveResponseSets(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET pending_by")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := &models.ChangeRequest{
		ID:         "req-1",
		PendingBy:  pq.StringArray{},
		AcceptedBy: pq.StringArray{"student-1"},
		RejectedBy: pq.StringArray{},
		Status:     models.ChangeRequestStatusAccepted,
	}
	require.NoError(t, repo.SaveResponseSets(context.Background(), req))
	require.False(t, req.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryPendingForRoutine(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("routine-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	open, err := repo.PendingForRoutine(context.Background(), "routine-1")
	require.NoError(t, err)
	require.True(t, open)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeRequestRepositoryListForUser(t *testing.T) {
	db, mock, cleanup := newChangeRequestRepoMock(t)
	defer cleanup()

	repo := NewChangeRequestRepository(db)
	now := time.Now()
	payload := []byte(`{"op":"remove","target":{"weekday":1,"hour":10,"minute":0}}`)
	rows := sqlmock.NewRows([]string{"id", "kind", "routine_id", "schedule_id", "created_by", "student_ids", "pending_by", "accepted_by", "rejected_by", "status", "payload", "created_at", "updated_at"}).
		AddRow("req-1", "weekly", "routine-1", nil, "teacher-1", pq.StringArray{"student-1"}, pq.StringArray{}, pq.StringArray{"student-1"}, pq.StringArray{}, "accepted", payload, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("(created_by = $1 OR $1 = ANY(student_ids))")).
		WithArgs("student-1", "accepted").
		WillReturnRows(rows)

	reqs, err := repo.List(context.Background(), "student-1", "accepted")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Weekly)
	require.Equal(t, models.WeeklyOpRemove, reqs[0].Weekly.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}
