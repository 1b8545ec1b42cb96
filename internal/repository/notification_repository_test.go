package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	n := &models.Notification{
		UserID:  "student-1",
		Type:    models.NotificationTypeClassScheduled,
		Title:   "Class scheduled",
		Message: "Your weekly class is confirmed",
	}
	inserted, err := repo.Create(context.Background(), n)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotEmpty(t, n.ID)
	require.JSONEq(t, "{}", string(n.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryCreateDeduplicates(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	key := "reminder:sched-1:student-1"

	// A row with the same dedup key already exists; zero rows are affected.
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (dedup_key) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n := &models.Notification{
		UserID:   "student-1",
		Type:     models.NotificationTypeClassReminder,
		Title:    "Class starting soon",
		Message:  "Your class starts in 15 minutes",
		DedupKey: &key,
	}
	inserted, err := repo.Create(context.Background(), n)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListByUser(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "type", "title", "message", "data", "dedup_key", "read_at", "created_at"}).
		AddRow("n-1", "student-1", "class_scheduled", "Class scheduled", "msg", []byte("{}"), nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE user_id = $1 ORDER BY created_at DESC")).
		WithArgs("student-1").
		WillReturnRows(rows)

	notifications, err := repo.ListByUser(context.Background(), "student-1", 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Nil(t, notifications[0].ReadAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read_at = $3 WHERE id = $1 AND user_id = $2 AND read_at IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRead(context.Background(), "n-1", "student-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
