package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

type routineStoreStub struct {
	db         *sqlx.DB
	byID       map[string]*models.Routine
	created    []*models.Routine
	updated    []*models.Routine
	statuses   map[string]models.RoutineStatus
	slotDues   map[string]*time.Time
	conflicted []string
}

func (s *routineStoreStub) DB() *sqlx.DB { return s.db }

func (s *routineStoreStub) CreateWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error {
	routine.ID = "routine-1"
	s.created = append(s.created, routine)
	return nil
}

func (s *routineStoreStub) FindByID(ctx context.Context, id string) (*models.Routine, error) {
	if r, ok := s.byID[id]; ok {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

func (s *routineStoreStub) List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, int, error) {
	return nil, 0, nil
}

func (s *routineStoreStub) MembershipConflicts(ctx context.Context, tx *sqlx.Tx, teacherID, courseID string, studentIDs []string, excludeRoutineID string) ([]string, error) {
	return s.conflicted, nil
}

func (s *routineStoreStub) UpdateMembershipWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error {
	s.updated = append(s.updated, routine)
	return nil
}

func (s *routineStoreStub) UpdateStatus(ctx context.Context, id string, status models.RoutineStatus) error {
	if s.statuses == nil {
		s.statuses = map[string]models.RoutineStatus{}
	}
	s.statuses[id] = status
	return nil
}

func (s *routineStoreStub) SetSlotNextDueWithTx(ctx context.Context, tx *sqlx.Tx, slotID string, due *time.Time) error {
	if s.slotDues == nil {
		s.slotDues = map[string]*time.Time{}
	}
	s.slotDues[slotID] = due
	return nil
}

type courseStub struct {
	byID map[string]*models.Course
}

func (s *courseStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := s.byID[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

type routineFixture struct {
	svc     *RoutineService
	repo    *routineStoreStub
	courses *courseStub
	notes   *notifyRecorder
}

func newRoutineFixture(t *testing.T, txCount, rollbacks int) *routineFixture {
	t.Helper()
	db, mock := newEngineDB(t)
	allowTransactions(mock, txCount)
	for i := 0; i < rollbacks; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	f := &routineFixture{
		repo: &routineStoreStub{db: db, byID: map[string]*models.Routine{}},
		courses: &courseStub{byID: map[string]*models.Course{
			"course-1": {ID: "course-1", TeacherID: "teacher-1", Subject: "Physics", Active: true},
		}},
		notes: &notifyRecorder{},
	}
	f.svc = NewRoutineService(f.repo, f.courses, f.notes, nil, nil)
	return f
}

func routineCreateRequest(requireAccept bool) CreateRoutineRequest {
	return CreateRoutineRequest{
		CourseID:      "course-1",
		StudentIDs:    []string{"student-1", "student-2"},
		Timezone:      "Asia/Dhaka",
		RequireAccept: requireAccept,
		Slots: []SlotRequest{
			{Weekday: 2, Hour: 18, Minute: 0, DurationMinutes: 60},
			{Weekday: 4, Hour: 18, Minute: 0, DurationMinutes: 60},
		},
	}
}

func TestRoutineCreateActivatesImmediately(t *testing.T) {
	f := newRoutineFixture(t, 1, 0)

	routine, err := f.svc.Create(context.Background(), routineCreateRequest(false), "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, models.RoutineStatusActive, routine.Status)
	assert.Empty(t, routine.PendingBy)
	require.Len(t, routine.Slots, 2)
	for _, slot := range routine.Slots {
		require.NotNil(t, slot.NextDueAt)
		assert.True(t, slot.NextDueAt.After(time.Now().Add(-time.Minute)))
	}
	require.Len(t, f.repo.created, 1)
	assert.Contains(t, f.notes.notes, "student-1:"+models.NotificationTypeClassScheduled)
	assert.Contains(t, f.notes.notes, "student-2:"+models.NotificationTypeClassScheduled)
}

func TestRoutineCreateWithAcceptanceStartsPaused(t *testing.T) {
	f := newRoutineFixture(t, 1, 0)

	routine, err := f.svc.Create(context.Background(), routineCreateRequest(true), "teacher-1")
	require.NoError(t, err)

	assert.Equal(t, models.RoutineStatusPaused, routine.Status)
	assert.ElementsMatch(t, []string{"student-1", "student-2"}, []string(routine.PendingBy))
	for _, slot := range routine.Slots {
		assert.Nil(t, slot.NextDueAt)
	}
	assert.Contains(t, f.notes.notes, "student-1:"+models.NotificationTypeRoutineInvite)
}

func TestRoutineCreateDuplicateMembership(t *testing.T) {
	f := newRoutineFixture(t, 0, 1)
	f.repo.conflicted = []string{"student-2"}

	_, err := f.svc.Create(context.Background(), routineCreateRequest(false), "teacher-1")
	assert.Equal(t, "DUPLICATE_MEMBERSHIP", errCode(t, err))
	assert.Empty(t, f.repo.created)
}

func TestRoutineCreateOnlyCourseTeacher(t *testing.T) {
	f := newRoutineFixture(t, 0, 0)

	_, err := f.svc.Create(context.Background(), routineCreateRequest(false), "teacher-2")
	assert.Equal(t, "FORBIDDEN", errCode(t, err))
}

func TestRoutineCreateUnknownTimezone(t *testing.T) {
	f := newRoutineFixture(t, 0, 0)
	req := routineCreateRequest(false)
	req.Timezone = "Mars/Olympus"

	_, err := f.svc.Create(context.Background(), req, "teacher-1")
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, err))
}

func invitedRoutine(pending ...string) *models.Routine {
	return &models.Routine{
		ID:                 "routine-1",
		TeacherID:          "teacher-1",
		CourseID:           "course-1",
		Timezone:           "UTC",
		StudentIDs:         pq.StringArray{"student-1", "student-2"},
		Status:             models.RoutineStatusPaused,
		RequiresAcceptance: true,
		PendingBy:          pq.StringArray(pending),
		Slots: []models.RoutineSlot{
			{ID: "slot-a", RoutineID: "routine-1", Position: 0, Weekday: 1, Hour: 9, Minute: 0, DurationMinutes: 60},
		},
	}
}

func TestRoutineRespondLastAcceptActivates(t *testing.T) {
	f := newRoutineFixture(t, 1, 0)
	routine := invitedRoutine("student-2")
	routine.AcceptedBy = pq.StringArray{"student-1"}
	f.repo.byID["routine-1"] = routine

	got, err := f.svc.Respond(context.Background(), "routine-1", "student-2", true)
	require.NoError(t, err)

	assert.Equal(t, models.RoutineStatusActive, got.Status)
	assert.Empty(t, got.PendingBy)
	require.NotNil(t, got.Slots[0].NextDueAt)
	require.Contains(t, f.repo.slotDues, "slot-a")
	require.Len(t, f.repo.updated, 1)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeAccepted)
}

func TestRoutineRespondAcceptWithOthersPendingStaysPaused(t *testing.T) {
	f := newRoutineFixture(t, 1, 0)
	f.repo.byID["routine-1"] = invitedRoutine("student-1", "student-2")

	got, err := f.svc.Respond(context.Background(), "routine-1", "student-1", true)
	require.NoError(t, err)

	assert.Equal(t, models.RoutineStatusPaused, got.Status)
	assert.Equal(t, pq.StringArray{"student-2"}, got.PendingBy)
	assert.Nil(t, got.Slots[0].NextDueAt)
	assert.Empty(t, f.repo.slotDues)
}

func TestRoutineRespondRejectRemovesStudent(t *testing.T) {
	f := newRoutineFixture(t, 1, 0)
	f.repo.byID["routine-1"] = invitedRoutine("student-1", "student-2")

	got, err := f.svc.Respond(context.Background(), "routine-1", "student-2", false)
	require.NoError(t, err)

	assert.Equal(t, pq.StringArray{"student-1"}, got.StudentIDs)
	assert.Equal(t, pq.StringArray{"student-1"}, got.PendingBy)
	assert.Equal(t, models.RoutineStatusPaused, got.Status)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeRejected)
}

func TestRoutineRespondAlreadyDecided(t *testing.T) {
	f := newRoutineFixture(t, 0, 0)
	routine := invitedRoutine("student-2")
	routine.AcceptedBy = pq.StringArray{"student-1"}
	f.repo.byID["routine-1"] = routine

	_, err := f.svc.Respond(context.Background(), "routine-1", "student-1", true)
	assert.Equal(t, "ALREADY_DECIDED", errCode(t, err))
}

func TestRoutineRespondWithoutAcceptanceFlow(t *testing.T) {
	f := newRoutineFixture(t, 0, 0)
	routine := invitedRoutine("student-1")
	routine.RequiresAcceptance = false
	f.repo.byID["routine-1"] = routine

	_, err := f.svc.Respond(context.Background(), "routine-1", "student-1", true)
	assert.Equal(t, "PRECONDITION_FAILED", errCode(t, err))
}

func TestRoutineSetStatus(t *testing.T) {
	f := newRoutineFixture(t, 0, 0)
	routine := invitedRoutine()
	routine.Status = models.RoutineStatusActive
	f.repo.byID["routine-1"] = routine

	got, err := f.svc.SetStatus(context.Background(), "routine-1", "teacher-1", models.RoutineStatusPaused)
	require.NoError(t, err)
	assert.Equal(t, models.RoutineStatusPaused, got.Status)
	assert.Equal(t, models.RoutineStatusPaused, f.repo.statuses["routine-1"])
}

func TestRoutineSetStatusGuards(t *testing.T) {
	f := newRoutineFixture(t, 0, 0)
	f.repo.byID["routine-1"] = invitedRoutine("student-1")

	_, err := f.svc.SetStatus(context.Background(), "routine-1", "student-1", models.RoutineStatusPaused)
	assert.Equal(t, "FORBIDDEN", errCode(t, err))

	_, err = f.svc.SetStatus(context.Background(), "routine-1", "teacher-1", models.RoutineStatusActive)
	assert.Equal(t, "PRECONDITION_FAILED", errCode(t, err))
}
