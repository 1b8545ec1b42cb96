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
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
)

type requestStoreStub struct {
	byID       map[string]*models.ChangeRequest
	created    []*models.ChangeRequest
	saved      []*models.ChangeRequest
	savedTx    []*models.ChangeRequest
	hasPending bool
}

func (s *requestStoreStub) Create(ctx context.Context, req *models.ChangeRequest) error {
	req.ID = "req-1"
	s.created = append(s.created, req)
	return nil
}

func (s *requestStoreStub) FindByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	if req, ok := s.byID[id]; ok {
		return req, nil
	}
	return nil, sql.ErrNoRows
}

func (s *requestStoreStub) List(ctx context.Context, userID, status string) ([]models.ChangeRequest, error) {
	return nil, nil
}

func (s *requestStoreStub) SaveResponseSets(ctx context.Context, req *models.ChangeRequest) error {
	s.saved = append(s.saved, req)
	return nil
}

func (s *requestStoreStub) SaveResponseSetsWithTx(ctx context.Context, tx *sqlx.Tx, req *models.ChangeRequest) error {
	s.savedTx = append(s.savedTx, req)
	return nil
}

func (s *requestStoreStub) PendingForRoutine(ctx context.Context, routineID string) (bool, error) {
	return s.hasPending, nil
}

type acceptRoutineStub struct {
	db       *sqlx.DB
	byID     map[string]*models.Routine
	created  []*models.Routine
	updated  []*models.Routine
	replaced map[string][]models.RoutineSlot
}

func (s *acceptRoutineStub) DB() *sqlx.DB { return s.db }

func (s *acceptRoutineStub) FindByID(ctx context.Context, id string) (*models.Routine, error) {
	if r, ok := s.byID[id]; ok {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

func (s *acceptRoutineStub) CreateWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error {
	routine.ID = "routine-new"
	s.created = append(s.created, routine)
	return nil
}

func (s *acceptRoutineStub) UpdateMembershipWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error {
	s.updated = append(s.updated, routine)
	return nil
}

func (s *acceptRoutineStub) ReplaceSlotsWithTx(ctx context.Context, tx *sqlx.Tx, routineID string, slots []models.RoutineSlot) error {
	if s.replaced == nil {
		s.replaced = map[string][]models.RoutineSlot{}
	}
	s.replaced[routineID] = slots
	return nil
}

type acceptScheduleStub struct {
	byID  map[string]*models.Schedule
	saved []*models.Schedule
}

func (s *acceptScheduleStub) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	if sc, ok := s.byID[id]; ok {
		return sc, nil
	}
	return nil, sql.ErrNoRows
}

func (s *acceptScheduleStub) Save(ctx context.Context, schedule *models.Schedule) error {
	s.saved = append(s.saved, schedule)
	return nil
}

type notifyRecorder struct {
	notes []string
}

func (n *notifyRecorder) Notify(ctx context.Context, userID, notifType, title, message string, data interface{}) error {
	n.notes = append(n.notes, userID+":"+notifType)
	return nil
}

// demoStoreStub backs the lifecycle service used by acceptance flows; only
// the demo counters matter here.
type demoStoreStub struct {
	taken  int
	maxSeq int
}

func (s *demoStoreStub) Create(ctx context.Context, schedule *models.Schedule) error { return nil }
func (s *demoStoreStub) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	return nil, sql.ErrNoRows
}
func (s *demoStoreStub) List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	return nil, 0, nil
}
func (s *demoStoreStub) Save(ctx context.Context, schedule *models.Schedule) error { return nil }
func (s *demoStoreStub) CountDemoTaken(ctx context.Context, teacherID, studentID string) (int, error) {
	return s.taken, nil
}
func (s *demoStoreStub) MaxDemoSequence(ctx context.Context, teacherID, studentID string) (int, error) {
	return s.maxSeq, nil
}

type acceptanceFixture struct {
	svc       *AcceptanceService
	requests  *requestStoreStub
	routines  *acceptRoutineStub
	schedules *acceptScheduleStub
	notes     *notifyRecorder
	conflict  *conflictStub
	demo      *demoStoreStub
}

func newAcceptanceFixture(t *testing.T, txCount int) *acceptanceFixture {
	t.Helper()
	db, mock := newEngineDB(t)
	allowTransactions(mock, txCount)

	f := &acceptanceFixture{
		requests:  &requestStoreStub{byID: map[string]*models.ChangeRequest{}},
		routines:  &acceptRoutineStub{db: db, byID: map[string]*models.Routine{}},
		schedules: &acceptScheduleStub{byID: map[string]*models.Schedule{}},
		notes:     &notifyRecorder{},
		conflict:  &conflictStub{},
		demo:      &demoStoreStub{},
	}
	lifecycle := NewScheduleService(f.demo, f.conflict, nil, f.notes, 3, nil, nil)
	f.svc = NewAcceptanceService(f.requests, f.routines, f.schedules, f.conflict, lifecycle, f.notes, nil)
	return f
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func proposedSchedule(students ...string) *models.Schedule {
	return &models.Schedule{
		ID:                 "sched-1",
		TeacherID:          "teacher-1",
		CourseID:           "course-1",
		StudentIDs:         pq.StringArray(students),
		StartsAt:           time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC),
		DurationMinutes:    60,
		Type:               models.ScheduleTypeRegular,
		Status:             models.ScheduleStatusProposed,
		RequiresAcceptance: true,
		PendingBy:          pq.StringArray(students),
	}
}

func TestRespondToScheduleFinalAcceptConfirms(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	schedule := proposedSchedule("student-1", "student-2")
	schedule.PendingBy = pq.StringArray{"student-2"}
	schedule.AgreedBy = pq.StringArray{"student-1"}
	f.schedules.byID["sched-1"] = schedule

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-2", true)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusScheduled, got.Status)
	assert.Empty(t, got.PendingBy)
	assert.ElementsMatch(t, []string{"student-1", "student-2"}, []string(got.AgreedBy))
	require.Len(t, f.schedules.saved, 1)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeClassScheduled)
	assert.Contains(t, f.notes.notes, "student-1:"+models.NotificationTypeClassScheduled)
}

func TestRespondToScheduleNonFinalAcceptStaysProposed(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.schedules.byID["sched-1"] = proposedSchedule("student-1", "student-2")

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", true)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusProposed, got.Status)
	assert.Equal(t, pq.StringArray{"student-2"}, got.PendingBy)
	assert.Equal(t, pq.StringArray{"student-1"}, got.AgreedBy)
	assert.Empty(t, f.notes.notes)
}

func TestRespondToScheduleFinalAcceptConflictKeepsProposed(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.conflict.report = &models.ConflictReport{TeacherConflict: true}
	f.schedules.byID["sched-1"] = proposedSchedule("student-1")

	_, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", true)
	assert.Equal(t, "TIME_CONFLICT", errCode(t, err))

	// The acceptance itself is persisted so the student is never asked twice.
	require.Len(t, f.schedules.saved, 1)
	saved := f.schedules.saved[0]
	assert.Equal(t, models.ScheduleStatusProposed, saved.Status)
	assert.Empty(t, saved.PendingBy)
	assert.Equal(t, pq.StringArray{"student-1"}, saved.AgreedBy)
}

func TestRespondToScheduleFinalAcceptDemoCapBlocks(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.demo.taken = 3
	schedule := proposedSchedule("student-1")
	schedule.Type = models.ScheduleTypeDemo
	f.schedules.byID["sched-1"] = schedule

	_, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", true)
	assert.Equal(t, "DEMO_CAP_EXCEEDED", errCode(t, err))
	require.Len(t, f.schedules.saved, 1)
	assert.Equal(t, models.ScheduleStatusProposed, f.schedules.saved[0].Status)
}

func TestRespondToScheduleDemoFinalAcceptAssignsSequence(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.demo.taken = 1
	f.demo.maxSeq = 1
	schedule := proposedSchedule("student-1")
	schedule.Type = models.ScheduleTypeDemo
	f.schedules.byID["sched-1"] = schedule

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", true)
	require.NoError(t, err)
	require.NotNil(t, got.Sequence)
	assert.Equal(t, 2, *got.Sequence)
	assert.Equal(t, models.ScheduleStatusScheduled, got.Status)
}

func TestRespondToScheduleSoleRejectCancels(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.schedules.byID["sched-1"] = proposedSchedule("student-1")

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", false)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusCancelled, got.Status)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeRejected)
}

func TestRespondToScheduleRejectRemovesStudent(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.schedules.byID["sched-1"] = proposedSchedule("student-1", "student-2")

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-2", false)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusProposed, got.Status)
	assert.Equal(t, pq.StringArray{"student-1"}, got.StudentIDs)
	assert.Equal(t, pq.StringArray{"student-1"}, got.PendingBy)
}

// A reject that empties the pending set must confirm the class for the
// remaining, fully agreed participants instead of leaving it proposed.
func TestRespondToScheduleRejectByLastPendingConfirmsRest(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	schedule := proposedSchedule("student-1", "student-2")
	schedule.PendingBy = pq.StringArray{"student-2"}
	schedule.AgreedBy = pq.StringArray{"student-1"}
	f.schedules.byID["sched-1"] = schedule

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-2", false)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusScheduled, got.Status)
	assert.Equal(t, pq.StringArray{"student-1"}, got.StudentIDs)
	assert.Empty(t, got.PendingBy)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeRejected)
	assert.Contains(t, f.notes.notes, "student-1:"+models.NotificationTypeClassScheduled)

	_, err = f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", true)
	assert.Equal(t, "PRECONDITION_FAILED", errCode(t, err))
}

func TestRespondToScheduleRejectByLastPendingConflictKeepsProposed(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.conflict.report = &models.ConflictReport{TeacherConflict: true}
	schedule := proposedSchedule("student-1", "student-2")
	schedule.PendingBy = pq.StringArray{"student-2"}
	schedule.AgreedBy = pq.StringArray{"student-1"}
	f.schedules.byID["sched-1"] = schedule

	got, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-2", false)
	require.NoError(t, err)

	assert.Equal(t, models.ScheduleStatusProposed, got.Status)
	assert.NotContains(t, f.notes.notes, "student-1:"+models.NotificationTypeClassScheduled)
}

func TestRespondToScheduleAlreadyDecided(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	schedule := proposedSchedule("student-1", "student-2")
	schedule.PendingBy = pq.StringArray{"student-2"}
	schedule.AgreedBy = pq.StringArray{"student-1"}
	f.schedules.byID["sched-1"] = schedule

	_, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "student-1", true)
	assert.Equal(t, "ALREADY_DECIDED", errCode(t, err))
}

func TestRespondToScheduleNonParticipantForbidden(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.schedules.byID["sched-1"] = proposedSchedule("student-1")

	_, err := f.svc.RespondToSchedule(context.Background(), "sched-1", "stranger", true)
	assert.Equal(t, "FORBIDDEN", errCode(t, err))
}

func weeklyRoutine(students ...string) *models.Routine {
	monDue := time.Date(2030, 6, 3, 10, 0, 0, 0, time.UTC)
	wedDue := time.Date(2030, 6, 5, 16, 0, 0, 0, time.UTC)
	return &models.Routine{
		ID:         "routine-1",
		TeacherID:  "teacher-1",
		CourseID:   "course-1",
		Timezone:   "UTC",
		StudentIDs: pq.StringArray(students),
		Status:     models.RoutineStatusActive,
		Slots: []models.RoutineSlot{
			{ID: "slot-a", RoutineID: "routine-1", Position: 0, Weekday: 1, Hour: 10, Minute: 0, DurationMinutes: 60, NextDueAt: &monDue},
			{ID: "slot-b", RoutineID: "routine-1", Position: 1, Weekday: 3, Hour: 16, Minute: 0, DurationMinutes: 60, NextDueAt: &wedDue},
		},
	}
}

func TestProposeWeeklyChangeDefaultsScopeToAllStudents(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.routines.byID["routine-1"] = weeklyRoutine("a", "b")

	change := models.WeeklyChange{
		Op:     models.WeeklyOpUpdate,
		Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0},
		New:    &models.SlotSpec{Weekday: 2, Hour: 18, Minute: 0, DurationMinutes: 60},
	}
	req, err := f.svc.ProposeWeeklyChange(context.Background(), "routine-1", "teacher-1", change, nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, []string(req.StudentIDs))
	assert.ElementsMatch(t, []string{"a", "b"}, []string(req.PendingBy))
	assert.Equal(t, models.ChangeRequestStatusPending, req.Status)
	assert.Contains(t, f.notes.notes, "a:"+models.NotificationTypeChangeProposed)
	assert.Contains(t, f.notes.notes, "b:"+models.NotificationTypeChangeProposed)
}

func TestProposeWeeklyChangeRejectsSecondOpenRequest(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.routines.byID["routine-1"] = weeklyRoutine("a")
	f.requests.hasPending = true

	change := models.WeeklyChange{Op: models.WeeklyOpRemove, Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0}}
	_, err := f.svc.ProposeWeeklyChange(context.Background(), "routine-1", "teacher-1", change, nil)
	assert.Equal(t, "PRECONDITION_FAILED", errCode(t, err))
}

func TestProposeWeeklyChangeScopeMustBeMembers(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.routines.byID["routine-1"] = weeklyRoutine("a", "b")

	change := models.WeeklyChange{Op: models.WeeklyOpRemove, Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0}}
	_, err := f.svc.ProposeWeeklyChange(context.Background(), "routine-1", "teacher-1", change, []string{"a", "stranger"})
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, err))
}

func TestProposeWeeklyChangeTeacherOnly(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.routines.byID["routine-1"] = weeklyRoutine("a")

	change := models.WeeklyChange{Op: models.WeeklyOpRemove, Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0}}
	_, err := f.svc.ProposeWeeklyChange(context.Background(), "routine-1", "a", change, nil)
	assert.Equal(t, "FORBIDDEN", errCode(t, err))
}

func TestProposeRescheduleBySoleStudentAppliesImmediately(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	schedule := proposedSchedule("student-1")
	schedule.Status = models.ScheduleStatusScheduled
	f.schedules.byID["sched-1"] = schedule

	newStart := time.Now().Add(72 * time.Hour).Truncate(time.Minute)
	req, err := f.svc.ProposeReschedule(context.Background(), "sched-1", "student-1", models.OneOffChange{ProposedStart: newStart, DurationMinutes: 45})
	require.NoError(t, err)

	assert.Equal(t, models.ChangeRequestStatusAccepted, req.Status)
	require.Len(t, f.schedules.saved, 1)
	assert.True(t, f.schedules.saved[0].StartsAt.Equal(newStart))
	assert.Equal(t, 45, f.schedules.saved[0].DurationMinutes)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeAccepted)
}

func TestProposeRescheduleByTeacherAsksEveryStudent(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	schedule := proposedSchedule("student-1", "student-2")
	schedule.Status = models.ScheduleStatusScheduled
	f.schedules.byID["sched-1"] = schedule

	newStart := time.Now().Add(72 * time.Hour)
	req, err := f.svc.ProposeReschedule(context.Background(), "sched-1", "teacher-1", models.OneOffChange{ProposedStart: newStart})
	require.NoError(t, err)

	assert.Equal(t, models.ChangeRequestStatusPending, req.Status)
	assert.ElementsMatch(t, []string{"student-1", "student-2"}, []string(req.PendingBy))
	assert.Empty(t, req.AcceptedBy)
	// Duration defaults to the current class duration.
	assert.Equal(t, 60, req.OneOff.DurationMinutes)
	assert.Empty(t, f.schedules.saved)
}

func TestProposeReschedulePastStartRejected(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	schedule := proposedSchedule("student-1")
	schedule.Status = models.ScheduleStatusScheduled
	f.schedules.byID["sched-1"] = schedule

	_, err := f.svc.ProposeReschedule(context.Background(), "sched-1", "teacher-1", models.OneOffChange{ProposedStart: time.Now().Add(-time.Hour)})
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, err))
}

func oneOffRequest(scheduleID string, pending, accepted []string) *models.ChangeRequest {
	start := time.Now().Add(96 * time.Hour).Truncate(time.Minute)
	all := append(append([]string(nil), pending...), accepted...)
	return &models.ChangeRequest{
		ID:         "req-1",
		Kind:       models.ChangeKindOneOff,
		ScheduleID: &scheduleID,
		CreatedBy:  "teacher-1",
		StudentIDs: pq.StringArray(all),
		PendingBy:  pq.StringArray(pending),
		AcceptedBy: pq.StringArray(accepted),
		Status:     models.ChangeRequestStatusPending,
		OneOff:     &models.OneOffChange{ProposedStart: start, DurationMinutes: 60},
	}
}

func TestGetVisibleToParticipantsOnly(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.requests.byID["req-1"] = oneOffRequest("sched-1", []string{"student-1"}, nil)

	got, err := f.svc.Get(context.Background(), "req-1", "student-1")
	require.NoError(t, err)
	require.Equal(t, "req-1", got.ID)

	_, err = f.svc.Get(context.Background(), "req-1", "teacher-1")
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), "req-1", "student-9")
	require.Equal(t, "FORBIDDEN", errCode(t, err))

	_, err = f.svc.Get(context.Background(), "req-missing", "student-1")
	require.Equal(t, "NOT_FOUND", errCode(t, err))
}

func TestRespondRejectionSettlesAggregate(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	req := oneOffRequest("sched-1", []string{"student-1", "student-2"}, nil)
	f.requests.byID["req-1"] = req
	f.schedules.byID["sched-1"] = proposedSchedule("student-1", "student-2")

	got, err := f.svc.Respond(context.Background(), "req-1", "student-1", false)
	require.NoError(t, err)

	assert.Equal(t, models.ChangeRequestStatusRejected, got.Status)
	assert.Equal(t, pq.StringArray{"student-1"}, got.RejectedBy)
	require.Len(t, f.requests.saved, 1)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeRejected)
	// The class itself is untouched.
	assert.Empty(t, f.schedules.saved)
}

func TestRespondAlreadyDecidedIsIdempotentError(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	req := oneOffRequest("sched-1", []string{"student-2"}, []string{"student-1"})
	f.requests.byID["req-1"] = req

	_, err := f.svc.Respond(context.Background(), "req-1", "student-1", true)
	assert.Equal(t, "ALREADY_DECIDED", errCode(t, err))

	_, err = f.svc.Respond(context.Background(), "req-1", "stranger", true)
	assert.Equal(t, "FORBIDDEN", errCode(t, err))
}

func TestRespondFinalAcceptAppliesOneOff(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	req := oneOffRequest("sched-1", []string{"student-2"}, []string{"student-1"})
	f.requests.byID["req-1"] = req
	schedule := proposedSchedule("student-1", "student-2")
	schedule.Status = models.ScheduleStatusScheduled
	f.schedules.byID["sched-1"] = schedule

	got, err := f.svc.Respond(context.Background(), "req-1", "student-2", true)
	require.NoError(t, err)

	assert.Equal(t, models.ChangeRequestStatusAccepted, got.Status)
	require.Len(t, f.schedules.saved, 1)
	assert.True(t, f.schedules.saved[0].StartsAt.Equal(req.OneOff.ProposedStart))
	assert.Contains(t, f.notes.notes, "student-1:"+models.NotificationTypeChangeAccepted)
}

func TestRespondOneOffConflictAtApplyTimeRejects(t *testing.T) {
	f := newAcceptanceFixture(t, 0)
	f.conflict.report = &models.ConflictReport{TeacherConflict: true}
	req := oneOffRequest("sched-1", []string{"student-1"}, nil)
	f.requests.byID["req-1"] = req
	schedule := proposedSchedule("student-1")
	schedule.Status = models.ScheduleStatusScheduled
	f.schedules.byID["sched-1"] = schedule

	_, err := f.svc.Respond(context.Background(), "req-1", "student-1", true)
	assert.Equal(t, "TIME_CONFLICT", errCode(t, err))

	// The request settles as rejected so the creator can pick another time.
	assert.Equal(t, models.ChangeRequestStatusRejected, req.Status)
	require.Len(t, f.requests.saved, 1)
	assert.Empty(t, f.schedules.saved)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeChangeRejected)
}

func weeklyRequest(routineID string, pending, accepted []string) *models.ChangeRequest {
	all := append(append([]string(nil), pending...), accepted...)
	return &models.ChangeRequest{
		ID:         "req-1",
		Kind:       models.ChangeKindWeekly,
		RoutineID:  &routineID,
		CreatedBy:  "teacher-1",
		StudentIDs: pq.StringArray(all),
		PendingBy:  pq.StringArray(pending),
		AcceptedBy: pq.StringArray(accepted),
		Status:     models.ChangeRequestStatusPending,
		Weekly: &models.WeeklyChange{
			Op:     models.WeeklyOpUpdate,
			Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0},
			New:    &models.SlotSpec{Weekday: 2, Hour: 18, Minute: 0, DurationMinutes: 60},
		},
	}
}

func TestRespondWeeklyWholeSetReplacesSlots(t *testing.T) {
	f := newAcceptanceFixture(t, 1)
	routine := weeklyRoutine("a", "b")
	f.routines.byID["routine-1"] = routine
	f.requests.byID["req-1"] = weeklyRequest("routine-1", []string{"b"}, []string{"a"})

	got, err := f.svc.Respond(context.Background(), "req-1", "b", true)
	require.NoError(t, err)

	assert.Equal(t, models.ChangeRequestStatusAccepted, got.Status)
	slots := f.routines.replaced["routine-1"]
	require.Len(t, slots, 2)
	var moved models.RoutineSlot
	for _, slot := range slots {
		if slot.Weekday == 2 {
			moved = slot
		}
	}
	assert.Equal(t, 18, moved.Hour)
	require.NotNil(t, moved.NextDueAt)
	assert.Empty(t, f.routines.created)
	assert.Empty(t, f.routines.updated)
	require.Len(t, f.requests.savedTx, 1)
	assert.Contains(t, f.notes.notes, "a:"+models.NotificationTypeRoutineChanged)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeRoutineChanged)
}

func TestRespondWeeklySubsetPartitionsRoutine(t *testing.T) {
	f := newAcceptanceFixture(t, 1)
	routine := weeklyRoutine("a", "b", "c")
	f.routines.byID["routine-1"] = routine
	f.requests.byID["req-1"] = weeklyRequest("routine-1", []string{"b"}, []string{"a"})

	got, err := f.svc.Respond(context.Background(), "req-1", "b", true)
	require.NoError(t, err)
	assert.Equal(t, models.ChangeRequestStatusAccepted, got.Status)

	// The remainder keeps the original routine and its untouched slots.
	require.Len(t, f.routines.updated, 1)
	original := f.routines.updated[0]
	assert.Equal(t, "routine-1", original.ID)
	assert.Equal(t, pq.StringArray{"c"}, original.StudentIDs)
	assert.Equal(t, models.RoutineStatusActive, original.Status)
	require.Len(t, original.Slots, 2)
	assert.Equal(t, 1, original.Slots[0].Weekday)

	// The accepting subset moves to a fresh routine with the edited slot.
	require.Len(t, f.routines.created, 1)
	split := f.routines.created[0]
	assert.ElementsMatch(t, []string{"a", "b"}, []string(split.StudentIDs))
	assert.Equal(t, models.RoutineStatusActive, split.Status)
	require.Len(t, split.Slots, 2)
	found := false
	for _, slot := range split.Slots {
		if slot.Weekday == 2 && slot.Hour == 18 {
			found = true
		}
	}
	assert.True(t, found)

	assert.Contains(t, f.notes.notes, "a:"+models.NotificationTypeRoutineChanged)
	assert.Contains(t, f.notes.notes, "c:"+models.NotificationTypeRoutineChanged)
	assert.Contains(t, f.notes.notes, "teacher-1:"+models.NotificationTypeRoutineSplit)
}

func TestRespondWeeklySubsetEmptiesOriginal(t *testing.T) {
	f := newAcceptanceFixture(t, 1)
	routine := weeklyRoutine("a", "b")
	// Force the subset path: scope covers both students but one rejected a
	// previous round, so only "a" remains in the accepted set.
	f.routines.byID["routine-1"] = routine
	req := weeklyRequest("routine-1", []string{"a"}, nil)
	req.StudentIDs = pq.StringArray{"a"}
	f.requests.byID["req-1"] = req
	routine.StudentIDs = pq.StringArray{"a"}

	_, err := f.svc.Respond(context.Background(), "req-1", "a", true)
	require.NoError(t, err)

	// Whole set of one: no partition happens.
	assert.NotNil(t, f.routines.replaced["routine-1"])
	assert.Empty(t, f.routines.created)
}

func TestApplySlotChangeUpdateCollisionNewTimeWins(t *testing.T) {
	routine := weeklyRoutine("a")
	change := models.WeeklyChange{
		Op:     models.WeeklyOpUpdate,
		Target: &models.SlotKey{Weekday: 1, Hour: 10, Minute: 0},
		New:    &models.SlotSpec{Weekday: 3, Hour: 16, Minute: 0, DurationMinutes: 90},
	}
	slots, err := applySlotChange(routine.Slots, change, time.UTC)
	require.NoError(t, err)

	require.Len(t, slots, 1)
	assert.Equal(t, 3, slots[0].Weekday)
	assert.Equal(t, 16, slots[0].Hour)
	assert.Equal(t, 90, slots[0].DurationMinutes)
	require.NotNil(t, slots[0].NextDueAt)
	assert.True(t, slots[0].NextDueAt.After(time.Now().Add(-time.Minute)))
}

func TestApplySlotChangeAddKeepsExistingDue(t *testing.T) {
	routine := weeklyRoutine("a")
	change := models.WeeklyChange{
		Op:  models.WeeklyOpAdd,
		New: &models.SlotSpec{Weekday: 5, Hour: 9, Minute: 30, DurationMinutes: 45},
	}
	slots, err := applySlotChange(routine.Slots, change, time.UTC)
	require.NoError(t, err)

	require.Len(t, slots, 3)
	assert.Equal(t, routine.Slots[0].NextDueAt, slots[0].NextDueAt)
	assert.Equal(t, routine.Slots[1].NextDueAt, slots[1].NextDueAt)
	assert.Equal(t, 5, slots[2].Weekday)
}

func TestApplySlotChangeRemoveMissingTarget(t *testing.T) {
	routine := weeklyRoutine("a")
	change := models.WeeklyChange{
		Op:     models.WeeklyOpRemove,
		Target: &models.SlotKey{Weekday: 6, Hour: 8, Minute: 0},
	}
	_, err := applySlotChange(routine.Slots, change, time.UTC)
	assert.Equal(t, "PRECONDITION_FAILED", errCode(t, err))
}
