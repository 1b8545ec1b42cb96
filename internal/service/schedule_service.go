package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
)

type scheduleStore interface {
	Create(ctx context.Context, schedule *models.Schedule) error
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error)
	Save(ctx context.Context, schedule *models.Schedule) error
	CountDemoTaken(ctx context.Context, teacherID, studentID string) (int, error)
	MaxDemoSequence(ctx context.Context, teacherID, studentID string) (int, error)
}

type conflictChecker interface {
	Check(ctx context.Context, teacherID string, studentIDs []string, start time.Time, durationMinutes int, excludeID string) (*models.ConflictReport, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type notifier interface {
	Notify(ctx context.Context, userID, notifType, title, message string, data interface{}) error
}

// CreateScheduleRequest describes a one-off class creation.
type CreateScheduleRequest struct {
	CourseID        string    `json:"course_id" validate:"required"`
	StudentIDs      []string  `json:"student_ids" validate:"required,min=1,unique"`
	Type            string    `json:"type" validate:"required,oneof=demo regular"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=15,max=480"`
	RequireAccept   bool      `json:"require_acceptance"`
}

// ScheduleService owns the occurrence lifecycle: creation, cancellation
// (whole or partial), completion, and the demo admission control.
type ScheduleService struct {
	repo      scheduleStore
	conflicts conflictChecker
	courses   courseReader
	notifier  notifier
	validator *validator.Validate
	logger    *zap.Logger
	demoCap   int
}

// NewScheduleService constructs ScheduleService.
func NewScheduleService(repo scheduleStore, conflicts conflictChecker, courses courseReader, notifier notifier, demoCap int, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if demoCap <= 0 {
		demoCap = 3
	}
	return &ScheduleService{repo: repo, conflicts: conflicts, courses: courses, notifier: notifier, validator: validate, logger: logger, demoCap: demoCap}
}

// Create books a one-off class. With RequireAccept the occurrence starts
// proposed and every student must respond; otherwise it is scheduled
// immediately after the conflict and demo-cap checks pass.
func (s *ScheduleService) Create(ctx context.Context, req CreateScheduleRequest, actorID string) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if req.Type == string(models.ScheduleTypeDemo) && len(req.StudentIDs) != 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "demo classes take exactly one student")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher can book classes")
	}

	if err := s.CheckDemoCap(ctx, course.TeacherID, req.StudentIDs, models.ScheduleType(req.Type)); err != nil {
		return nil, err
	}

	report, err := s.conflicts.Check(ctx, course.TeacherID, req.StudentIDs, req.StartsAt, req.DurationMinutes, "")
	if err != nil {
		return nil, err
	}
	if report.HasConflict() {
		return nil, ConflictError(report)
	}

	schedule := &models.Schedule{
		TeacherID:          course.TeacherID,
		CourseID:           course.ID,
		StudentIDs:         pq.StringArray(req.StudentIDs),
		StartsAt:           req.StartsAt.UTC(),
		DurationMinutes:    req.DurationMinutes,
		Type:               models.ScheduleType(req.Type),
		RequiresAcceptance: req.RequireAccept,
	}
	if req.RequireAccept {
		schedule.Status = models.ScheduleStatusProposed
		schedule.PendingBy = pq.StringArray(req.StudentIDs)
	} else {
		schedule.Status = models.ScheduleStatusScheduled
		if schedule.Type == models.ScheduleTypeDemo {
			seq, err := s.NextDemoSequence(ctx, schedule.TeacherID, schedule.StudentIDs[0])
			if err != nil {
				return nil, err
			}
			schedule.Sequence = &seq
		}
	}

	if err := s.repo.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}

	notifType := models.NotificationTypeClassScheduled
	title := "New class scheduled"
	if req.RequireAccept {
		notifType = models.NotificationTypeChangeProposed
		title = "Class proposal"
	}
	for _, studentID := range schedule.StudentIDs {
		if err := s.notifier.Notify(ctx, studentID, notifType, title,
			fmt.Sprintf("%s class on %s", course.Subject, schedule.StartsAt.Format(time.RFC1123)),
			map[string]string{"schedule_id": schedule.ID}); err != nil {
			s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
		}
	}

	return schedule, nil
}

// Get loads one occurrence, restricted to its participants.
func (s *ScheduleService) Get(ctx context.Context, id, actorID string) (*models.Schedule, error) {
	schedule, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if ResolveParticipantRole(schedule.TeacherID, schedule.StudentIDs, actorID) == RoleNone {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this class")
	}
	return schedule, nil
}

// List returns occurrences with pagination metadata.
func (s *ScheduleService) List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, *models.Pagination, error) {
	schedules, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return schedules, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Cancel withdraws from or cancels an occurrence. The teacher cancels the
// whole occurrence unconditionally and idempotently. A student on a
// multi-participant occurrence is only removed; the last participant leaving
// cancels the whole occurrence.
func (s *ScheduleService) Cancel(ctx context.Context, id, actorID string) (*models.Schedule, error) {
	schedule, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	wasProposed := schedule.Status == models.ScheduleStatusProposed

	switch ResolveParticipantRole(schedule.TeacherID, schedule.StudentIDs, actorID) {
	case RoleHost:
		if schedule.Status == models.ScheduleStatusCancelled {
			return schedule, nil
		}
		schedule.Status = models.ScheduleStatusCancelled
	case RoleAttendee:
		schedule.StudentIDs = removeString(schedule.StudentIDs, actorID)
		schedule.PendingBy = removeString(schedule.PendingBy, actorID)
		schedule.AgreedBy = removeString(schedule.AgreedBy, actorID)
		if len(schedule.StudentIDs) == 0 {
			schedule.Status = models.ScheduleStatusCancelled
		} else if wasProposed && len(schedule.PendingBy) == 0 {
			// The withdrawer was the last pending voice; the remaining
			// participants are fully agreed.
			if err := s.FinalizeProposal(ctx, schedule); err != nil {
				if appErrors.FromError(err).Code == appErrors.ErrInternal.Code {
					return nil, err
				}
				s.logger.Warn("agreed class blocked from scheduling",
					zap.String("schedule_id", schedule.ID), zap.Error(err))
			}
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this class")
	}

	if err := s.repo.Save(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel schedule")
	}

	if schedule.Status == models.ScheduleStatusCancelled {
		for _, studentID := range schedule.StudentIDs {
			if err := s.notifier.Notify(ctx, studentID, models.NotificationTypeClassCancelled, "Class cancelled",
				fmt.Sprintf("Class on %s was cancelled", schedule.StartsAt.Format(time.RFC1123)),
				map[string]string{"schedule_id": schedule.ID}); err != nil {
				s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
			}
		}
		if actorID != schedule.TeacherID {
			if err := s.notifier.Notify(ctx, schedule.TeacherID, models.NotificationTypeClassCancelled, "Class cancelled",
				fmt.Sprintf("Class on %s was cancelled by the last student", schedule.StartsAt.Format(time.RFC1123)),
				map[string]string{"schedule_id": schedule.ID}); err != nil {
				s.logger.Warn("failed to notify teacher", zap.Error(err))
			}
		}
	}

	if wasProposed && schedule.Status == models.ScheduleStatusScheduled {
		recipients := append([]string{schedule.TeacherID}, schedule.StudentIDs...)
		for _, userID := range recipients {
			if err := s.notifier.Notify(ctx, userID, models.NotificationTypeClassScheduled, "Class confirmed",
				fmt.Sprintf("All participants agreed; the class on %s is confirmed", schedule.StartsAt.Format(time.RFC1123)),
				map[string]string{"schedule_id": schedule.ID}); err != nil {
				s.logger.Warn("failed to notify participant", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	return schedule, nil
}

// Complete marks a scheduled demo as held. Manual teacher action only;
// regular classes have no completion step in the core.
func (s *ScheduleService) Complete(ctx context.Context, id, actorID string) (*models.Schedule, error) {
	schedule, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if ResolveParticipantRole(schedule.TeacherID, schedule.StudentIDs, actorID) != RoleHost {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the teacher can complete a class")
	}
	if schedule.Type != models.ScheduleTypeDemo {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "only demo classes are completed manually")
	}
	if schedule.Status != models.ScheduleStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "only scheduled classes can be completed")
	}

	schedule.Status = models.ScheduleStatusCompleted
	if err := s.repo.Save(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete schedule")
	}
	return schedule, nil
}

// FinalizeProposal transitions a fully agreed proposed occurrence to
// scheduled. The world may have changed since proposal, so the conflict
// check and demo cap run again here. The caller persists the occurrence;
// on a conflict or cap error the status is left untouched.
func (s *ScheduleService) FinalizeProposal(ctx context.Context, schedule *models.Schedule) error {
	report, err := s.conflicts.Check(ctx, schedule.TeacherID, schedule.StudentIDs, schedule.StartsAt, schedule.DurationMinutes, schedule.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check conflicts")
	}
	if err := s.CheckDemoCap(ctx, schedule.TeacherID, schedule.StudentIDs, schedule.Type); err != nil {
		return err
	}
	if report.HasConflict() {
		return ConflictError(report)
	}
	if schedule.Type == models.ScheduleTypeDemo {
		seq, err := s.NextDemoSequence(ctx, schedule.TeacherID, schedule.StudentIDs[0])
		if err != nil {
			return err
		}
		schedule.Sequence = &seq
	}
	schedule.Status = models.ScheduleStatusScheduled
	return nil
}

// CheckDemoCap enforces the hard per-pair demo limit. Runs at creation and
// again at full acceptance because state may have changed in between.
func (s *ScheduleService) CheckDemoCap(ctx context.Context, teacherID string, studentIDs []string, schedType models.ScheduleType) error {
	if schedType != models.ScheduleTypeDemo {
		return nil
	}
	for _, studentID := range studentIDs {
		taken, err := s.repo.CountDemoTaken(ctx, teacherID, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count demo classes")
		}
		if taken >= s.demoCap {
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrDemoCap, fmt.Sprintf("student already took %d demo classes with this teacher", taken)),
				map[string]interface{}{"student_id": studentID, "taken": taken, "limit": s.demoCap},
			)
		}
	}
	return nil
}

// NextDemoSequence computes the sequence number assigned at the moment a demo
// transitions to scheduled. The count acts as a fallback for legacy rows that
// never got a sequence.
func (s *ScheduleService) NextDemoSequence(ctx context.Context, teacherID, studentID string) (int, error) {
	maxSeq, err := s.repo.MaxDemoSequence(ctx, teacherID, studentID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read demo sequence")
	}
	taken, err := s.repo.CountDemoTaken(ctx, teacherID, studentID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count demo classes")
	}
	next := maxSeq
	if taken > next {
		next = taken
	}
	return next + 1, nil
}

func (s *ScheduleService) find(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// ConflictError wraps a conflict report into the user-facing error carrying
// enough detail to pick a different time.
func ConflictError(report *models.ConflictReport) *appErrors.Error {
	msg := "requested time overlaps an existing class"
	if report.TeacherConflict {
		msg = "teacher is already booked at the requested time"
	}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrTimeConflict, msg), report)
}

func removeString(list pq.StringArray, target string) pq.StringArray {
	out := make(pq.StringArray, 0, len(list))
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
