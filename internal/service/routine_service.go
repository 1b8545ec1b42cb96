package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	"github.com/tutorhive/tutorhive-api/internal/repository"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
)

type routineStore interface {
	DB() *sqlx.DB
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error
	FindByID(ctx context.Context, id string) (*models.Routine, error)
	List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, int, error)
	MembershipConflicts(ctx context.Context, tx *sqlx.Tx, teacherID, courseID string, studentIDs []string, excludeRoutineID string) ([]string, error)
	UpdateMembershipWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error
	UpdateStatus(ctx context.Context, id string, status models.RoutineStatus) error
	SetSlotNextDueWithTx(ctx context.Context, tx *sqlx.Tx, slotID string, due *time.Time) error
}

// SlotRequest describes one weekly rule in a routine payload.
type SlotRequest struct {
	Weekday         int `json:"weekday" validate:"min=0,max=6"`
	Hour            int `json:"hour" validate:"min=0,max=23"`
	Minute          int `json:"minute" validate:"min=0,max=59"`
	DurationMinutes int `json:"duration_minutes" validate:"required,min=15,max=480"`
}

// CreateRoutineRequest describes routine creation.
type CreateRoutineRequest struct {
	CourseID      string        `json:"course_id" validate:"required"`
	StudentIDs    []string      `json:"student_ids" validate:"required,min=1,unique"`
	Timezone      string        `json:"timezone" validate:"required"`
	Slots         []SlotRequest `json:"slots" validate:"required,min=1,dive"`
	RequireAccept bool          `json:"require_acceptance"`
}

// RoutineService owns recurring plan creation, membership responses and
// teacher-side lifecycle transitions. Slot edits after creation go through
// the acceptance coordinator.
type RoutineService struct {
	repo      routineStore
	courses   courseReader
	notifier  notifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRoutineService constructs RoutineService.
func NewRoutineService(repo routineStore, courses courseReader, notifier notifier, validate *validator.Validate, logger *zap.Logger) *RoutineService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutineService{repo: repo, courses: courses, notifier: notifier, validator: validate, logger: logger}
}

// Create registers a weekly routine. With RequireAccept the routine starts
// paused until every student accepts; otherwise it activates immediately and
// each slot's first due instant is resolved.
func (s *RoutineService) Create(ctx context.Context, req CreateRoutineRequest, actorID string) (*models.Routine, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid routine payload")
	}
	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timezone")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the course teacher can create routines")
	}

	routine := &models.Routine{
		TeacherID:          course.TeacherID,
		CourseID:           course.ID,
		Timezone:           req.Timezone,
		StudentIDs:         pq.StringArray(req.StudentIDs),
		RequiresAcceptance: req.RequireAccept,
	}
	now := time.Now().UTC()
	for _, sr := range req.Slots {
		slot := models.RoutineSlot{
			Weekday:         sr.Weekday,
			Hour:            sr.Hour,
			Minute:          sr.Minute,
			DurationMinutes: sr.DurationMinutes,
		}
		if !req.RequireAccept {
			due, err := NextOccurrence(time.Weekday(sr.Weekday), sr.Hour, sr.Minute, loc, now)
			if err != nil {
				return nil, err
			}
			slot.NextDueAt = &due
		}
		routine.Slots = append(routine.Slots, slot)
	}
	if req.RequireAccept {
		routine.Status = models.RoutineStatusPaused
		routine.PendingBy = pq.StringArray(req.StudentIDs)
	} else {
		routine.Status = models.RoutineStatusActive
	}

	err = repository.RunInTx(ctx, s.repo.DB(), func(tx *sqlx.Tx) error {
		conflicted, err := s.repo.MembershipConflicts(ctx, tx, routine.TeacherID, routine.CourseID, req.StudentIDs, "")
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check memberships")
		}
		if len(conflicted) > 0 {
			return appErrors.WithDetails(appErrors.Clone(appErrors.ErrDuplicate, "some students already have a routine for this course"),
				map[string]interface{}{"student_ids": conflicted})
		}
		return s.repo.CreateWithTx(ctx, tx, routine)
	})
	if err != nil {
		return nil, err
	}

	notifType := models.NotificationTypeClassScheduled
	title := "Weekly routine created"
	if req.RequireAccept {
		notifType = models.NotificationTypeRoutineInvite
		title = "Weekly routine invitation"
	}
	for _, studentID := range routine.StudentIDs {
		if err := s.notifier.Notify(ctx, studentID, notifType, title,
			fmt.Sprintf("Weekly %s routine with %d slot(s)", course.Subject, len(routine.Slots)),
			map[string]string{"routine_id": routine.ID}); err != nil {
			s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
		}
	}

	return routine, nil
}

// Respond records a student's accept/reject of a routine invitation.
// Accepting moves the student out of the pending set; once the pending set
// empties the routine activates and slot due instants are resolved. A reject
// removes the student from the routine entirely.
func (s *RoutineService) Respond(ctx context.Context, routineID, studentID string, accept bool) (*models.Routine, error) {
	routine, err := s.find(ctx, routineID)
	if err != nil {
		return nil, err
	}
	if ResolveParticipantRole(routine.TeacherID, routine.StudentIDs, studentID) != RoleAttendee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of this routine")
	}
	if !routine.RequiresAcceptance {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "routine does not require acceptance")
	}
	if !containsString(routine.PendingBy, studentID) {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "response already recorded for this routine")
	}

	routine.PendingBy = removeString(routine.PendingBy, studentID)
	if accept {
		routine.AcceptedBy = append(routine.AcceptedBy, studentID)
	} else {
		routine.StudentIDs = removeString(routine.StudentIDs, studentID)
		if len(routine.StudentIDs) == 0 {
			routine.Status = models.RoutineStatusPaused
		}
	}

	activate := accept && len(routine.PendingBy) == 0 && routine.Status == models.RoutineStatusPaused && len(routine.StudentIDs) > 0

	err = repository.RunInTx(ctx, s.repo.DB(), func(tx *sqlx.Tx) error {
		if activate {
			loc, err := time.LoadLocation(routine.Timezone)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "routine has invalid timezone")
			}
			now := time.Now().UTC()
			for i := range routine.Slots {
				slot := &routine.Slots[i]
				due, err := NextOccurrence(time.Weekday(slot.Weekday), slot.Hour, slot.Minute, loc, now)
				if err != nil {
					return err
				}
				slot.NextDueAt = &due
				if err := s.repo.SetSlotNextDueWithTx(ctx, tx, slot.ID, slot.NextDueAt); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule slot")
				}
			}
			routine.Status = models.RoutineStatusActive
		}
		return s.repo.UpdateMembershipWithTx(ctx, tx, routine)
	})
	if err != nil {
		return nil, err
	}

	if accept {
		if activate {
			if err := s.notifier.Notify(ctx, routine.TeacherID, models.NotificationTypeChangeAccepted, "Routine active",
				"All students accepted; the weekly routine is now active",
				map[string]string{"routine_id": routine.ID}); err != nil {
				s.logger.Warn("failed to notify teacher", zap.Error(err))
			}
		}
	} else {
		if err := s.notifier.Notify(ctx, routine.TeacherID, models.NotificationTypeChangeRejected, "Routine declined",
			"A student declined the weekly routine invitation",
			map[string]string{"routine_id": routine.ID, "student_id": studentID}); err != nil {
			s.logger.Warn("failed to notify teacher", zap.Error(err))
		}
	}

	return routine, nil
}

// Get loads one routine with slots, restricted to its participants.
func (s *RoutineService) Get(ctx context.Context, id, actorID string) (*models.Routine, error) {
	routine, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if ResolveParticipantRole(routine.TeacherID, routine.StudentIDs, actorID) == RoleNone {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of this routine")
	}
	return routine, nil
}

// List returns routines with pagination metadata.
func (s *RoutineService) List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, *models.Pagination, error) {
	routines, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list routines")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return routines, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// SetStatus lets the owning teacher pause, resume or archive a routine.
// Archiving frees the students' course membership for new routines.
func (s *RoutineService) SetStatus(ctx context.Context, id, actorID string, status models.RoutineStatus) (*models.Routine, error) {
	routine, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if routine.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the teacher can change routine status")
	}
	if status == models.RoutineStatusActive && len(routine.PendingBy) > 0 {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "routine still has pending invitations")
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update routine status")
	}
	routine.Status = status
	return routine, nil
}

func (s *RoutineService) find(ctx context.Context, id string) (*models.Routine, error) {
	routine, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "routine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load routine")
	}
	return routine, nil
}

func containsString(list pq.StringArray, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
