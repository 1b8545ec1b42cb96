package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	"github.com/tutorhive/tutorhive-api/internal/repository"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
)

type changeRequestStore interface {
	Create(ctx context.Context, req *models.ChangeRequest) error
	FindByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	List(ctx context.Context, userID, status string) ([]models.ChangeRequest, error)
	SaveResponseSets(ctx context.Context, req *models.ChangeRequest) error
	SaveResponseSetsWithTx(ctx context.Context, tx *sqlx.Tx, req *models.ChangeRequest) error
	PendingForRoutine(ctx context.Context, routineID string) (bool, error)
}

type acceptanceRoutineStore interface {
	DB() *sqlx.DB
	FindByID(ctx context.Context, id string) (*models.Routine, error)
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error
	UpdateMembershipWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error
	ReplaceSlotsWithTx(ctx context.Context, tx *sqlx.Tx, routineID string, slots []models.RoutineSlot) error
}

type acceptanceScheduleStore interface {
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
	Save(ctx context.Context, schedule *models.Schedule) error
}

// AcceptanceService coordinates multi-party agreement: schedule proposals,
// one-off reschedules and weekly slot edits, including routine partitioning
// when only part of the student set accepts a weekly change.
type AcceptanceService struct {
	requests  changeRequestStore
	routines  acceptanceRoutineStore
	schedules acceptanceScheduleStore
	conflict  conflictChecker
	lifecycle *ScheduleService
	notifier  notifier
	logger    *zap.Logger
}

// NewAcceptanceService constructs AcceptanceService.
func NewAcceptanceService(requests changeRequestStore, routines acceptanceRoutineStore, schedules acceptanceScheduleStore, conflict conflictChecker, lifecycle *ScheduleService, notifier notifier, logger *zap.Logger) *AcceptanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcceptanceService{
		requests:  requests,
		routines:  routines,
		schedules: schedules,
		conflict:  conflict,
		lifecycle: lifecycle,
		notifier:  notifier,
		logger:    logger,
	}
}

// RespondToSchedule records a student's accept/reject of a proposed class.
//
// A reject by the sole participant cancels the class outright; on a
// multi-student class it only removes that student. On the final accept the
// conflict and demo-cap checks run again, because the world may have changed
// since the proposal: on success the class transitions to scheduled, on
// conflict the acceptance is persisted but the class stays proposed and the
// caller receives the conflict report.
func (s *AcceptanceService) RespondToSchedule(ctx context.Context, scheduleID, studentID string, accept bool) (*models.Schedule, error) {
	schedule, err := s.findSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if ResolveParticipantRole(schedule.TeacherID, schedule.StudentIDs, studentID) != RoleAttendee {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this class")
	}
	if schedule.Status != models.ScheduleStatusProposed {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "class is not awaiting responses")
	}
	if !containsString(schedule.PendingBy, studentID) {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "response already recorded for this class")
	}

	if !accept {
		if len(schedule.StudentIDs) == 1 {
			schedule.Status = models.ScheduleStatusCancelled
		} else {
			schedule.StudentIDs = removeString(schedule.StudentIDs, studentID)
		}
		schedule.PendingBy = removeString(schedule.PendingBy, studentID)
		schedule.AgreedBy = removeString(schedule.AgreedBy, studentID)

		// The rejector may have been the last pending voice. The remaining
		// participants are then fully agreed and the class must not stay
		// proposed forever.
		if schedule.Status == models.ScheduleStatusProposed && len(schedule.PendingBy) == 0 && len(schedule.StudentIDs) > 0 {
			if ferr := s.lifecycle.FinalizeProposal(ctx, schedule); ferr != nil {
				if appErrors.FromError(ferr).Code == appErrors.ErrInternal.Code {
					return nil, ferr
				}
				s.logger.Warn("agreed class blocked from scheduling",
					zap.String("schedule_id", schedule.ID), zap.Error(ferr))
			}
		}

		if err := s.schedules.Save(ctx, schedule); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save class")
		}
		if err := s.notifier.Notify(ctx, schedule.TeacherID, models.NotificationTypeChangeRejected, "Class proposal declined",
			fmt.Sprintf("A student declined the class proposed for %s", schedule.StartsAt.Format(time.RFC1123)),
			map[string]string{"schedule_id": schedule.ID, "student_id": studentID}); err != nil {
			s.logger.Warn("failed to notify teacher", zap.Error(err))
		}
		if schedule.Status == models.ScheduleStatusScheduled {
			s.notifyScheduled(ctx, schedule)
		}
		return schedule, nil
	}

	schedule.PendingBy = removeString(schedule.PendingBy, studentID)
	schedule.AgreedBy = append(schedule.AgreedBy, studentID)

	if len(schedule.PendingBy) > 0 {
		if err := s.schedules.Save(ctx, schedule); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save class")
		}
		return schedule, nil
	}

	// Final acceptance: the world may have changed since proposal. A conflict
	// or cap error still persists the acceptance so it is never re-asked.
	ferr := s.lifecycle.FinalizeProposal(ctx, schedule)
	if ferr != nil && appErrors.FromError(ferr).Code == appErrors.ErrInternal.Code {
		return nil, ferr
	}
	if err := s.schedules.Save(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save class")
	}
	if ferr != nil {
		return nil, ferr
	}

	s.notifyScheduled(ctx, schedule)
	return schedule, nil
}

func (s *AcceptanceService) notifyScheduled(ctx context.Context, schedule *models.Schedule) {
	recipients := append([]string{schedule.TeacherID}, schedule.StudentIDs...)
	for _, userID := range recipients {
		if err := s.notifier.Notify(ctx, userID, models.NotificationTypeClassScheduled, "Class confirmed",
			fmt.Sprintf("All participants agreed; the class on %s is confirmed", schedule.StartsAt.Format(time.RFC1123)),
			map[string]string{"schedule_id": schedule.ID}); err != nil {
			s.logger.Warn("failed to notify participant", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// ProposeWeeklyChange opens an aggregate slot-edit request on a routine. Only
// the teacher proposes weekly edits, the scope defaults to every current
// student, and at most one weekly request may be open per routine.
func (s *AcceptanceService) ProposeWeeklyChange(ctx context.Context, routineID, actorID string, change models.WeeklyChange, scope []string) (*models.ChangeRequest, error) {
	routine, err := s.findRoutine(ctx, routineID)
	if err != nil {
		return nil, err
	}
	if routine.TeacherID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the teacher can propose weekly changes")
	}
	if err := validateWeeklyChange(routine, change); err != nil {
		return nil, err
	}

	if len(scope) == 0 {
		scope = append([]string(nil), routine.StudentIDs...)
	}
	for _, id := range scope {
		if !routine.HasStudent(id) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "scope contains a student outside the routine")
		}
	}
	if len(scope) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "routine has no students to ask")
	}

	open, err := s.requests.PendingForRoutine(ctx, routineID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open requests")
	}
	if open {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "routine already has an open change request")
	}

	req := &models.ChangeRequest{
		Kind:       models.ChangeKindWeekly,
		RoutineID:  &routineID,
		CreatedBy:  actorID,
		StudentIDs: pq.StringArray(scope),
		PendingBy:  pq.StringArray(append([]string(nil), scope...)),
		Status:     models.ChangeRequestStatusPending,
		Weekly:     &change,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}

	for _, studentID := range scope {
		if err := s.notifier.Notify(ctx, studentID, models.NotificationTypeChangeProposed, "Weekly schedule change proposed",
			"Your teacher proposed a change to the weekly routine",
			map[string]string{"change_request_id": req.ID, "routine_id": routineID}); err != nil {
			s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return req, nil
}

// ProposeReschedule opens a one-off time-change request on a class. Either
// side may propose; a proposing student counts as having accepted already.
func (s *AcceptanceService) ProposeReschedule(ctx context.Context, scheduleID, actorID string, change models.OneOffChange) (*models.ChangeRequest, error) {
	schedule, err := s.findSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	role := ResolveParticipantRole(schedule.TeacherID, schedule.StudentIDs, actorID)
	if role == RoleNone {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this class")
	}
	if schedule.Status != models.ScheduleStatusScheduled && schedule.Status != models.ScheduleStatusProposed {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "class can no longer be rescheduled")
	}
	if change.DurationMinutes <= 0 {
		change.DurationMinutes = schedule.DurationMinutes
	}
	if !change.ProposedStart.After(time.Now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposed start must be in the future")
	}

	pending := append([]string(nil), schedule.StudentIDs...)
	accepted := []string(nil)
	if role == RoleAttendee {
		pending = removeString(pending, actorID)
		accepted = []string{actorID}
	}

	req := &models.ChangeRequest{
		Kind:       models.ChangeKindOneOff,
		ScheduleID: &scheduleID,
		CreatedBy:  actorID,
		StudentIDs: pq.StringArray(append([]string(nil), schedule.StudentIDs...)),
		PendingBy:  pq.StringArray(pending),
		AcceptedBy: pq.StringArray(accepted),
		Status:     models.ChangeRequestStatusPending,
		OneOff:     &change,
	}
	req.Status = req.DeriveStatus()
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}

	if req.Status == models.ChangeRequestStatusAccepted {
		// Sole student proposed; nothing left to wait for.
		if err := s.applyOneOff(ctx, req, schedule); err != nil {
			return nil, err
		}
		return req, nil
	}

	for _, studentID := range pending {
		if err := s.notifier.Notify(ctx, studentID, models.NotificationTypeChangeProposed, "New time proposed",
			fmt.Sprintf("A new time was proposed: %s", change.ProposedStart.Format(time.RFC1123)),
			map[string]string{"change_request_id": req.ID, "schedule_id": scheduleID}); err != nil {
			s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return req, nil
}

// Respond records one student's answer on a change request. Any rejection
// settles the aggregate as rejected; the final acceptance applies the change.
func (s *AcceptanceService) Respond(ctx context.Context, requestID, studentID string, accept bool) (*models.ChangeRequest, error) {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ChangeRequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "change request already settled")
	}
	if !containsString(req.PendingBy, studentID) {
		if containsString(req.StudentIDs, studentID) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "response already recorded for this request")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not in the scope of this request")
	}

	req.PendingBy = removeString(req.PendingBy, studentID)
	if accept {
		req.AcceptedBy = append(req.AcceptedBy, studentID)
	} else {
		req.RejectedBy = append(req.RejectedBy, studentID)
	}
	req.Status = req.DeriveStatus()

	if req.Status == models.ChangeRequestStatusRejected {
		if err := s.requests.SaveResponseSets(ctx, req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save change request")
		}
		if err := s.notifier.Notify(ctx, req.CreatedBy, models.NotificationTypeChangeRejected, "Change request declined",
			"A student declined the proposed change",
			map[string]string{"change_request_id": req.ID, "student_id": studentID}); err != nil {
			s.logger.Warn("failed to notify creator", zap.Error(err))
		}
		return req, nil
	}

	if req.Status == models.ChangeRequestStatusPending {
		if err := s.requests.SaveResponseSets(ctx, req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save change request")
		}
		return req, nil
	}

	// Everyone accepted: apply.
	switch req.Kind {
	case models.ChangeKindWeekly:
		if err := s.applyWeekly(ctx, req); err != nil {
			return nil, err
		}
	case models.ChangeKindOneOff:
		schedule, err := s.findSchedule(ctx, *req.ScheduleID)
		if err != nil {
			return nil, err
		}
		if err := s.applyOneOff(ctx, req, schedule); err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrInternal, "unknown change request kind")
	}
	return req, nil
}

// Get returns a change request if the user created it or is asked to respond.
func (s *AcceptanceService) Get(ctx context.Context, requestID, userID string) (*models.ChangeRequest, error) {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CreatedBy != userID && !containsString(req.StudentIDs, userID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this change request")
	}
	return req, nil
}

// ListForUser returns change requests visible to a user.
func (s *AcceptanceService) ListForUser(ctx context.Context, userID, status string) ([]models.ChangeRequest, error) {
	requests, err := s.requests.List(ctx, userID, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, nil
}

// applyOneOff moves the class to the agreed time after a fresh conflict
// check. A conflict at apply time settles the request as rejected so the
// creator can propose another slot.
func (s *AcceptanceService) applyOneOff(ctx context.Context, req *models.ChangeRequest, schedule *models.Schedule) error {
	report, err := s.conflict.Check(ctx, schedule.TeacherID, schedule.StudentIDs, req.OneOff.ProposedStart, req.OneOff.DurationMinutes, schedule.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check conflicts")
	}
	if report.HasConflict() {
		req.Status = models.ChangeRequestStatusRejected
		if err := s.requests.SaveResponseSets(ctx, req); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save change request")
		}
		if err := s.notifier.Notify(ctx, req.CreatedBy, models.NotificationTypeChangeRejected, "Proposed time unavailable",
			fmt.Sprintf("The proposed time %s now conflicts with another class", req.OneOff.ProposedStart.Format(time.RFC1123)),
			map[string]interface{}{"change_request_id": req.ID, "report": report}); err != nil {
			s.logger.Warn("failed to notify creator", zap.Error(err))
		}
		return ConflictError(report)
	}

	schedule.StartsAt = req.OneOff.ProposedStart
	schedule.DurationMinutes = req.OneOff.DurationMinutes
	if err := s.schedules.Save(ctx, schedule); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save class")
	}
	if err := s.requests.SaveResponseSets(ctx, req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save change request")
	}

	recipients := append([]string{schedule.TeacherID}, schedule.StudentIDs...)
	for _, userID := range recipients {
		if err := s.notifier.Notify(ctx, userID, models.NotificationTypeChangeAccepted, "Class rescheduled",
			fmt.Sprintf("The class moved to %s", schedule.StartsAt.Format(time.RFC1123)),
			map[string]string{"schedule_id": schedule.ID}); err != nil {
			s.logger.Warn("failed to notify participant", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// applyWeekly mutates the routine in place when the whole student set agreed,
// or partitions the routine when only a subset did.
func (s *AcceptanceService) applyWeekly(ctx context.Context, req *models.ChangeRequest) error {
	routine, err := s.findRoutine(ctx, *req.RoutineID)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(routine.Timezone)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "routine has invalid timezone")
	}

	scope := append([]string(nil), req.AcceptedBy...)
	wholeSet := len(scope) == len(routine.StudentIDs)
	if wholeSet {
		for _, id := range routine.StudentIDs {
			if !containsString(req.AcceptedBy, id) {
				wholeSet = false
				break
			}
		}
	}

	if wholeSet {
		slots, err := applySlotChange(routine.Slots, *req.Weekly, loc)
		if err != nil {
			return err
		}
		err = repository.RunInTx(ctx, s.routines.DB(), func(tx *sqlx.Tx) error {
			if err := s.routines.ReplaceSlotsWithTx(ctx, tx, routine.ID, slots); err != nil {
				return err
			}
			return s.requests.SaveResponseSetsWithTx(ctx, tx, req)
		})
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply weekly change")
		}

		recipients := append([]string{routine.TeacherID}, routine.StudentIDs...)
		for _, userID := range recipients {
			if err := s.notifier.Notify(ctx, userID, models.NotificationTypeRoutineChanged, "Weekly routine updated",
				"The weekly routine was updated as agreed",
				map[string]string{"routine_id": routine.ID}); err != nil {
				s.logger.Warn("failed to notify participant", zap.String("user_id", userID), zap.Error(err))
			}
		}
		return nil
	}

	return s.partition(ctx, req, routine, scope, loc)
}

// partition splits the routine: the accepting subset moves onto a fresh
// routine carrying the edited slots; everyone else keeps the original,
// untouched. Next-due instants on the original are left alone so a
// concurrent engine tick is never raced.
func (s *AcceptanceService) partition(ctx context.Context, req *models.ChangeRequest, routine *models.Routine, scope []string, loc *time.Location) error {
	clonedSlots := make([]models.RoutineSlot, len(routine.Slots))
	copy(clonedSlots, routine.Slots)
	newSlots, err := applySlotChange(clonedSlots, *req.Weekly, loc)
	if err != nil {
		return err
	}

	remainder := append(pq.StringArray(nil), routine.StudentIDs...)
	for _, id := range scope {
		remainder = removeString(remainder, id)
	}

	split := &models.Routine{
		TeacherID:  routine.TeacherID,
		CourseID:   routine.CourseID,
		Timezone:   routine.Timezone,
		StudentIDs: pq.StringArray(scope),
		Status:     models.RoutineStatusActive,
		Slots:      newSlots,
	}

	err = repository.RunInTx(ctx, s.routines.DB(), func(tx *sqlx.Tx) error {
		routine.StudentIDs = remainder
		if len(remainder) == 0 {
			routine.Status = models.RoutineStatusPaused
		}
		if err := s.routines.UpdateMembershipWithTx(ctx, tx, routine); err != nil {
			return err
		}
		if err := s.routines.CreateWithTx(ctx, tx, split); err != nil {
			return err
		}
		return s.requests.SaveResponseSetsWithTx(ctx, tx, req)
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to partition routine")
	}

	for _, studentID := range scope {
		if err := s.notifier.Notify(ctx, studentID, models.NotificationTypeRoutineChanged, "Weekly routine updated",
			"Your weekly routine moved to the agreed new time",
			map[string]string{"routine_id": split.ID}); err != nil {
			s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	for _, studentID := range remainder {
		if err := s.notifier.Notify(ctx, studentID, models.NotificationTypeRoutineChanged, "Weekly routine unchanged",
			"Other students moved to a new time; your weekly routine is unchanged",
			map[string]string{"routine_id": routine.ID}); err != nil {
			s.logger.Warn("failed to notify student", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	if err := s.notifier.Notify(ctx, routine.TeacherID, models.NotificationTypeRoutineSplit, "Weekly routine split",
		"The routine was split between accepting and remaining students",
		map[string]string{"original_routine_id": routine.ID, "new_routine_id": split.ID}); err != nil {
		s.logger.Warn("failed to notify teacher", zap.Error(err))
	}
	return nil
}

// applySlotChange produces the slot list after an add/update/remove. The new
// weekday+time always wins on collision: an existing slot at the same
// weekday+time is dropped rather than duplicated. Changed slots get a fresh
// next-due instant; untouched slots keep theirs.
func applySlotChange(slots []models.RoutineSlot, change models.WeeklyChange, loc *time.Location) ([]models.RoutineSlot, error) {
	now := time.Now().UTC()
	freshDue := func(spec models.SlotSpec) (*time.Time, error) {
		due, err := NextOccurrence(time.Weekday(spec.Weekday), spec.Hour, spec.Minute, loc, now)
		if err != nil {
			return nil, err
		}
		return &due, nil
	}

	switch change.Op {
	case models.WeeklyOpAdd:
		if change.New == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "add requires a new slot spec")
		}
		due, err := freshDue(*change.New)
		if err != nil {
			return nil, err
		}
		out := make([]models.RoutineSlot, 0, len(slots)+1)
		for _, slot := range slots {
			if slot.SameTime(change.New.Weekday, change.New.Hour, change.New.Minute) {
				continue
			}
			out = append(out, slot)
		}
		return append(out, models.RoutineSlot{
			Weekday:         change.New.Weekday,
			Hour:            change.New.Hour,
			Minute:          change.New.Minute,
			DurationMinutes: change.New.DurationMinutes,
			NextDueAt:       due,
		}), nil

	case models.WeeklyOpUpdate:
		if change.Target == nil || change.New == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "update requires a target and a new slot spec")
		}
		due, err := freshDue(*change.New)
		if err != nil {
			return nil, err
		}
		found := false
		out := make([]models.RoutineSlot, 0, len(slots))
		for _, slot := range slots {
			if slot.SameTime(change.Target.Weekday, change.Target.Hour, change.Target.Minute) {
				found = true
				continue
			}
			if slot.SameTime(change.New.Weekday, change.New.Hour, change.New.Minute) {
				// The new time wins; the colliding slot is dropped.
				continue
			}
			out = append(out, slot)
		}
		if !found {
			return nil, appErrors.Clone(appErrors.ErrPrecondition, "target slot no longer exists")
		}
		return append(out, models.RoutineSlot{
			Weekday:         change.New.Weekday,
			Hour:            change.New.Hour,
			Minute:          change.New.Minute,
			DurationMinutes: change.New.DurationMinutes,
			NextDueAt:       due,
		}), nil

	case models.WeeklyOpRemove:
		if change.Target == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "remove requires a target slot")
		}
		found := false
		out := make([]models.RoutineSlot, 0, len(slots))
		for _, slot := range slots {
			if slot.SameTime(change.Target.Weekday, change.Target.Hour, change.Target.Minute) {
				found = true
				continue
			}
			out = append(out, slot)
		}
		if !found {
			return nil, appErrors.Clone(appErrors.ErrPrecondition, "target slot no longer exists")
		}
		return out, nil

	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown slot operation")
	}
}

func validateWeeklyChange(routine *models.Routine, change models.WeeklyChange) error {
	switch change.Op {
	case models.WeeklyOpAdd, models.WeeklyOpUpdate:
		if change.New == nil {
			return appErrors.Clone(appErrors.ErrValidation, "missing new slot spec")
		}
		if change.New.Weekday < 0 || change.New.Weekday > 6 || change.New.Hour < 0 || change.New.Hour > 23 || change.New.Minute < 0 || change.New.Minute > 59 {
			return appErrors.Clone(appErrors.ErrValidation, "invalid slot time")
		}
		if change.New.DurationMinutes <= 0 {
			return appErrors.Clone(appErrors.ErrValidation, "invalid slot duration")
		}
	case models.WeeklyOpRemove:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown slot operation")
	}
	if change.Op == models.WeeklyOpUpdate || change.Op == models.WeeklyOpRemove {
		if change.Target == nil {
			return appErrors.Clone(appErrors.ErrValidation, "missing target slot")
		}
		found := false
		for _, slot := range routine.Slots {
			if slot.SameTime(change.Target.Weekday, change.Target.Hour, change.Target.Minute) {
				found = true
				break
			}
		}
		if !found {
			return appErrors.Clone(appErrors.ErrNotFound, "target slot not found on routine")
		}
	}
	return nil
}

func (s *AcceptanceService) findSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return schedule, nil
}

func (s *AcceptanceService) findRequest(ctx context.Context, id string) (*models.ChangeRequest, error) {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	return req, nil
}

func (s *AcceptanceService) findRoutine(ctx context.Context, id string) (*models.Routine, error) {
	routine, err := s.routines.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "routine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load routine")
	}
	return routine, nil
}
