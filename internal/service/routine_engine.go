package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	"github.com/tutorhive/tutorhive-api/internal/repository"
	"github.com/tutorhive/tutorhive-api/pkg/config"
)

type dueSlotStore interface {
	DB() *sqlx.DB
	ListDueSlots(ctx context.Context, horizon time.Time) ([]models.DueSlot, error)
	AdvanceSlotWithTx(ctx context.Context, tx *sqlx.Tx, slotID string, from, to time.Time) (bool, error)
}

type occurrenceWriter interface {
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, schedule *models.Schedule) error
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]models.Schedule, error)
}

type occurrenceLocker interface {
	Acquire(ctx context.Context, routineID string, slotPosition int, occurrenceAt time.Time, ttl time.Duration) (bool, error)
	SweepExpired(ctx context.Context) (int64, error)
}

type engineNotifier interface {
	NotifyTx(ctx context.Context, tx *sqlx.Tx, userID, notifType, title, message string, data interface{}) error
	NotifyDedup(ctx context.Context, dedupKey, userID, notifType, title, message string, data interface{}) (bool, error)
}

// RoutineEngine turns due routine slots into concrete classes. Each tick is
// idempotent: an occurrence is materialized at most once per
// (routine, slot, instant) thanks to the occurrence lock, and the slot's
// next_due_at only advances through a compare-and-set.
type RoutineEngine struct {
	routines dueSlotStore
	occ      occurrenceWriter
	locks    occurrenceLocker
	conflict conflictChecker
	notifier engineNotifier
	metrics  *MetricsService
	cfg      config.EngineConfig
	logger   *zap.Logger

	now func() time.Time
}

// NewRoutineEngine constructs RoutineEngine.
func NewRoutineEngine(routines dueSlotStore, occ occurrenceWriter, locks occurrenceLocker, conflict conflictChecker, notifier engineNotifier, metrics *MetricsService, cfg config.EngineConfig, logger *zap.Logger) *RoutineEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoutineEngine{
		routines: routines,
		occ:      occ,
		locks:    locks,
		conflict: conflict,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tick processes every slot whose due instant falls inside the lookahead
// window. A failure on one slot is logged and never blocks the others.
func (e *RoutineEngine) Tick(ctx context.Context) error {
	started := e.now()
	defer func() {
		e.metrics.ObserveTick(time.Since(started))
	}()

	if swept, err := e.locks.SweepExpired(ctx); err != nil {
		e.logger.Warn("failed to sweep expired occurrence locks", zap.Error(err))
	} else if swept > 0 {
		e.metrics.RecordLocksSwept(swept)
		e.logger.Info("swept expired occurrence locks", zap.Int64("count", swept))
	}

	due, err := e.routines.ListDueSlots(ctx, started.Add(e.cfg.LookaheadWindow))
	if err != nil {
		return fmt.Errorf("list due slots: %w", err)
	}

	for _, slot := range due {
		if err := e.processSlot(ctx, slot); err != nil {
			e.logger.Error("failed to process due slot",
				zap.String("routine_id", slot.RoutineID),
				zap.Int("slot_position", slot.Position),
				zap.Time("due_at", slot.NextDueAt),
				zap.Error(err))
		}
	}
	return nil
}

func (e *RoutineEngine) processSlot(ctx context.Context, slot models.DueSlot) error {
	acquired, err := e.locks.Acquire(ctx, slot.RoutineID, slot.Position, slot.NextDueAt, e.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire occurrence lock: %w", err)
	}
	if !acquired {
		// Another instance owns this occurrence.
		e.metrics.RecordOccurrence("skipped")
		return nil
	}

	loc, err := time.LoadLocation(slot.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", slot.Timezone, err)
	}
	nextDue := NextWeek(slot.NextDueAt, loc)

	report, err := e.conflict.Check(ctx, slot.TeacherID, slot.StudentIDs, slot.NextDueAt, slot.DurationMinutes, "")
	if err != nil {
		return fmt.Errorf("check conflicts: %w", err)
	}

	free := report.FreeStudents(slot.StudentIDs)
	if report.TeacherConflict || len(free) == 0 {
		return e.skipConflicted(ctx, slot, nextDue, report)
	}

	return e.materialize(ctx, slot, nextDue, free, report)
}

// skipConflicted advances the slot a week without creating a class and tells
// the teacher why this occurrence was dropped.
func (e *RoutineEngine) skipConflicted(ctx context.Context, slot models.DueSlot, nextDue time.Time, report *models.ConflictReport) error {
	err := repository.RunInTx(ctx, e.routines.DB(), func(tx *sqlx.Tx) error {
		advanced, err := e.routines.AdvanceSlotWithTx(ctx, tx, slot.SlotID, slot.NextDueAt, nextDue)
		if err != nil {
			return err
		}
		if !advanced {
			// Someone else already moved the slot; nothing to report.
			return nil
		}
		return e.notifier.NotifyTx(ctx, tx, slot.TeacherID, models.NotificationTypeRoutineConflict,
			"Weekly class skipped",
			fmt.Sprintf("The class due %s could not be scheduled because of a time conflict", slot.NextDueAt.Format(time.RFC1123)),
			map[string]interface{}{
				"routine_id":    slot.RoutineID,
				"slot_position": slot.Position,
				"occurrence_at": slot.NextDueAt,
				"report":        report,
			})
	})
	if err != nil {
		return fmt.Errorf("skip conflicted occurrence: %w", err)
	}
	e.metrics.RecordOccurrence("conflicted")
	return nil
}

// materialize creates the class for the conflict-free students, queues the
// notifications and advances the slot, all in one transaction.
func (e *RoutineEngine) materialize(ctx context.Context, slot models.DueSlot, nextDue time.Time, free []string, report *models.ConflictReport) error {
	schedule := &models.Schedule{
		RoutineID:       &slot.RoutineID,
		SlotPosition:    &slot.Position,
		TeacherID:       slot.TeacherID,
		CourseID:        slot.CourseID,
		StudentIDs:      pq.StringArray(free),
		StartsAt:        slot.NextDueAt,
		DurationMinutes: slot.DurationMinutes,
		Type:            models.ScheduleTypeRegular,
		Status:          models.ScheduleStatusScheduled,
	}

	partial := len(free) < len(slot.StudentIDs)

	err := repository.RunInTx(ctx, e.routines.DB(), func(tx *sqlx.Tx) error {
		advanced, err := e.routines.AdvanceSlotWithTx(ctx, tx, slot.SlotID, slot.NextDueAt, nextDue)
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
		if err := e.occ.CreateWithTx(ctx, tx, schedule); err != nil {
			return err
		}
		for _, studentID := range free {
			if err := e.notifier.NotifyTx(ctx, tx, studentID, models.NotificationTypeClassScheduled,
				"Class scheduled",
				fmt.Sprintf("Your weekly class on %s is confirmed", schedule.StartsAt.Format(time.RFC1123)),
				map[string]string{"schedule_id": schedule.ID, "routine_id": slot.RoutineID}); err != nil {
				return err
			}
		}
		if partial {
			return e.notifier.NotifyTx(ctx, tx, slot.TeacherID, models.NotificationTypeRoutinePartial,
				"Class scheduled without some students",
				fmt.Sprintf("The class on %s excludes %d student(s) with conflicts", schedule.StartsAt.Format(time.RFC1123), len(slot.StudentIDs)-len(free)),
				map[string]interface{}{
					"schedule_id":         schedule.ID,
					"routine_id":          slot.RoutineID,
					"conflicted_students": report.ConflictedStudents(),
					"scheduled_students":  free,
				})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("materialize occurrence: %w", err)
	}
	e.metrics.RecordOccurrence("materialized")
	e.logger.Info("materialized occurrence",
		zap.String("routine_id", slot.RoutineID),
		zap.Int("slot_position", slot.Position),
		zap.Time("starts_at", schedule.StartsAt),
		zap.Int("students", len(free)),
		zap.Bool("partial", partial))
	return nil
}

// RemindUpcoming sends a reminder for every class starting within the lead
// window. Delivery is deduplicated per (class, user), so overlapping passes
// never double-notify.
func (e *RoutineEngine) RemindUpcoming(ctx context.Context) error {
	now := e.now()
	classes, err := e.occ.ListStartingBetween(ctx, now, now.Add(e.cfg.ReminderLead))
	if err != nil {
		return fmt.Errorf("list upcoming classes: %w", err)
	}
	for _, class := range classes {
		recipients := append([]string{class.TeacherID}, class.StudentIDs...)
		for _, userID := range recipients {
			key := fmt.Sprintf("reminder:%s:%s", class.ID, userID)
			inserted, err := e.notifier.NotifyDedup(ctx, key, userID, models.NotificationTypeClassReminder,
				"Class starting soon",
				fmt.Sprintf("Your class starts at %s", class.StartsAt.Format(time.RFC1123)),
				map[string]string{"schedule_id": class.ID})
			if err != nil {
				e.logger.Warn("failed to send reminder",
					zap.String("schedule_id", class.ID),
					zap.String("user_id", userID),
					zap.Error(err))
				continue
			}
			if inserted {
				e.metrics.RecordReminder()
			}
		}
	}
	return nil
}
