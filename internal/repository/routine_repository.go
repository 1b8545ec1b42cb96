package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

const routineColumns = `id, teacher_id, course_id, timezone, student_ids, status, requires_acceptance, pending_by, accepted_by, created_at, updated_at`

const slotColumns = `id, routine_id, position, weekday, hour, minute, duration_minutes, next_due_at, created_at, updated_at`

// RoutineRepository provides persistence for routines and their slots.
type RoutineRepository struct {
	db *sqlx.DB
}

// NewRoutineRepository creates a new routine repository.
func NewRoutineRepository(db *sqlx.DB) *RoutineRepository {
	return &RoutineRepository{db: db}
}

// DB exposes the underlying handle for cross-repository transactions.
func (r *RoutineRepository) DB() *sqlx.DB {
	return r.db
}

// Create stores a routine and its slots in one transaction.
func (r *RoutineRepository) Create(ctx context.Context, routine *models.Routine) error {
	return RunInTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return r.CreateWithTx(ctx, tx, routine)
	})
}

// CreateWithTx stores a routine and its slots using an existing transaction.
func (r *RoutineRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error {
	if routine.ID == "" {
		routine.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if routine.CreatedAt.IsZero() {
		routine.CreatedAt = now
	}
	routine.UpdatedAt = now
	if routine.PendingBy == nil {
		routine.PendingBy = pq.StringArray{}
	}
	if routine.AcceptedBy == nil {
		routine.AcceptedBy = pq.StringArray{}
	}

	const query = `INSERT INTO routines (id, teacher_id, course_id, timezone, student_ids, status, requires_acceptance, pending_by, accepted_by, created_at, updated_at)
		VALUES (:id, :teacher_id, :course_id, :timezone, :student_ids, :status, :requires_acceptance, :pending_by, :accepted_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, routine); err != nil {
		return fmt.Errorf("create routine: %w", err)
	}

	for i := range routine.Slots {
		slot := &routine.Slots[i]
		slot.RoutineID = routine.ID
		slot.Position = i
		if err := r.insertSlot(ctx, tx, slot); err != nil {
			return err
		}
	}
	return nil
}

func (r *RoutineRepository) insertSlot(ctx context.Context, tx *sqlx.Tx, slot *models.RoutineSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now

	const query = `INSERT INTO routine_slots (id, routine_id, position, weekday, hour, minute, duration_minutes, next_due_at, created_at, updated_at)
		VALUES (:id, :routine_id, :position, :weekday, :hour, :minute, :duration_minutes, :next_due_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("create routine slot: %w", err)
	}
	return nil
}

// FindByID loads a routine with its slots ordered by position.
func (r *RoutineRepository) FindByID(ctx context.Context, id string) (*models.Routine, error) {
	query := fmt.Sprintf(`SELECT %s FROM routines WHERE id = $1`, routineColumns)
	var routine models.Routine
	if err := r.db.GetContext(ctx, &routine, query, id); err != nil {
		return nil, err
	}

	slotQuery := fmt.Sprintf(`SELECT %s FROM routine_slots WHERE routine_id = $1 ORDER BY position ASC`, slotColumns)
	if err := r.db.SelectContext(ctx, &routine.Slots, slotQuery, id); err != nil {
		return nil, fmt.Errorf("load routine slots: %w", err)
	}
	return &routine, nil
}

// List returns routines with optional filtering and pagination. Slots are not
// loaded for list views.
func (r *RoutineRepository) List(ctx context.Context, filter models.RoutineFilter) ([]models.Routine, int, error) {
	base := "FROM routines WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(student_ids)", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", routineColumns, base, size, offset)
	var routines []models.Routine
	if err := r.db.SelectContext(ctx, &routines, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list routines: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count routines: %w", err)
	}

	return routines, total, nil
}

// MembershipConflicts returns the subset of candidate student ids that
// already belong to a non-archived routine for the same teacher and course.
// Call inside the transaction that inserts or mutates memberships. An empty
// excludeRoutineID is bound as NULL so the uuid column never sees an empty
// string.
func (r *RoutineRepository) MembershipConflicts(ctx context.Context, tx *sqlx.Tx, teacherID, courseID string, studentIDs []string, excludeRoutineID string) ([]string, error) {
	const query = `SELECT DISTINCT s FROM routines, unnest(student_ids) AS s
		WHERE teacher_id = $1 AND course_id = $2 AND status <> 'archived' AND s = ANY($3) AND ($4::uuid IS NULL OR id <> $4)`
	exclude := sql.NullString{String: excludeRoutineID, Valid: excludeRoutineID != ""}
	var conflicted []string
	if err := tx.SelectContext(ctx, &conflicted, query, teacherID, courseID, pq.Array(studentIDs), exclude); err != nil {
		return nil, fmt.Errorf("check routine membership: %w", err)
	}
	return conflicted, nil
}

// UpdateMembership persists the student/acceptance sets and status.
func (r *RoutineRepository) UpdateMembership(ctx context.Context, routine *models.Routine) error {
	return r.updateMembership(ctx, r.db, routine)
}

// UpdateMembershipWithTx is UpdateMembership inside an existing transaction.
func (r *RoutineRepository) UpdateMembershipWithTx(ctx context.Context, tx *sqlx.Tx, routine *models.Routine) error {
	return r.updateMembership(ctx, tx, routine)
}

func (r *RoutineRepository) updateMembership(ctx context.Context, ext sqlx.ExtContext, routine *models.Routine) error {
	routine.UpdatedAt = time.Now().UTC()
	const query = `UPDATE routines SET student_ids = :student_ids, status = :status, pending_by = :pending_by, accepted_by = :accepted_by, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, routine); err != nil {
		return fmt.Errorf("update routine membership: %w", err)
	}
	return nil
}

// UpdateStatus sets the routine status.
func (r *RoutineRepository) UpdateStatus(ctx context.Context, id string, status models.RoutineStatus) error {
	const query = `UPDATE routines SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update routine status: %w", err)
	}
	return nil
}

// ReplaceSlotsWithTx deletes and re-inserts the routine's slot list; slot
// positions are renumbered from zero.
func (r *RoutineRepository) ReplaceSlotsWithTx(ctx context.Context, tx *sqlx.Tx, routineID string, slots []models.RoutineSlot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM routine_slots WHERE routine_id = $1`, routineID); err != nil {
		return fmt.Errorf("clear routine slots: %w", err)
	}
	for i := range slots {
		slot := &slots[i]
		slot.ID = ""
		slot.RoutineID = routineID
		slot.Position = i
		if err := r.insertSlot(ctx, tx, slot); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE routines SET updated_at = $2 WHERE id = $1`, routineID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch routine: %w", err)
	}
	return nil
}

// ListDueSlots returns active routines' slots due at or before the horizon,
// joined with the routine fields the engine needs.
func (r *RoutineRepository) ListDueSlots(ctx context.Context, horizon time.Time) ([]models.DueSlot, error) {
	const query = `SELECT s.id AS slot_id, s.routine_id, s.position, s.weekday, s.hour, s.minute, s.duration_minutes, s.next_due_at,
			r.teacher_id, r.course_id, r.timezone, r.student_ids
		FROM routine_slots s
		JOIN routines r ON r.id = s.routine_id
		WHERE r.status = 'active' AND s.next_due_at IS NOT NULL AND s.next_due_at <= $1
		ORDER BY s.next_due_at ASC`
	var due []models.DueSlot
	if err := r.db.SelectContext(ctx, &due, query, horizon); err != nil {
		return nil, fmt.Errorf("list due slots: %w", err)
	}
	return due, nil
}

// AdvanceSlotWithTx moves a slot's next-due instant forward, but only if it
// still holds the value the caller read. Returns false when a concurrent
// writer got there first.
func (r *RoutineRepository) AdvanceSlotWithTx(ctx context.Context, tx *sqlx.Tx, slotID string, from, to time.Time) (bool, error) {
	const query = `UPDATE routine_slots SET next_due_at = $3, updated_at = $4 WHERE id = $1 AND next_due_at = $2`
	res, err := tx.ExecContext(ctx, query, slotID, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("advance slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance slot affected rows: %w", err)
	}
	return affected == 1, nil
}

// SetSlotNextDue sets a slot's next-due instant unconditionally (activation
// and acceptance paths, where the engine is not a concurrent writer yet).
func (r *RoutineRepository) SetSlotNextDue(ctx context.Context, slotID string, due *time.Time) error {
	return r.setSlotNextDue(ctx, r.db, slotID, due)
}

// SetSlotNextDueWithTx is SetSlotNextDue inside an existing transaction.
func (r *RoutineRepository) SetSlotNextDueWithTx(ctx context.Context, tx *sqlx.Tx, slotID string, due *time.Time) error {
	return r.setSlotNextDue(ctx, tx, slotID, due)
}

func (r *RoutineRepository) setSlotNextDue(ctx context.Context, ext sqlx.ExtContext, slotID string, due *time.Time) error {
	const query = `UPDATE routine_slots SET next_due_at = $2, updated_at = $3 WHERE id = $1`
	if _, err := ext.ExecContext(ctx, query, slotID, due, time.Now().UTC()); err != nil {
		return fmt.Errorf("set slot next due: %w", err)
	}
	return nil
}
