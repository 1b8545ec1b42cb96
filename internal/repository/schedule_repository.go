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

const scheduleColumns = `id, routine_id, slot_position, teacher_id, course_id, student_ids, starts_at, duration_minutes, type, status, requires_acceptance, pending_by, agreed_by, sequence, created_at, updated_at`

// ScheduleRepository provides persistence for concrete class occurrences.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// DB exposes the underlying handle for cross-repository transactions.
func (r *ScheduleRepository) DB() *sqlx.DB {
	return r.db
}

// Create stores a new occurrence.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	return r.create(ctx, r.db, schedule)
}

// CreateWithTx stores a new occurrence inside an existing transaction.
func (r *ScheduleRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, schedule *models.Schedule) error {
	return r.create(ctx, tx, schedule)
}

func (r *ScheduleRepository) create(ctx context.Context, ext sqlx.ExtContext, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now
	if schedule.PendingBy == nil {
		schedule.PendingBy = pq.StringArray{}
	}
	if schedule.AgreedBy == nil {
		schedule.AgreedBy = pq.StringArray{}
	}

	const query = `INSERT INTO schedules (id, routine_id, slot_position, teacher_id, course_id, student_ids, starts_at, duration_minutes, type, status, requires_acceptance, pending_by, agreed_by, sequence, created_at, updated_at)
		VALUES (:id, :routine_id, :slot_position, :teacher_id, :course_id, :student_ids, :starts_at, :duration_minutes, :type, :status, :requires_acceptance, :pending_by, :agreed_by, :sequence, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, schedule); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// FindByID loads an occurrence by id.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1`, scheduleColumns)
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// List returns occurrences with optional filtering and pagination.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error) {
	base := "FROM schedules WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(student_ids)", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.RoutineID != "" {
		conditions = append(conditions, fmt.Sprintf("routine_id = $%d", len(args)+1))
		args = append(args, filter.RoutineID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("starts_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("starts_at < $%d", len(args)+1))
		args = append(args, *filter.To)
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY starts_at ASC LIMIT %d OFFSET %d", scheduleColumns, base, size, offset)
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	return schedules, total, nil
}

// FindOverlapping returns scheduled occurrences whose [starts_at, ends_at)
// interval overlaps [start, end) and which involve the teacher or any of the
// given students. excludeID skips the occurrence being re-checked; an empty
// excludeID is bound as NULL so the uuid column never sees an empty string.
func (r *ScheduleRepository) FindOverlapping(ctx context.Context, teacherID string, studentIDs []string, start, end time.Time, excludeID string) ([]models.Schedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE status = 'scheduled'
		  AND ($1::uuid IS NULL OR id <> $1)
		  AND starts_at < $2
		  AND starts_at + make_interval(mins => duration_minutes) > $3
		  AND (teacher_id = $4 OR student_ids && $5)`
	exclude := sql.NullString{String: excludeID, Valid: excludeID != ""}
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, exclude, end, start, teacherID, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("find overlapping schedules: %w", err)
	}
	return schedules, nil
}

// CountDemoTaken returns the number of demo occurrences in scheduled or
// completed status for the teacher-student pair. Cancelled occurrences do not
// count against the cap.
func (r *ScheduleRepository) CountDemoTaken(ctx context.Context, teacherID, studentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM schedules
		WHERE type = 'demo' AND status IN ('scheduled', 'completed') AND teacher_id = $1 AND $2 = ANY(student_ids)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, teacherID, studentID); err != nil {
		return 0, fmt.Errorf("count demo schedules: %w", err)
	}
	return count, nil
}

// MaxDemoSequence returns the highest demo sequence number recorded for the
// teacher-student pair, 0 when none exists.
func (r *ScheduleRepository) MaxDemoSequence(ctx context.Context, teacherID, studentID string) (int, error) {
	const query = `SELECT COALESCE(MAX(sequence), 0) FROM schedules
		WHERE type = 'demo' AND teacher_id = $1 AND $2 = ANY(student_ids)`
	var max int
	if err := r.db.GetContext(ctx, &max, query, teacherID, studentID); err != nil {
		return 0, fmt.Errorf("max demo sequence: %w", err)
	}
	return max, nil
}

// Save persists the mutable occurrence fields.
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	return r.save(ctx, r.db, schedule)
}

// SaveWithTx is Save inside an existing transaction.
func (r *ScheduleRepository) SaveWithTx(ctx context.Context, tx *sqlx.Tx, schedule *models.Schedule) error {
	return r.save(ctx, tx, schedule)
}

func (r *ScheduleRepository) save(ctx context.Context, ext sqlx.ExtContext, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedules SET student_ids = :student_ids, starts_at = :starts_at, duration_minutes = :duration_minutes, status = :status, pending_by = :pending_by, agreed_by = :agreed_by, sequence = :sequence, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, schedule); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// ListStartingBetween returns scheduled occurrences starting within
// [from, to), used by the reminder pass.
func (r *ScheduleRepository) ListStartingBetween(ctx context.Context, from, to time.Time) ([]models.Schedule, error) {
	const query = `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE status = 'scheduled' AND starts_at >= $1 AND starts_at < $2 ORDER BY starts_at ASC`
	var schedules []models.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, from, to); err != nil {
		return nil, fmt.Errorf("list upcoming schedules: %w", err)
	}
	return schedules, nil
}
