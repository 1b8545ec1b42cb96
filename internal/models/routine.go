package models

import (
	"time"

	"github.com/lib/pq"
)

// RoutineStatus is the lifecycle state of a recurring plan.
type RoutineStatus string

const (
	RoutineStatusActive   RoutineStatus = "active"
	RoutineStatusPaused   RoutineStatus = "paused"
	RoutineStatusArchived RoutineStatus = "archived"
)

// Routine is a weekly recurring teaching plan. Slots live in routine_slots
// and are loaded alongside the routine row.
//
// While RequiresAcceptance is set and PendingBy is non-empty the routine must
// stay paused; the engine only scans active routines.
type Routine struct {
	ID                 string         `db:"id" json:"id"`
	TeacherID          string         `db:"teacher_id" json:"teacher_id"`
	CourseID           string         `db:"course_id" json:"course_id"`
	Timezone           string         `db:"timezone" json:"timezone"`
	StudentIDs         pq.StringArray `db:"student_ids" json:"student_ids"`
	Status             RoutineStatus  `db:"status" json:"status"`
	RequiresAcceptance bool           `db:"requires_acceptance" json:"requires_acceptance"`
	PendingBy          pq.StringArray `db:"pending_by" json:"pending_by"`
	AcceptedBy         pq.StringArray `db:"accepted_by" json:"accepted_by"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`

	Slots []RoutineSlot `db:"-" json:"slots"`
}

// HasStudent reports whether id is a current member of the routine.
func (r *Routine) HasStudent(id string) bool {
	for _, s := range r.StudentIDs {
		if s == id {
			return true
		}
	}
	return false
}

// RoutineSlot is one weekday+time rule within a routine. Weekday is
// 0=Sunday..6=Saturday, matching time.Weekday. NextDueAt is advanced
// exclusively by the engine and is nil once the routine stops producing
// occurrences.
type RoutineSlot struct {
	ID              string     `db:"id" json:"id"`
	RoutineID       string     `db:"routine_id" json:"routine_id"`
	Position        int        `db:"position" json:"position"`
	Weekday         int        `db:"weekday" json:"weekday"`
	Hour            int        `db:"hour" json:"hour"`
	Minute          int        `db:"minute" json:"minute"`
	DurationMinutes int        `db:"duration_minutes" json:"duration_minutes"`
	NextDueAt       *time.Time `db:"next_due_at" json:"next_due_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// SameTime reports whether two slots share weekday and time-of-day, which is
// the identity used for duplicate collapsing within one routine.
func (s RoutineSlot) SameTime(weekday, hour, minute int) bool {
	return s.Weekday == weekday && s.Hour == hour && s.Minute == minute
}

// DueSlot is the engine's working row: a due routine slot joined with the
// routine fields needed to materialize an occurrence.
type DueSlot struct {
	SlotID          string         `db:"slot_id"`
	RoutineID       string         `db:"routine_id"`
	Position        int            `db:"position"`
	Weekday         int            `db:"weekday"`
	Hour            int            `db:"hour"`
	Minute          int            `db:"minute"`
	DurationMinutes int            `db:"duration_minutes"`
	NextDueAt       time.Time      `db:"next_due_at"`
	TeacherID       string         `db:"teacher_id"`
	CourseID        string         `db:"course_id"`
	Timezone        string         `db:"timezone"`
	StudentIDs      pq.StringArray `db:"student_ids"`
}

// RoutineFilter describes query params for listing routines.
type RoutineFilter struct {
	TeacherID string
	StudentID string
	CourseID  string
	Status    string
	Page      int
	PageSize  int
}
