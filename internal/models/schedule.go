package models

import (
	"time"

	"github.com/lib/pq"
)

// ScheduleType distinguishes trial classes from regular ones.
type ScheduleType string

const (
	ScheduleTypeDemo    ScheduleType = "demo"
	ScheduleTypeRegular ScheduleType = "regular"
)

// ScheduleStatus is the lifecycle state of one concrete class occurrence.
type ScheduleStatus string

const (
	ScheduleStatusProposed  ScheduleStatus = "proposed"
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// Schedule is one concrete, dated class event. RoutineID/SlotPosition are set
// when the occurrence was materialized from a recurring routine.
type Schedule struct {
	ID                 string         `db:"id" json:"id"`
	RoutineID          *string        `db:"routine_id" json:"routine_id,omitempty"`
	SlotPosition       *int           `db:"slot_position" json:"slot_position,omitempty"`
	TeacherID          string         `db:"teacher_id" json:"teacher_id"`
	CourseID           string         `db:"course_id" json:"course_id"`
	StudentIDs         pq.StringArray `db:"student_ids" json:"student_ids"`
	StartsAt           time.Time      `db:"starts_at" json:"starts_at"`
	DurationMinutes    int            `db:"duration_minutes" json:"duration_minutes"`
	Type               ScheduleType   `db:"type" json:"type"`
	Status             ScheduleStatus `db:"status" json:"status"`
	RequiresAcceptance bool           `db:"requires_acceptance" json:"requires_acceptance"`
	PendingBy          pq.StringArray `db:"pending_by" json:"pending_by"`
	AgreedBy           pq.StringArray `db:"agreed_by" json:"agreed_by"`
	Sequence           *int           `db:"sequence" json:"sequence,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// EndsAt returns the exclusive end of the occurrence interval.
func (s *Schedule) EndsAt() time.Time {
	return s.StartsAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// HasStudent reports whether id is a current participant.
func (s *Schedule) HasStudent(id string) bool {
	for _, p := range s.StudentIDs {
		if p == id {
			return true
		}
	}
	return false
}

// ScheduleFilter describes query params for listing schedules.
type ScheduleFilter struct {
	TeacherID string
	StudentID string
	CourseID  string
	RoutineID string
	Status    string
	Type      string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// BookedOccurrence is a compact view of an existing scheduled occurrence that
// collides with a candidate interval. Returned inside conflict errors so the
// caller can show which class is in the way.
type BookedOccurrence struct {
	ScheduleID string    `db:"id" json:"schedule_id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	StartsAt   time.Time `db:"starts_at" json:"starts_at"`
	EndsAt     time.Time `db:"ends_at" json:"ends_at"`
}

// ConflictReport is the Conflict Checker verdict for one candidate interval.
// Teacher conflict takes priority: when set, the occurrence is blocked
// regardless of student availability.
type ConflictReport struct {
	TeacherConflict  bool                          `json:"teacher_conflict"`
	StudentConflicts map[string][]BookedOccurrence `json:"student_conflicts,omitempty"`
	TeacherBusy      []BookedOccurrence            `json:"teacher_busy,omitempty"`
}

// HasConflict reports whether any participant is double-booked.
func (r *ConflictReport) HasConflict() bool {
	return r.TeacherConflict || len(r.StudentConflicts) > 0
}

// ConflictedStudents returns the ids of students that are double-booked.
func (r *ConflictReport) ConflictedStudents() []string {
	ids := make([]string, 0, len(r.StudentConflicts))
	for id := range r.StudentConflicts {
		ids = append(ids, id)
	}
	return ids
}

// FreeStudents filters candidates down to those without a conflict.
func (r *ConflictReport) FreeStudents(candidates []string) []string {
	free := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if _, busy := r.StudentConflicts[id]; !busy {
			free = append(free, id)
		}
	}
	return free
}
