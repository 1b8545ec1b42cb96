package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
)

type overlapFinder interface {
	FindOverlapping(ctx context.Context, teacherID string, studentIDs []string, start, end time.Time, excludeID string) ([]models.Schedule, error)
}

// ConflictService answers whether a candidate interval double-books the
// teacher or any student. It never mutates state; callers re-run it at every
// transition into scheduled because state may have changed since proposal.
type ConflictService struct {
	schedules overlapFinder
	logger    *zap.Logger
}

// NewConflictService constructs ConflictService.
func NewConflictService(schedules overlapFinder, logger *zap.Logger) *ConflictService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{schedules: schedules, logger: logger}
}

// Check reports, per participant, overlaps between [start, start+duration)
// and existing scheduled occurrences. excludeID skips the occurrence being
// modified so it does not conflict with itself.
func (s *ConflictService) Check(ctx context.Context, teacherID string, studentIDs []string, start time.Time, durationMinutes int, excludeID string) (*models.ConflictReport, error) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	existing, err := s.schedules.FindOverlapping(ctx, teacherID, studentIDs, start, end, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to query overlapping schedules")
	}

	report := &models.ConflictReport{StudentConflicts: make(map[string][]models.BookedOccurrence)}
	for i := range existing {
		occ := &existing[i]
		// The SQL window prefilters; the half-open test decides.
		if !Overlaps(start, end, occ.StartsAt, occ.EndsAt()) {
			continue
		}
		booked := models.BookedOccurrence{
			ScheduleID: occ.ID,
			CourseID:   occ.CourseID,
			TeacherID:  occ.TeacherID,
			StartsAt:   occ.StartsAt,
			EndsAt:     occ.EndsAt(),
		}
		if occ.TeacherID == teacherID {
			report.TeacherConflict = true
			report.TeacherBusy = append(report.TeacherBusy, booked)
		}
		for _, id := range studentIDs {
			if occ.HasStudent(id) {
				report.StudentConflicts[id] = append(report.StudentConflicts[id], booked)
			}
		}
	}
	if len(report.StudentConflicts) == 0 {
		report.StudentConflicts = nil
	}
	return report, nil
}

// Overlaps implements the half-open interval test [a,b) x [c,d).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
