package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tutorhive/tutorhive-api/internal/models"
	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
	"github.com/tutorhive/tutorhive-api/pkg/export"
	"github.com/tutorhive/tutorhive-api/pkg/feed"
)

type exportScheduleStore interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, int, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ExportService renders a user's upcoming timetable as CSV or PDF, either for
// an authenticated download or through a long-lived signed feed link.
type ExportService struct {
	schedules exportScheduleStore
	users     userReader
	courses   courseReader
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	signer    *feed.Signer
	logger    *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(schedules exportScheduleStore, users userReader, courses courseReader, signer *feed.Signer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		schedules: schedules,
		users:     users,
		courses:   courses,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		signer:    signer,
		logger:    logger,
	}
}

// Timetable renders the user's classes for the coming weeks in the requested
// format. Returns the rendered bytes and the content type.
func (s *ExportService) Timetable(ctx context.Context, userID, format string, weeks int) ([]byte, string, error) {
	if weeks <= 0 {
		weeks = 4
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	now := time.Now().UTC()
	to := now.AddDate(0, 0, 7*weeks)
	filter := models.ScheduleFilter{From: &now, To: &to, PageSize: 500}
	if user.Role == models.RoleTeacher {
		filter.TeacherID = userID
	} else {
		filter.StudentID = userID
	}
	schedules, _, err := s.schedules.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}

	dataset := s.buildDataset(ctx, schedules)
	switch format {
	case "csv":
		raw, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return raw, "text/csv", nil
	case "pdf":
		raw, err := s.pdf.Render(dataset, fmt.Sprintf("Timetable for %s", user.FullName))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return raw, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// FeedLink mints a signed feed token the user can paste into a calendar app.
func (s *ExportService) FeedLink(userID, format string) (string, time.Time, error) {
	if format != "csv" && format != "pdf" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	token, expiresAt, err := s.signer.Generate(userID, format)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign feed link")
	}
	return token, expiresAt, nil
}

// TimetableFromToken serves a feed request authenticated only by its token.
func (s *ExportService) TimetableFromToken(ctx context.Context, token string) ([]byte, string, error) {
	userID, format, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid feed token")
	}
	return s.Timetable(ctx, userID, format, 0)
}

func (s *ExportService) buildDataset(ctx context.Context, schedules []models.Schedule) export.Dataset {
	subjects := map[string]string{}
	rows := make([]map[string]string, 0, len(schedules))
	for _, class := range schedules {
		subject, ok := subjects[class.CourseID]
		if !ok {
			if course, err := s.courses.FindByID(ctx, class.CourseID); err == nil {
				subject = course.Subject
			} else {
				s.logger.Warn("failed to resolve course for export", zap.String("course_id", class.CourseID), zap.Error(err))
			}
			subjects[class.CourseID] = subject
		}
		rows = append(rows, map[string]string{
			"Starts":   class.StartsAt.Format(time.RFC3339),
			"Duration": strconv.Itoa(class.DurationMinutes) + "m",
			"Subject":  subject,
			"Type":     string(class.Type),
			"Status":   string(class.Status),
			"Students": strconv.Itoa(len(class.StudentIDs)),
		})
	}
	return export.Dataset{
		Headers: []string{"Starts", "Duration", "Subject", "Type", "Status", "Students"},
		Rows:    rows,
	}
}
