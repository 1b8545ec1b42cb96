package service

import (
	"time"

	appErrors "github.com/tutorhive/tutorhive-api/pkg/errors"
)

// NextOccurrence computes the next instant at or after from that falls on the
// given weekday at hour:minute in the given timezone. When from itself matches
// exactly, from is returned: callers advance by a week explicitly after
// materializing an occurrence.
//
// Weekday follows time.Weekday numbering, 0=Sunday..6=Saturday. The wall-clock
// time is rebuilt through time.Date in loc, so a DST shift moves the instant
// with the local clock rather than by a fixed 168 hours.
func NextOccurrence(weekday time.Weekday, hour, minute int, loc *time.Location, from time.Time) (time.Time, error) {
	if weekday < time.Sunday || weekday > time.Saturday {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "weekday must be between 0 and 6")
	}
	if hour < 0 || hour > 23 {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "hour must be between 0 and 23")
	}
	if minute < 0 || minute > 59 {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "minute must be between 0 and 59")
	}
	if loc == nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "timezone is required")
	}

	local := from.In(loc)
	days := (int(weekday) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day()+days, hour, minute, 0, 0, loc)
	if candidate.Before(from) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+days+7, hour, minute, 0, 0, loc)
	}
	return candidate, nil
}

// NextWeek returns the occurrence exactly one week after due, keeping the
// wall-clock time in loc across DST boundaries.
func NextWeek(due time.Time, loc *time.Location) time.Time {
	local := due.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+7, local.Hour(), local.Minute(), 0, 0, loc)
}
