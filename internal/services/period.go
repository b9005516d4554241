package services

import (
	"time"

	"chatsync/internal/models"
)

// PeriodWindow returns the half-open window [start, end) of the period containing now,
// computed in loc and returned in UTC. Weeks are ISO weeks starting on Monday.
func PeriodWindow(period models.PeriodType, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	y, m, d := t.Date()

	var start, end time.Time
	switch period {
	case models.PeriodDaily:
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	case models.PeriodWeekly:
		sinceMonday := (int(t.Weekday()) + 6) % 7
		start = time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 7)
	case models.PeriodMonthly:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	case models.PeriodAnnual:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, ErrInvalidPeriod
	}
	return start.UTC(), end.UTC(), nil
}
