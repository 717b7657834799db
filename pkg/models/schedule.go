package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard 5-field cron format (minute hour day month weekday).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, expr, err)
	}

	return schedule, nil
}

// NextRun returns the first occurrence of expr strictly after from,
// evaluated in local time.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}

	return schedule.Next(from.Local()), nil
}
