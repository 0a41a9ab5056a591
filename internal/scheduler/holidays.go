package scheduler

import (
	"fmt"
	"strings"
	"time"
)

const holidayLayout = "01-02"

// DefaultHolidays are the fixed-date public holidays used when none are configured.
var DefaultHolidays = []string{"01-01", "05-01", "05-08", "07-14", "08-15", "11-01", "11-11", "12-25"}

// HolidayCalendar reports dates on which no retry should be attempted.
type HolidayCalendar interface {
	IsHoliday(t time.Time) bool
}

// FixedCalendar is a set of recurring MM-DD dates.
type FixedCalendar struct {
	days map[string]struct{}
}

func NewFixedCalendar(days []string) (*FixedCalendar, error) {
	set := make(map[string]struct{}, len(days))
	for _, raw := range days {
		day := strings.TrimSpace(raw)
		if day == "" {
			continue
		}
		if _, err := time.Parse(holidayLayout, day); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: want MM-DD", raw)
		}
		set[day] = struct{}{}
	}
	return &FixedCalendar{days: set}, nil
}

func (c *FixedCalendar) IsHoliday(t time.Time) bool {
	if c == nil {
		return false
	}
	_, ok := c.days[t.Format(holidayLayout)]
	return ok
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
