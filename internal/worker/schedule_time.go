package worker

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleTime is the local time of day the daily run fires.
type ScheduleTime struct {
	Hour   int
	Minute int
}

func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format %q (expected HH:MM): %w", s, err)
	}
	return ScheduleTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// reached reports whether now is at or past st on now's calendar day.
func (st ScheduleTime) reached(now time.Time) bool {
	return now.Hour() > st.Hour || (now.Hour() == st.Hour && now.Minute() >= st.Minute)
}

// Next returns the first instant at or after now matching st, in now's location.
func (st ScheduleTime) Next(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
	if t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
