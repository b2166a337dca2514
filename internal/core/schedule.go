package core

import (
	"fmt"
	"time"
)

// MaxSkipIterations bounds how many periods SkipPastRuns may advance.
const MaxSkipIterations = 10000

// NextRun returns the occurrence following d for the given frequency.
//
// MONTHLY and YEARLY keep the day-of-month of d, clamped to the last day of the
// target month: Jan 31 + 1 month is Feb 29 in 2024 and Feb 28 in 2023.
func NextRun(d Date, f Frequency) Date {
	return Advance(d, f, d)
}

// Advance returns the occurrence following prev, taking the day-of-month from anchor.
// Anchoring on the schedule's start date keeps month-end schedules from drifting:
// Jan 31 -> Feb 29 -> Mar 31. Unknown frequencies return prev unchanged.
func Advance(prev Date, f Frequency, anchor Date) Date {
	switch f {
	case Weekly:
		return Date{Time: prev.AddDate(0, 0, 7)}
	case Monthly:
		return addMonthsClamped(prev, 1, anchor.Day())
	case Yearly:
		return addMonthsClamped(prev, 12, anchor.Day())
	default:
		return prev
	}
}

func addMonthsClamped(d Date, months, day int) Date {
	// First of the target month never overflows.
	first := time.Date(d.Year(), time.Month(d.Month())+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SkipPastRuns advances next along the schedule anchored at anchor until it is on or after today.
// It fails when more than MaxSkipIterations periods would be needed.
func SkipPastRuns(next Date, f Frequency, anchor, today Date) (Date, error) {
	if !f.Valid() {
		return next, fmt.Errorf("%w: %w %q", ErrValidation, ErrInvalidFrequency, f)
	}
	for i := 0; next.Before(today); i++ {
		if i >= MaxSkipIterations {
			return next, fmt.Errorf("%w: start date %s is more than %d periods in the past", ErrValidation, anchor, MaxSkipIterations)
		}
		next = Advance(next, f, anchor)
	}
	return next, nil
}
