// Package services provides the scheduling, budget and notification logic of the
// recurring-obligation core.
//
// This file implements the Strategy Pattern for next-occurrence computation.
// Each frequency (weekly, monthly, yearly) has its own strategy that knows how
// to step from one occurrence to the next.
package services

import (
	"fmt"
	"sync"

	"finplan/internal/core"
)

// NextRunStrategy computes the occurrence that follows prev.
// anchor is the schedule's start date; calendar strategies take their day-of-month from it.
type NextRunStrategy interface {
	Next(prev, anchor core.Date) core.Date
}

// WeeklyStrategy adds seven days.
type WeeklyStrategy struct{}

func (WeeklyStrategy) Next(prev, anchor core.Date) core.Date {
	return core.Advance(prev, core.Weekly, anchor)
}

// MonthlyStrategy adds one calendar month, clamping the anchor day to the month length.
type MonthlyStrategy struct{}

func (MonthlyStrategy) Next(prev, anchor core.Date) core.Date {
	return core.Advance(prev, core.Monthly, anchor)
}

// YearlyStrategy adds one calendar year; Feb 29 anchors land on Feb 28 in common years.
type YearlyStrategy struct{}

func (YearlyStrategy) Next(prev, anchor core.Date) core.Date {
	return core.Advance(prev, core.Yearly, anchor)
}

var (
	strategiesMu      sync.RWMutex
	nextRunStrategies = map[core.Frequency]NextRunStrategy{
		core.Weekly:  WeeklyStrategy{},
		core.Monthly: MonthlyStrategy{},
		core.Yearly:  YearlyStrategy{},
	}
)

// GetNextRunStrategy returns the strategy registered for a frequency.
func GetNextRunStrategy(frequency core.Frequency) (NextRunStrategy, error) {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()

	s, ok := nextRunStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", core.ErrValidation, core.ErrInvalidFrequency, frequency)
	}
	return s, nil
}

// RegisterNextRunStrategy installs or replaces the strategy for a frequency.
func RegisterNextRunStrategy(frequency core.Frequency, s NextRunStrategy) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	nextRunStrategies[frequency] = s
}

// NextOccurrence returns the occurrence after o.NextRun on o's schedule.
func NextOccurrence(o core.RecurringObligation) (core.Date, error) {
	s, err := GetNextRunStrategy(o.Frequency)
	if err != nil {
		return core.Date{}, err
	}
	return s.Next(o.NextRun, o.StartDate), nil
}
