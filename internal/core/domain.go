package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

const (
	Income  Direction = "INCOME"
	Expense Direction = "EXPENSE"
)

const (
	OriginManual    Origin = "MANUAL"
	OriginRecurring Origin = "RECURRING"
)

type (
	Frequency string
	Direction string
	Origin    string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurringObligation is a planned income or expense that fires on a schedule.
	// Zero values of EndDate, LastRun, CategoryID and LinkedReserveID mean "unset".
	RecurringObligation struct {
		ID              int64
		Description     string
		Amount          Money
		Direction       Direction
		Frequency       Frequency
		StartDate       Date
		EndDate         Date
		LastRun         Date
		NextRun         Date
		Active          bool
		ProfileID       int64
		CategoryID      int64
		LinkedReserveID int64
		Version         int64 // optimistic lock, bumped on every schedule write
	}

	// BudgetLimit caps spending for a profile in one month. CategoryID 0 covers the whole profile.
	BudgetLimit struct {
		ID         int64
		ProfileID  int64
		CategoryID int64
		Amount     Money
		Month      int // 1-12
		Year       int
	}

	LedgerMovement struct {
		ID           int64
		Amount       Money
		Direction    Direction
		Date         Date
		CategoryID   int64
		ProfileID    int64
		Origin       Origin
		ObligationID int64 // 0 for movements not generated by an obligation
	}

	// DeferredInstallmentCharge is one credit-card installment, attributed to its purchase month.
	DeferredInstallmentCharge struct {
		ID          int64
		Amount      Money
		AccrualDate Date
		CategoryID  int64
		ProfileID   int64
	}

	ReserveGoal struct {
		ID            int64
		ProfileID     int64
		Name          string
		CurrentAmount Money
		TargetAmount  Money
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrMissingProfile   = errors.New("missing profile")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day, keeping the wall-clock date of t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// IsEmpty returns true if the date is zero (unset optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

// InPeriod reports whether d falls in the given calendar month.
func (d Date) InPeriod(month, year int) bool {
	return d.Month() == month && d.Year() == year
}

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (d Direction) Valid() bool {
	return d == Income || d == Expense
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

// HasCategory reports whether the obligation is bound to a category.
func (o RecurringObligation) HasCategory() bool { return o.CategoryID != 0 }

// HasReserve reports whether occurrences feed a reserve goal.
func (o RecurringObligation) HasReserve() bool { return o.LinkedReserveID != 0 }

// Validate checks the content fields of an obligation. Schedule fields are owned by the processor.
func (o RecurringObligation) Validate() error {
	if err := o.StartDate.Validate(); err != nil {
		return fmt.Errorf("%w: invalid start date: %v", ErrValidation, err)
	}

	if !o.EndDate.IsZero() {
		if err := o.EndDate.Validate(); err != nil {
			return fmt.Errorf("%w: invalid end date: %v", ErrValidation, err)
		}
		if o.EndDate.Before(o.StartDate) {
			return fmt.Errorf("%w: end date must not be before start date", ErrValidation)
		}
	}

	if !o.Frequency.Valid() {
		return fmt.Errorf("%w: %w %q", ErrValidation, ErrInvalidFrequency, o.Frequency)
	}
	if !o.Direction.Valid() {
		return fmt.Errorf("%w: %w %q", ErrValidation, ErrInvalidDirection, o.Direction)
	}

	if len(strings.TrimSpace(o.Description)) == 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyDescription)
	}
	if len(o.Description) > 200 {
		return fmt.Errorf("%w: description too long (max 200 characters)", ErrValidation)
	}

	if err := o.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if o.ProfileID <= 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingProfile)
	}
	if o.CategoryID < 0 {
		return fmt.Errorf("%w: invalid category id %d", ErrValidation, o.CategoryID)
	}
	if o.LinkedReserveID < 0 {
		return fmt.Errorf("%w: invalid reserve id %d", ErrValidation, o.LinkedReserveID)
	}
	return nil
}

// CheckSchedule verifies the schedule invariants of a stored obligation.
func (o RecurringObligation) CheckSchedule() error {
	if o.NextRun.Before(o.StartDate) {
		return fmt.Errorf("%w: next run %s before start date %s", ErrValidation, o.NextRun, o.StartDate)
	}
	if o.Active && !o.EndDate.IsZero() && o.NextRun.After(o.EndDate) {
		return fmt.Errorf("%w: active obligation next run %s after end date %s", ErrValidation, o.NextRun, o.EndDate)
	}
	if !o.LastRun.IsZero() && o.LastRun.After(o.NextRun) {
		return fmt.Errorf("%w: last run %s after next run %s", ErrValidation, o.LastRun, o.NextRun)
	}
	return nil
}

// IsDue reports whether the obligation must fire for the given day.
func (o RecurringObligation) IsDue(today Date) bool {
	return o.Active && !o.NextRun.After(today)
}

func (l BudgetLimit) Validate() error {
	if l.Month < 1 || l.Month > 12 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidMonth)
	}
	if err := l.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if l.ProfileID <= 0 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingProfile)
	}
	return nil
}

// Reached reports whether the goal balance is at or above its target.
func (g ReserveGoal) Reached() bool {
	return g.CurrentAmount.Cents >= g.TargetAmount.Cents
}
