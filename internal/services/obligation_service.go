package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finplan/internal/core"
	"finplan/internal/storage"
)

// ObligationService registers new recurring obligations.
type ObligationService struct {
	store storage.Store
	clock core.Clock
}

func NewObligationService(store storage.Store, clock core.Clock) *ObligationService {
	return &ObligationService{store: store, clock: clock}
}

// Create validates o, initializes its schedule and stores it.
//
// With skipPastRuns, a start date in the past does not backfill: NextRun is moved
// forward along the schedule to the first occurrence on or after today.
func (s *ObligationService) Create(ctx context.Context, o core.RecurringObligation, skipPastRuns bool) (core.RecurringObligation, error) {
	if err := o.Validate(); err != nil {
		return core.RecurringObligation{}, err
	}
	if err := s.checkReserve(ctx, o); err != nil {
		return core.RecurringObligation{}, err
	}

	o.ID = 0
	o.NextRun = o.StartDate
	o.LastRun = core.Date{}
	o.Active = true
	o.Version = 1

	today := core.DateOf(s.clock.Now())
	if skipPastRuns && o.StartDate.Before(today) {
		next, err := core.SkipPastRuns(o.StartDate, o.Frequency, o.StartDate, today)
		if err != nil {
			return core.RecurringObligation{}, err
		}
		o.NextRun = next
	}
	if !o.EndDate.IsZero() && o.NextRun.After(o.EndDate) {
		o.Active = false
	}

	if err := o.CheckSchedule(); err != nil {
		return core.RecurringObligation{}, err
	}

	id, err := s.store.CreateObligation(ctx, o)
	if err != nil {
		return core.RecurringObligation{}, fmt.Errorf("create obligation: %w", err)
	}
	o.ID = id

	slog.InfoContext(ctx, "Recurring obligation created",
		"obligation_id", o.ID,
		"profile_id", o.ProfileID,
		"frequency", o.Frequency,
		"next_run", o.NextRun.String(),
		"active", o.Active)

	return o, nil
}

// checkReserve rejects a linked reserve goal that is missing or owned by another profile.
func (s *ObligationService) checkReserve(ctx context.Context, o core.RecurringObligation) error {
	if !o.HasReserve() {
		return nil
	}
	goal, err := s.store.GetReserveGoal(ctx, o.LinkedReserveID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return fmt.Errorf("%w: linked reserve %d does not exist", core.ErrValidation, o.LinkedReserveID)
	case err != nil:
		return fmt.Errorf("get reserve goal: %w", err)
	case goal.ProfileID != o.ProfileID:
		return fmt.Errorf("%w: linked reserve %d belongs to another profile", core.ErrValidation, o.LinkedReserveID)
	}
	return nil
}
