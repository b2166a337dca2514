package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"finplan/internal/core"
	"finplan/internal/storage"
)

// OccurrenceResult reports what processing one obligation did.
type OccurrenceResult struct {
	ObligationID  int64
	Occurrence    core.Date
	MovementID    int64
	Skipped       bool   // not due anymore when re-read
	Replayed      bool   // movement already existed, only the schedule advanced
	Obligation    core.RecurringObligation
	Notifications []core.Notification
}

// RecurringProcessor fires one occurrence of a due obligation as a single unit of work.
type RecurringProcessor struct {
	store     storage.Store
	budgets   *BudgetChecker
	notifier  *Notifier
	publisher Publisher
}

// NewRecurringProcessor creates a processor. publisher may be nil.
func NewRecurringProcessor(store storage.Store, budgets *BudgetChecker, notifier *Notifier, publisher Publisher) *RecurringProcessor {
	return &RecurringProcessor{
		store:     store,
		budgets:   budgets,
		notifier:  notifier,
		publisher: publisher,
	}
}

// ProcessOccurrence records the occurrence at the obligation's current NextRun:
// ledger movement, reserve contribution, budget alerts and schedule advance all
// commit together or not at all.
func (p *RecurringProcessor) ProcessOccurrence(ctx context.Context, obligationID int64, today core.Date) (OccurrenceResult, error) {
	if p.store == nil || p.budgets == nil || p.notifier == nil {
		return OccurrenceResult{}, fmt.Errorf("processor not properly initialized")
	}

	var res OccurrenceResult
	err := p.store.InTx(ctx, func(ctx context.Context, q storage.Queries) error {
		res = OccurrenceResult{ObligationID: obligationID}

		o, err := q.GetObligation(ctx, obligationID)
		if err != nil {
			return fmt.Errorf("get obligation: %w", err)
		}
		res.Occurrence = o.NextRun
		res.Obligation = o
		if !o.IsDue(today) {
			res.Skipped = true
			return nil
		}

		movementID, err := q.AppendMovement(ctx, core.LedgerMovement{
			Amount:       o.Amount,
			Direction:    o.Direction,
			Date:         o.NextRun,
			CategoryID:   o.CategoryID,
			ProfileID:    o.ProfileID,
			Origin:       core.OriginRecurring,
			ObligationID: o.ID,
		})
		switch {
		case errors.Is(err, core.ErrDuplicateOccurrence):
			// The movement for this date exists already; repair the schedule only.
			res.Replayed = true
			slog.WarnContext(ctx, "Occurrence already recorded, advancing schedule only",
				"obligation_id", o.ID,
				"occurrence", o.NextRun.String())
		case err != nil:
			return fmt.Errorf("append movement: %w", err)
		default:
			res.MovementID = movementID

			if o.HasReserve() {
				n, err := p.contributeToReserve(ctx, q, o)
				if err != nil {
					return err
				}
				res.Notifications = append(res.Notifications, n...)
			}

			if o.Direction == core.Expense && o.HasCategory() {
				n, err := p.budgets.CheckExpense(ctx, q, o.ProfileID, o.CategoryID, o.NextRun.Month(), o.NextRun.Year())
				if err != nil {
					return fmt.Errorf("check budget: %w", err)
				}
				res.Notifications = append(res.Notifications, n...)
			}
		}

		next, err := NextOccurrence(o)
		if err != nil {
			return err
		}
		o.LastRun = o.NextRun
		o.NextRun = next
		if !o.EndDate.IsZero() && o.NextRun.After(o.EndDate) {
			o.Active = false
		}

		updated, err := q.UpdateObligationSchedule(ctx, o)
		if err != nil {
			return fmt.Errorf("advance schedule: %w", err)
		}
		res.Obligation = updated
		return nil
	})
	if err != nil {
		return OccurrenceResult{ObligationID: obligationID}, err
	}

	if !res.Skipped {
		slog.InfoContext(ctx, "Recorded recurring occurrence",
			"obligation_id", obligationID,
			"occurrence", res.Occurrence.String(),
			"next_run", res.Obligation.NextRun.String(),
			"active", res.Obligation.Active,
			"replayed", res.Replayed,
			"notifications", len(res.Notifications))
	}

	publishAll(ctx, p.publisher, res.Notifications)
	return res, nil
}

// contributeToReserve adds the occurrence amount to the linked goal and emits a
// notification when this contribution crosses the target.
func (p *RecurringProcessor) contributeToReserve(ctx context.Context, q storage.Queries, o core.RecurringObligation) ([]core.Notification, error) {
	g, err := q.GetReserveGoal(ctx, o.LinkedReserveID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: linked reserve %d: %w", core.ErrValidation, o.LinkedReserveID, err)
		}
		return nil, fmt.Errorf("get reserve goal: %w", err)
	}

	before := g.CurrentAmount
	after := before.Add(o.Amount)
	if err := q.SetReserveAmount(ctx, g.ID, after); err != nil {
		return nil, fmt.Errorf("update reserve: %w", err)
	}

	if before.Cents >= g.TargetAmount.Cents || after.Cents < g.TargetAmount.Cents {
		return nil, nil
	}

	n, stored, err := p.notifier.Emit(ctx, q, core.Notification{
		ProfileID: g.ProfileID,
		Title:     "Goal reached",
		Message:   fmt.Sprintf("Reserve %q reached its target of %s", g.Name, g.TargetAmount),
		Type:      core.NotificationInfo,
		Kind:      core.KindGoal,
	})
	if err != nil || !stored {
		return nil, err
	}
	return []core.Notification{n}, nil
}
