package services

import (
	"context"
	"fmt"
	"log/slog"

	"finplan/internal/core"
	"finplan/internal/storage"
)

// ReminderService warns profiles about obligations coming due in the next few days.
type ReminderService struct {
	store     storage.Store
	notifier  *Notifier
	publisher Publisher
	leadDays  int
}

// NewReminderService creates a reminder service. leadDays <= 0 disables reminders.
func NewReminderService(store storage.Store, notifier *Notifier, publisher Publisher, leadDays int) *ReminderService {
	return &ReminderService{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		leadDays:  leadDays,
	}
}

func reminderMessage(o core.RecurringObligation) string {
	verb := "due"
	if o.Direction == core.Income {
		verb = "expected"
	}
	return fmt.Sprintf("%s (%s) is %s on %s [obligation #%d]", o.Description, o.Amount, verb, o.NextRun, o.ID)
}

// SendUpcoming stores a reminder for each active obligation whose next run falls
// after today and within the lead window. Identical reminders are deduplicated,
// so repeated runs on the same day send each reminder once.
func (r *ReminderService) SendUpcoming(ctx context.Context, today core.Date) (int, error) {
	if r.leadDays <= 0 {
		return 0, nil
	}

	obligations, err := r.store.ListActiveObligations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active obligations: %w", err)
	}

	horizon := core.Date{Time: today.AddDate(0, 0, r.leadDays)}
	sent := 0
	var firstErr error

	for _, o := range obligations {
		if !o.NextRun.After(today) || o.NextRun.After(horizon) {
			continue
		}

		var stored core.Notification
		var ok bool
		err := r.store.InTx(ctx, func(ctx context.Context, q storage.Queries) error {
			var err error
			stored, ok, err = r.notifier.Emit(ctx, q, core.Notification{
				ProfileID: o.ProfileID,
				Title:     "Upcoming obligation",
				Message:   reminderMessage(o),
				Type:      core.NotificationInfo,
				Kind:      core.KindReminder,
			})
			return err
		})
		if err != nil {
			slog.ErrorContext(ctx, "Failed to store reminder",
				"obligation_id", o.ID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}

		sent++
		publishAll(ctx, r.publisher, []core.Notification{stored})
	}

	if sent > 0 {
		slog.InfoContext(ctx, "Upcoming obligation reminders sent",
			"sent", sent,
			"lead_days", r.leadDays)
	}
	return sent, firstErr
}
