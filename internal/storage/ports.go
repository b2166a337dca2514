package storage

import (
	"context"

	"finplan/internal/core"
)

// Repository ports. Every method must be safe to call from inside InTx, where the
// receiver is bound to the running transaction.
type (
	ObligationRepository interface {
		GetObligation(ctx context.Context, id int64) (core.RecurringObligation, error)
		// UpdateObligationSchedule writes LastRun, NextRun and Active when o.Version still
		// matches the stored row, then bumps the version. A stale version yields core.ErrConflict.
		UpdateObligationSchedule(ctx context.Context, o core.RecurringObligation) (core.RecurringObligation, error)
	}

	LedgerRepository interface {
		// AppendMovement stores a movement. A second movement for the same
		// (ObligationID, Date) yields core.ErrDuplicateOccurrence.
		AppendMovement(ctx context.Context, m core.LedgerMovement) (int64, error)
		// SumExpenses totals EXPENSE movements dated in the given month.
		SumExpenses(ctx context.Context, profileID, categoryID int64, month, year int) (core.Money, error)
	}

	InstallmentRepository interface {
		// SumInstallments totals deferred installment charges accrued in the given month.
		SumInstallments(ctx context.Context, profileID, categoryID int64, month, year int) (core.Money, error)
	}

	BudgetRepository interface {
		// GetBudgetLimit returns core.ErrNotFound when no limit is defined for the period.
		GetBudgetLimit(ctx context.Context, profileID, categoryID int64, month, year int) (core.BudgetLimit, error)
	}

	ReserveRepository interface {
		GetReserveGoal(ctx context.Context, id int64) (core.ReserveGoal, error)
		SetReserveAmount(ctx context.Context, id int64, amount core.Money) error
	}

	NotificationRepository interface {
		InsertNotification(ctx context.Context, n core.Notification) error
		// LatestNotification returns the most recent notification for the profile with exactly
		// this message, or core.ErrNotFound.
		LatestNotification(ctx context.Context, profileID int64, message string) (core.Notification, error)
	}

	// Queries is the set of operations available inside one unit of work.
	Queries interface {
		ObligationRepository
		LedgerRepository
		InstallmentRepository
		BudgetRepository
		ReserveRepository
		NotificationRepository
	}

	// Store is the full persistence port of the scheduler core.
	Store interface {
		Queries

		CreateObligation(ctx context.Context, o core.RecurringObligation) (int64, error)
		// ListDueObligations returns active obligations with NextRun on or before today.
		ListDueObligations(ctx context.Context, today core.Date) ([]core.RecurringObligation, error)
		ListActiveObligations(ctx context.Context) ([]core.RecurringObligation, error)

		// InTx runs fn in one transaction. Any error from fn rolls back every write made through q.
		InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error

		Close() error
	}

	// Seeder writes the records that external flows own. Used by tests and local tooling.
	Seeder interface {
		CreateBudgetLimit(ctx context.Context, l core.BudgetLimit) (int64, error)
		CreateInstallmentCharge(ctx context.Context, c core.DeferredInstallmentCharge) (int64, error)
		CreateReserveGoal(ctx context.Context, g core.ReserveGoal) (int64, error)
		ListMovements(ctx context.Context, profileID int64) ([]core.LedgerMovement, error)
		ListNotifications(ctx context.Context, profileID int64) ([]core.Notification, error)
	}
)
