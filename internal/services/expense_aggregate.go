package services

import (
	"context"
	"fmt"

	"finplan/internal/core"
	"finplan/internal/storage"
)

// Period identifies one budget bucket. CategoryID 0 means every category of the profile.
type Period struct {
	ProfileID  int64
	CategoryID int64
	Month      int
	Year       int
}

func (p Period) String() string {
	return fmt.Sprintf("%02d/%d", p.Month, p.Year)
}

// ExpenseSource contributes spending to a period total.
type ExpenseSource interface {
	Name() string
	Total(ctx context.Context, q storage.Queries, p Period) (core.Money, error)
}

// LedgerExpenses sums EXPENSE movements dated in the period.
type LedgerExpenses struct{}

func (LedgerExpenses) Name() string { return "ledger" }

func (LedgerExpenses) Total(ctx context.Context, q storage.Queries, p Period) (core.Money, error) {
	return q.SumExpenses(ctx, p.ProfileID, p.CategoryID, p.Month, p.Year)
}

// InstallmentExpenses sums deferred credit-card installments accrued in the period.
type InstallmentExpenses struct{}

func (InstallmentExpenses) Name() string { return "installments" }

func (InstallmentExpenses) Total(ctx context.Context, q storage.Queries, p Period) (core.Money, error) {
	return q.SumInstallments(ctx, p.ProfileID, p.CategoryID, p.Month, p.Year)
}

// Spending is the result of an aggregation, with per-source totals for logging.
type Spending struct {
	Total    core.Money
	BySource map[string]core.Money
}

// ExpenseAggregate adds up every registered source for a period.
type ExpenseAggregate struct {
	sources []ExpenseSource
}

func NewExpenseAggregate(sources ...ExpenseSource) *ExpenseAggregate {
	return &ExpenseAggregate{sources: sources}
}

// DefaultExpenseAggregate counts ledger movements and deferred installments.
func DefaultExpenseAggregate() *ExpenseAggregate {
	return NewExpenseAggregate(LedgerExpenses{}, InstallmentExpenses{})
}

func (a *ExpenseAggregate) Total(ctx context.Context, q storage.Queries, p Period) (Spending, error) {
	s := Spending{BySource: make(map[string]core.Money, len(a.sources))}
	for _, src := range a.sources {
		m, err := src.Total(ctx, q, p)
		if err != nil {
			return Spending{}, fmt.Errorf("sum %s expenses: %w", src.Name(), err)
		}
		s.BySource[src.Name()] = m
		s.Total = s.Total.Add(m)
	}
	return s, nil
}
