package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"finplan/internal/core"
	"finplan/internal/storage"
)

type ThresholdLevel int

const (
	LevelNone ThresholdLevel = iota
	LevelNear
	LevelExceeded
)

func (l ThresholdLevel) String() string {
	switch l {
	case LevelNear:
		return "near"
	case LevelExceeded:
		return "exceeded"
	default:
		return "none"
	}
}

var (
	nearLimitRatio = decimal.New(9, -1)
	fullRatio      = decimal.NewFromInt(1)
	hundred        = decimal.NewFromInt(100)
)

// ThresholdResult describes one evaluated period.
type ThresholdResult struct {
	Period       Period
	Limit        core.BudgetLimit
	Spent        Spending
	Ratio        decimal.Decimal
	Level        ThresholdLevel
	Notification *core.Notification // nil when nothing was stored
}

// BudgetChecker compares period spending against budget limits and emits alerts.
// Limits are owned by other flows, so every check reads the current limit through
// the caller's transaction, next to the spending totals it is compared with.
type BudgetChecker struct {
	aggregate *ExpenseAggregate
	notifier  *Notifier
}

func NewBudgetChecker(aggregate *ExpenseAggregate, notifier *Notifier) *BudgetChecker {
	if aggregate == nil {
		aggregate = DefaultExpenseAggregate()
	}
	return &BudgetChecker{aggregate: aggregate, notifier: notifier}
}

// lookupLimit returns the limit for p; found is false when none is defined.
func lookupLimit(ctx context.Context, q storage.Queries, p Period) (core.BudgetLimit, bool, error) {
	l, err := q.GetBudgetLimit(ctx, p.ProfileID, p.CategoryID, p.Month, p.Year)
	switch {
	case err == nil:
		return l, true, nil
	case errors.Is(err, core.ErrNotFound):
		return core.BudgetLimit{}, false, nil
	default:
		return core.BudgetLimit{}, false, fmt.Errorf("get budget limit: %w", err)
	}
}

// Check evaluates a single period. Without a limit the result has LevelNone.
func (c *BudgetChecker) Check(ctx context.Context, q storage.Queries, p Period) (ThresholdResult, error) {
	res := ThresholdResult{Period: p}

	limit, found, err := lookupLimit(ctx, q, p)
	if err != nil {
		return res, err
	}
	if !found || limit.Amount.Cents <= 0 {
		return res, nil
	}
	res.Limit = limit

	res.Spent, err = c.aggregate.Total(ctx, q, p)
	if err != nil {
		return res, err
	}

	res.Ratio = res.Spent.Total.Decimal().Div(limit.Amount.Decimal())
	switch {
	case res.Ratio.GreaterThanOrEqual(fullRatio):
		res.Level = LevelExceeded
	case res.Ratio.GreaterThanOrEqual(nearLimitRatio):
		res.Level = LevelNear
	default:
		return res, nil
	}

	n, stored, err := c.notifier.Emit(ctx, q, thresholdNotification(res))
	if err != nil {
		return res, err
	}
	if stored {
		res.Notification = &n
	}

	slog.InfoContext(ctx, "Budget threshold reached",
		"profile_id", p.ProfileID,
		"category_id", p.CategoryID,
		"period", p.String(),
		"level", res.Level.String(),
		"spent_cents", res.Spent.Total.Cents,
		"limit_cents", limit.Amount.Cents,
		"notified", stored)

	return res, nil
}

// CheckExpense evaluates the category limit and then the profile-wide limit for a
// month in which an expense was recorded. It returns the notifications it stored.
func (c *BudgetChecker) CheckExpense(ctx context.Context, q storage.Queries, profileID, categoryID int64, month, year int) ([]core.Notification, error) {
	periods := []Period{{ProfileID: profileID, CategoryID: categoryID, Month: month, Year: year}}
	if categoryID != 0 {
		periods = append(periods, Period{ProfileID: profileID, Month: month, Year: year})
	}

	var out []core.Notification
	for _, p := range periods {
		res, err := c.Check(ctx, q, p)
		if err != nil {
			return nil, err
		}
		if res.Notification != nil {
			out = append(out, *res.Notification)
		}
	}
	return out, nil
}

func thresholdNotification(r ThresholdResult) core.Notification {
	scope := fmt.Sprintf("category %d budget", r.Period.CategoryID)
	if r.Period.CategoryID == 0 {
		scope = "total budget"
	}

	n := core.Notification{
		ProfileID: r.Period.ProfileID,
		Kind:      core.KindBudget,
	}
	if r.Level == LevelExceeded {
		n.Type = core.NotificationWarning
		n.Title = "Budget exceeded"
		n.Message = fmt.Sprintf("Spent %s of the %s of %s for %s",
			r.Spent.Total, scope, r.Limit.Amount, r.Period)
		return n
	}

	n.Type = core.NotificationInfo
	n.Title = "Budget near limit"
	n.Message = fmt.Sprintf("The %s for %s is at %s%% (%s of %s)",
		scope, r.Period, r.Ratio.Mul(hundred).Floor().String(), r.Spent.Total, r.Limit.Amount)
	return n
}
