package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"finplan/internal/core"
	"finplan/internal/storage"
)

func seedLimit(t *testing.T, f *fixture, categoryID, amount int64) {
	t.Helper()
	if _, err := f.store.CreateBudgetLimit(context.Background(), core.BudgetLimit{
		ProfileID: 1, CategoryID: categoryID, Amount: cents(amount), Month: 3, Year: 2024,
	}); err != nil {
		t.Fatalf("CreateBudgetLimit: %v", err)
	}
}

func seedExpense(t *testing.T, f *fixture, categoryID, amount int64, day int) {
	t.Helper()
	if _, err := f.store.AppendMovement(context.Background(), core.LedgerMovement{
		Amount: cents(amount), Direction: core.Expense, Date: core.NewDate(2024, 3, day),
		CategoryID: categoryID, ProfileID: 1, Origin: core.OriginManual,
	}); err != nil {
		t.Fatalf("AppendMovement: %v", err)
	}
}

func check(t *testing.T, f *fixture, p Period) ThresholdResult {
	t.Helper()
	var res ThresholdResult
	err := f.store.InTx(context.Background(), func(ctx context.Context, q storage.Queries) error {
		var err error
		res, err = f.budgets.Check(ctx, q, p)
		return err
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return res
}

func march(categoryID int64) Period {
	return Period{ProfileID: 1, CategoryID: categoryID, Month: 3, Year: 2024}
}

func TestBudgetChecker_CountsLedgerAndInstallments(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
	seedLimit(t, f, 7, 100000)
	seedExpense(t, f, 7, 95000, 15)
	if _, err := f.store.CreateInstallmentCharge(context.Background(), core.DeferredInstallmentCharge{
		Amount: cents(10000), AccrualDate: core.NewDate(2024, 3, 20), CategoryID: 7, ProfileID: 1,
	}); err != nil {
		t.Fatalf("CreateInstallmentCharge: %v", err)
	}

	res := check(t, f, march(7))

	if res.Spent.Total.Cents != 105000 {
		t.Fatalf("total spent = %d, want 105000", res.Spent.Total.Cents)
	}
	if res.Spent.BySource["ledger"].Cents != 95000 || res.Spent.BySource["installments"].Cents != 10000 {
		t.Errorf("unexpected breakdown %+v", res.Spent.BySource)
	}
	if res.Ratio.String() != "1.05" {
		t.Errorf("ratio = %s, want 1.05", res.Ratio)
	}
	if res.Level != LevelExceeded || res.Notification == nil {
		t.Fatalf("expected exceeded with notification, got %+v", res)
	}

	n := res.Notification
	if n.Type != core.NotificationWarning || n.Kind != core.KindBudget {
		t.Errorf("unexpected notification type %s kind %s", n.Type, n.Kind)
	}
	for _, want := range []string{"1050.00", "1000.00", "03/2024"} {
		if !strings.Contains(n.Message, want) {
			t.Errorf("message %q does not contain %q", n.Message, want)
		}
	}
}

func TestBudgetChecker_Levels(t *testing.T) {
	tests := []struct {
		name      string
		spent     int64
		wantLevel ThresholdLevel
		wantType  core.NotificationType
		wantText  string
	}{
		{"below 90%", 89999, LevelNone, "", ""},
		{"exactly 90%", 90000, LevelNear, core.NotificationInfo, "90%"},
		{"95%", 95000, LevelNear, core.NotificationInfo, "95%"},
		{"exactly at limit", 100000, LevelExceeded, core.NotificationWarning, "1000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
			seedLimit(t, f, 7, 100000)
			seedExpense(t, f, 7, tt.spent, 10)

			res := check(t, f, march(7))
			if res.Level != tt.wantLevel {
				t.Fatalf("level = %s, want %s", res.Level, tt.wantLevel)
			}
			if tt.wantLevel == LevelNone {
				if res.Notification != nil || len(f.notifications(t, 1)) != 0 {
					t.Error("no notification expected below 90%")
				}
				return
			}
			if res.Notification == nil {
				t.Fatal("expected notification")
			}
			if res.Notification.Type != tt.wantType {
				t.Errorf("type = %s, want %s", res.Notification.Type, tt.wantType)
			}
			if !strings.Contains(res.Notification.Message, tt.wantText) {
				t.Errorf("message %q does not contain %q", res.Notification.Message, tt.wantText)
			}
		})
	}
}

func TestBudgetChecker_NoLimitIsNoop(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
	seedExpense(t, f, 7, 500000, 10)

	res := check(t, f, march(7))
	if res.Level != LevelNone || res.Notification != nil {
		t.Errorf("expected no-op without a limit, got %+v", res)
	}
}

func TestBudgetChecker_CheckExpenseIncludesProfileLimit(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
	seedLimit(t, f, 7, 100000)
	seedLimit(t, f, 0, 150000)
	seedExpense(t, f, 7, 101000, 10)
	seedExpense(t, f, 8, 50000, 11)

	var got []core.Notification
	err := f.store.InTx(context.Background(), func(ctx context.Context, q storage.Queries) error {
		var err error
		got, err = f.budgets.CheckExpense(ctx, q, 1, 7, 3, 2024)
		return err
	})
	if err != nil {
		t.Fatalf("CheckExpense: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected category and profile alerts, got %d", len(got))
	}
	if !strings.Contains(got[1].Message, "total budget") || !strings.Contains(got[1].Message, "1510.00") {
		t.Errorf("unexpected profile-wide message %q", got[1].Message)
	}
}

func TestBudgetChecker_DedupeIsOptIn(t *testing.T) {
	tests := []struct {
		name   string
		dedupe bool
		want   int
	}{
		{"default repeats alerts", false, 2},
		{"dedupe enabled", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC), WithBudgetDedupe(tt.dedupe))
			seedLimit(t, f, 7, 100000)
			seedExpense(t, f, 7, 120000, 10)

			check(t, f, march(7))
			f.now = f.now.Add(time.Hour)
			check(t, f, march(7))

			if got := len(f.notifications(t, 1)); got != tt.want {
				t.Errorf("stored %d alerts, want %d", got, tt.want)
			}
		})
	}
}

func TestBudgetChecker_ReadsLimitCreatedAfterEarlierCheck(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
	seedExpense(t, f, 7, 95000, 10)

	if res := check(t, f, march(7)); res.Level != LevelNone {
		t.Fatalf("level without limit = %s, want none", res.Level)
	}

	seedLimit(t, f, 7, 100000)

	res := check(t, f, march(7))
	if res.Level != LevelNear || res.Notification == nil {
		t.Fatalf("expected near-limit alert once the limit exists, got level=%s notification=%v", res.Level, res.Notification != nil)
	}
	if !strings.Contains(res.Notification.Message, "95%") {
		t.Errorf("message %q does not contain 95%%", res.Notification.Message)
	}
}

func TestBudgetChecker_ReadsUpdatedLimitInsideTransaction(t *testing.T) {
	f := newFixture(t, time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC))
	seedLimit(t, f, 7, 200000)
	seedExpense(t, f, 7, 95000, 10)

	if res := check(t, f, march(7)); res.Level != LevelNone {
		t.Fatalf("level under a 2000.00 limit = %s, want none", res.Level)
	}

	// the limit is replaced inside this transaction only
	var res ThresholdResult
	err := f.store.InTx(context.Background(), func(ctx context.Context, q storage.Queries) error {
		var err error
		res, err = f.budgets.Check(ctx, &loweredLimit{Queries: q, cents: 100000}, march(7))
		return err
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Level != LevelNear || res.Limit.Amount.Cents != 100000 {
		t.Errorf("expected the limit read in this transaction, got level=%s limit=%d", res.Level, res.Limit.Amount.Cents)
	}
}

// loweredLimit serves a replaced budget limit from within the transaction.
type loweredLimit struct {
	storage.Queries
	cents int64
}

func (l *loweredLimit) GetBudgetLimit(ctx context.Context, profileID, categoryID int64, month, year int) (core.BudgetLimit, error) {
	b, err := l.Queries.GetBudgetLimit(ctx, profileID, categoryID, month, year)
	if err != nil {
		return b, err
	}
	b.Amount = cents(l.cents)
	return b, nil
}
