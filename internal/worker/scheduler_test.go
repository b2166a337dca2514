package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"finplan/internal/core"
	"finplan/internal/services"
	"finplan/internal/storage/memory"
)

type harness struct {
	store     *memory.Store
	scheduler *ObligationScheduler
}

func newHarness(t *testing.T, now time.Time, cfg Config) *harness {
	t.Helper()
	store := memory.New()
	clock := core.FixedClock{T: now}
	notifier := services.NewNotifier(services.NewDeduplicator(services.DefaultDedupeWindow), clock)
	budgets := services.NewBudgetChecker(nil, notifier)
	processor := services.NewRecurringProcessor(store, budgets, notifier, nil)
	reminders := services.NewReminderService(store, notifier, nil, 3)

	s, err := NewObligationScheduler(cfg, store, processor, reminders, nil, clock)
	if err != nil {
		t.Fatalf("NewObligationScheduler: %v", err)
	}
	return &harness{store: store, scheduler: s}
}

func (h *harness) add(t *testing.T, o core.RecurringObligation) int64 {
	t.Helper()
	if o.NextRun.IsZero() {
		o.NextRun = o.StartDate
	}
	o.Active = true
	id, err := h.store.CreateObligation(context.Background(), o)
	if err != nil {
		t.Fatalf("CreateObligation: %v", err)
	}
	return id
}

func TestScheduler_RentScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC), Config{})
	id := h.add(t, core.RecurringObligation{
		Description: "Rent", Amount: core.Money{Cents: 20000}, Direction: core.Expense,
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 1, 1), ProfileID: 1, CategoryID: 4,
	})

	res, err := h.scheduler.RunOnce(ctx, TriggerTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Due != 1 || res.Processed != 1 || res.Failed != 0 || res.RunID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	movements, _ := h.store.ListMovements(ctx, 1)
	if len(movements) != 1 {
		t.Fatalf("expected exactly one movement, got %d", len(movements))
	}
	m := movements[0]
	if m.Amount.Cents != 20000 || m.Direction != core.Expense || !m.Date.Equal(core.NewDate(2024, 1, 1)) {
		t.Errorf("unexpected movement %+v", m)
	}

	o, _ := h.store.GetObligation(ctx, id)
	if !o.LastRun.Equal(core.NewDate(2024, 1, 1)) || !o.NextRun.Equal(core.NewDate(2024, 2, 1)) {
		t.Errorf("schedule = last %s next %s, want 2024-01-01 / 2024-02-01", o.LastRun, o.NextRun)
	}
}

func TestScheduler_SecondRunFindsNothingDue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC), Config{Workers: 3})

	for i, f := range []core.Frequency{core.Weekly, core.Monthly, core.Yearly} {
		h.add(t, core.RecurringObligation{
			Description: string(f), Amount: core.Money{Cents: int64(1000 * (i + 1))}, Direction: core.Expense,
			Frequency: f, StartDate: core.NewDate(2024, 3, 15), ProfileID: 1,
		})
	}

	first, err := h.scheduler.RunOnce(ctx, TriggerTick)
	if err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	second, err := h.scheduler.RunOnce(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}

	if first.Processed != 3 || second.Due != 0 {
		t.Errorf("first processed %d, second due %d; want 3 and 0", first.Processed, second.Due)
	}
	movements, _ := h.store.ListMovements(ctx, 1)
	if len(movements) != 3 {
		t.Errorf("expected one movement per obligation, got %d", len(movements))
	}
}

func TestScheduler_ConcurrentRunsProduceOneMovement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC), Config{Workers: 2})
	h.add(t, core.RecurringObligation{
		Description: "Gym", Amount: core.Money{Cents: 3000}, Direction: core.Expense,
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 3, 15), ProfileID: 1,
	})

	results := make(chan RunResult, 2)
	for _, trigger := range []string{TriggerTick, TriggerHTTP} {
		go func() {
			res, err := h.scheduler.RunOnce(ctx, trigger)
			if err != nil {
				t.Errorf("RunOnce: %v", err)
			}
			results <- res
		}()
	}

	var processed int
	for range 2 {
		processed += (<-results).Processed
	}
	if processed != 1 {
		t.Errorf("processed %d occurrences across runs, want 1", processed)
	}
	movements, _ := h.store.ListMovements(ctx, 1)
	if len(movements) != 1 {
		t.Errorf("expected one movement, got %d", len(movements))
	}
}

func TestScheduler_FailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC), Config{Workers: 1})
	for _, name := range []string{"Water", "Power"} {
		h.add(t, core.RecurringObligation{
			Description: name, Amount: core.Money{Cents: 4000}, Direction: core.Expense,
			Frequency: core.Monthly, StartDate: core.NewDate(2024, 3, 15), ProfileID: 1,
		})
	}

	var calls atomic.Int32
	h.store.FailOn = func(op string) error {
		if op == "append_movement" && calls.Add(1) == 1 {
			return errors.New("disk I/O error")
		}
		return nil
	}

	res, err := h.scheduler.RunOnce(ctx, TriggerTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("processed=%d failed=%d, want 1/1", res.Processed, res.Failed)
	}

	// the failed item keeps its schedule and is picked up again
	res, err = h.scheduler.RunOnce(ctx, TriggerTick)
	if err != nil {
		t.Fatalf("retry RunOnce: %v", err)
	}
	if res.Due != 1 || res.Processed != 1 {
		t.Errorf("retry due=%d processed=%d, want 1/1", res.Due, res.Processed)
	}
	movements, _ := h.store.ListMovements(ctx, 1)
	if len(movements) != 2 {
		t.Errorf("expected 2 movements after retry, got %d", len(movements))
	}
}

func TestScheduler_SendsReminders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), Config{})
	h.add(t, core.RecurringObligation{
		Description: "Rent", Amount: core.Money{Cents: 80000}, Direction: core.Expense,
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 3, 3), ProfileID: 1,
	})

	res, err := h.scheduler.RunOnce(ctx, TriggerTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Due != 0 || res.Reminders != 1 {
		t.Errorf("due=%d reminders=%d, want 0/1", res.Due, res.Reminders)
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	h := newHarness(t, time.Now(), Config{RunAt: "06:30"})
	s := h.scheduler

	day := func(d, hh, mm int) time.Time { return time.Date(2024, 3, d, hh, mm, 0, 0, time.UTC) }

	steps := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before slot", day(1, 6, 29), false},
		{"at slot", day(1, 6, 30), true},
		{"same day again", day(1, 6, 31), false},
		{"later same day", day(1, 23, 0), false},
		{"next day before slot", day(2, 0, 10), false},
		{"next day late tick", day(2, 7, 5), true},
	}

	for _, step := range steps {
		if got := s.shouldRun(step.now); got != step.want {
			t.Errorf("%s: shouldRun(%s) = %v, want %v", step.name, step.now.Format(time.RFC3339), got, step.want)
		}
	}
}

func waitForMovements(t *testing.T, store *memory.Store, profileID int64, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		movements, err := store.ListMovements(context.Background(), profileID)
		if err != nil {
			t.Fatalf("ListMovements: %v", err)
		}
		if len(movements) >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d movements, want %d", len(movements), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_StartAfterSlotRunsMissedPass(t *testing.T) {
	now := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, now, Config{RunAt: "06:00", RunOnStartup: false})
	h.add(t, core.RecurringObligation{
		Description: "Rent", Amount: core.Money{Cents: 20000}, Direction: core.Expense,
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 2, 1), ProfileID: 1,
	})

	h.scheduler.Start(context.Background())
	waitForMovements(t, h.store, 1, 1)
	h.scheduler.Shutdown(5 * time.Second)

	if h.scheduler.shouldRun(now.Add(time.Hour)) {
		t.Error("the catch-up pass should claim today's slot")
	}
	if !h.scheduler.shouldRun(now.Add(24 * time.Hour)) {
		t.Error("the next day's slot should still run")
	}
}

func TestScheduler_StartBeforeSlotWaitsForTick(t *testing.T) {
	now := time.Date(2024, 2, 1, 5, 0, 0, 0, time.UTC)
	h := newHarness(t, now, Config{RunAt: "06:00", RunOnStartup: false})
	h.add(t, core.RecurringObligation{
		Description: "Rent", Amount: core.Money{Cents: 20000}, Direction: core.Expense,
		Frequency: core.Monthly, StartDate: core.NewDate(2024, 2, 1), ProfileID: 1,
	})

	h.scheduler.Start(context.Background())
	h.scheduler.Shutdown(5 * time.Second)

	movements, _ := h.store.ListMovements(context.Background(), 1)
	if len(movements) != 0 {
		t.Errorf("expected no movements before the slot, got %d", len(movements))
	}
	if !h.scheduler.shouldRun(now.Add(time.Hour)) {
		t.Error("today's slot should still be open")
	}
}

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ScheduleTime
		wantErr bool
	}{
		{"06:00", ScheduleTime{Hour: 6}, false},
		{"23:59", ScheduleTime{Hour: 23, Minute: 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
		{"06:30xyz", ScheduleTime{}, true},
		{"6:30", ScheduleTime{Hour: 6, Minute: 30}, false},
		{" 07:15 ", ScheduleTime{Hour: 7, Minute: 15}, false},
		{"25:00", ScheduleTime{}, true},
		{"06:30:00", ScheduleTime{}, true},
		{"", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScheduleTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScheduleTime_Next(t *testing.T) {
	st := ScheduleTime{Hour: 6}
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	if got := st.Next(now); !got.Equal(time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("Next() = %s, want next morning", got)
	}
	early := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	if got := st.Next(early); !got.Equal(time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("Next() = %s, want same morning", got)
	}
}

func TestKeyedLock(t *testing.T) {
	l := newKeyedLock()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, 1)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	other, err := l.Lock(ctx, 2)
	if err != nil {
		t.Fatalf("Lock(other key) must not block: %v", err)
	}
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(waitCtx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock(held key) = %v, want deadline exceeded", err)
	}

	unlock()
	again, err := l.Lock(ctx, 1)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()

	if n := l.size(); n != 0 {
		t.Errorf("lock table keeps %d idle keys", n)
	}
}

func TestNewObligationScheduler_RejectsBadRunAt(t *testing.T) {
	store := memory.New()
	clock := core.SystemClock{}
	notifier := services.NewNotifier(nil, clock)
	processor := services.NewRecurringProcessor(store, services.NewBudgetChecker(nil, notifier), notifier, nil)

	if _, err := NewObligationScheduler(Config{RunAt: "25:00"}, store, processor, nil, nil, clock); err == nil {
		t.Error("expected error for invalid run time")
	}
}
