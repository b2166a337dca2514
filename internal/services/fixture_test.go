package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finplan/internal/core"
	"finplan/internal/storage/memory"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []core.Notification
	err  error
}

func (p *recordingPublisher) PublishNotification(_ context.Context, n core.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fixture struct {
	store     *memory.Store
	now       time.Time
	notifier  *Notifier
	budgets   *BudgetChecker
	processor *RecurringProcessor
	publisher *recordingPublisher
}

func newFixture(t *testing.T, now time.Time, opts ...NotifierOption) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		now:       now,
		publisher: &recordingPublisher{},
	}
	clock := core.ClockFunc(func() time.Time { return f.now })
	f.notifier = NewNotifier(NewDeduplicator(DefaultDedupeWindow), clock, opts...)
	f.budgets = NewBudgetChecker(DefaultExpenseAggregate(), f.notifier)
	f.processor = NewRecurringProcessor(f.store, f.budgets, f.notifier, f.publisher)
	return f
}

func (f *fixture) createObligation(t *testing.T, o core.RecurringObligation) core.RecurringObligation {
	t.Helper()
	if o.NextRun.IsZero() {
		o.NextRun = o.StartDate
	}
	o.Active = true
	id, err := f.store.CreateObligation(context.Background(), o)
	if err != nil {
		t.Fatalf("CreateObligation: %v", err)
	}
	got, err := f.store.GetObligation(context.Background(), id)
	if err != nil {
		t.Fatalf("GetObligation: %v", err)
	}
	return got
}

func (f *fixture) notifications(t *testing.T, profileID int64) []core.Notification {
	t.Helper()
	list, err := f.store.ListNotifications(context.Background(), profileID)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	return list
}

func (f *fixture) movements(t *testing.T, profileID int64) []core.LedgerMovement {
	t.Helper()
	list, err := f.store.ListMovements(context.Background(), profileID)
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	return list
}

func cents(c int64) core.Money { return core.Money{Cents: c} }

var errInjected = errors.New("injected failure")
