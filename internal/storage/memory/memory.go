// Package memory is an in-process implementation of the storage ports.
// Transactions run against a copy of the state that replaces the live state on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finplan/internal/core"
	"finplan/internal/storage"
)

type state struct {
	nextID        int64
	obligations   map[int64]core.RecurringObligation
	limits        map[int64]core.BudgetLimit
	movements     []core.LedgerMovement
	installments  []core.DeferredInstallmentCharge
	reserves      map[int64]core.ReserveGoal
	notifications []core.Notification
}

func newState() *state {
	return &state{
		obligations: make(map[int64]core.RecurringObligation),
		limits:      make(map[int64]core.BudgetLimit),
		reserves:    make(map[int64]core.ReserveGoal),
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:        s.nextID,
		obligations:   make(map[int64]core.RecurringObligation, len(s.obligations)),
		limits:        make(map[int64]core.BudgetLimit, len(s.limits)),
		movements:     append([]core.LedgerMovement(nil), s.movements...),
		installments:  append([]core.DeferredInstallmentCharge(nil), s.installments...),
		reserves:      make(map[int64]core.ReserveGoal, len(s.reserves)),
		notifications: append([]core.Notification(nil), s.notifications...),
	}
	for k, v := range s.obligations {
		c.obligations[k] = v
	}
	for k, v := range s.limits {
		c.limits[k] = v
	}
	for k, v := range s.reserves {
		c.reserves[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store keeps every record in memory. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex
	st *state

	// FailOn, when set, is consulted before each write inside a transaction and
	// can inject a failure for the named operation.
	FailOn func(op string) error
}

func New() *Store {
	return &Store{st: newState()}
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
)

func (s *Store) Close() error { return nil }

// InTx serializes transactions and applies their writes only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q storage.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &txView{st: work, failOn: s.FailOn}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrPersistence, err)
	}
	s.st = work
	return nil
}

// view runs fn against the live state without transaction semantics.
func (s *Store) view(fn func(v *txView) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txView{st: s.st})
}

func (s *Store) CreateObligation(_ context.Context, o core.RecurringObligation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.st.id()
	if o.Version == 0 {
		o.Version = 1
	}
	s.st.obligations[o.ID] = o
	return o.ID, nil
}

func (s *Store) ListDueObligations(_ context.Context, today core.Date) ([]core.RecurringObligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []core.RecurringObligation
	for _, o := range s.st.obligations {
		if o.IsDue(today) {
			due = append(due, o)
		}
	}
	sortObligations(due)
	return due, nil
}

func (s *Store) ListActiveObligations(_ context.Context) ([]core.RecurringObligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []core.RecurringObligation
	for _, o := range s.st.obligations {
		if o.Active {
			active = append(active, o)
		}
	}
	sortObligations(active)
	return active, nil
}

func sortObligations(list []core.RecurringObligation) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].NextRun.Equal(list[j].NextRun) {
			return list[i].NextRun.Before(list[j].NextRun)
		}
		return list[i].ID < list[j].ID
	})
}

// Queries outside a transaction operate directly on the live state.

func (s *Store) GetObligation(ctx context.Context, id int64) (o core.RecurringObligation, err error) {
	err = s.view(func(v *txView) error { o, err = v.GetObligation(ctx, id); return err })
	return o, err
}

func (s *Store) UpdateObligationSchedule(ctx context.Context, o core.RecurringObligation) (out core.RecurringObligation, err error) {
	err = s.view(func(v *txView) error { out, err = v.UpdateObligationSchedule(ctx, o); return err })
	return out, err
}

func (s *Store) AppendMovement(ctx context.Context, m core.LedgerMovement) (id int64, err error) {
	err = s.view(func(v *txView) error { id, err = v.AppendMovement(ctx, m); return err })
	return id, err
}

func (s *Store) SumExpenses(ctx context.Context, profileID, categoryID int64, month, year int) (sum core.Money, err error) {
	err = s.view(func(v *txView) error { sum, err = v.SumExpenses(ctx, profileID, categoryID, month, year); return err })
	return sum, err
}

func (s *Store) SumInstallments(ctx context.Context, profileID, categoryID int64, month, year int) (sum core.Money, err error) {
	err = s.view(func(v *txView) error { sum, err = v.SumInstallments(ctx, profileID, categoryID, month, year); return err })
	return sum, err
}

func (s *Store) GetBudgetLimit(ctx context.Context, profileID, categoryID int64, month, year int) (l core.BudgetLimit, err error) {
	err = s.view(func(v *txView) error { l, err = v.GetBudgetLimit(ctx, profileID, categoryID, month, year); return err })
	return l, err
}

func (s *Store) GetReserveGoal(ctx context.Context, id int64) (g core.ReserveGoal, err error) {
	err = s.view(func(v *txView) error { g, err = v.GetReserveGoal(ctx, id); return err })
	return g, err
}

func (s *Store) SetReserveAmount(ctx context.Context, id int64, amount core.Money) error {
	return s.view(func(v *txView) error { return v.SetReserveAmount(ctx, id, amount) })
}

func (s *Store) InsertNotification(ctx context.Context, n core.Notification) error {
	return s.view(func(v *txView) error { return v.InsertNotification(ctx, n) })
}

func (s *Store) LatestNotification(ctx context.Context, profileID int64, message string) (n core.Notification, err error) {
	err = s.view(func(v *txView) error { n, err = v.LatestNotification(ctx, profileID, message); return err })
	return n, err
}

// Seeder

func (s *Store) CreateBudgetLimit(_ context.Context, l core.BudgetLimit) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.limits {
		if existing.ProfileID == l.ProfileID && existing.CategoryID == l.CategoryID &&
			existing.Month == l.Month && existing.Year == l.Year {
			return 0, fmt.Errorf("%w: budget limit already defined for period", core.ErrValidation)
		}
	}
	l.ID = s.st.id()
	s.st.limits[l.ID] = l
	return l.ID, nil
}

func (s *Store) CreateInstallmentCharge(_ context.Context, c core.DeferredInstallmentCharge) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.st.id()
	s.st.installments = append(s.st.installments, c)
	return c.ID, nil
}

func (s *Store) CreateReserveGoal(_ context.Context, g core.ReserveGoal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.st.id()
	s.st.reserves[g.ID] = g
	return g.ID, nil
}

func (s *Store) ListMovements(_ context.Context, profileID int64) ([]core.LedgerMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.LedgerMovement
	for _, m := range s.st.movements {
		if m.ProfileID == profileID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ListNotifications(_ context.Context, profileID int64) ([]core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Notification
	for _, n := range s.st.notifications {
		if n.ProfileID == profileID {
			out = append(out, n)
		}
	}
	return out, nil
}

// txView binds the repository ports to one state snapshot.
type txView struct {
	st     *state
	failOn func(op string) error
}

func (v *txView) fail(op string) error {
	if v.failOn == nil {
		return nil
	}
	if err := v.failOn(op); err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
	}
	return nil
}

func (v *txView) GetObligation(_ context.Context, id int64) (core.RecurringObligation, error) {
	o, ok := v.st.obligations[id]
	if !ok {
		return core.RecurringObligation{}, fmt.Errorf("obligation %d: %w", id, core.ErrNotFound)
	}
	return o, nil
}

func (v *txView) UpdateObligationSchedule(_ context.Context, o core.RecurringObligation) (core.RecurringObligation, error) {
	if err := v.fail("update_obligation"); err != nil {
		return core.RecurringObligation{}, err
	}
	cur, ok := v.st.obligations[o.ID]
	if !ok {
		return core.RecurringObligation{}, fmt.Errorf("obligation %d: %w", o.ID, core.ErrNotFound)
	}
	if cur.Version != o.Version {
		return core.RecurringObligation{}, fmt.Errorf("obligation %d version %d, stored %d: %w", o.ID, o.Version, cur.Version, core.ErrConflict)
	}
	cur.LastRun = o.LastRun
	cur.NextRun = o.NextRun
	cur.Active = o.Active
	cur.Version++
	v.st.obligations[o.ID] = cur
	return cur, nil
}

func (v *txView) AppendMovement(_ context.Context, m core.LedgerMovement) (int64, error) {
	if err := v.fail("append_movement"); err != nil {
		return 0, err
	}
	if m.ObligationID != 0 {
		for _, existing := range v.st.movements {
			if existing.ObligationID == m.ObligationID && existing.Date.Equal(m.Date) {
				return 0, fmt.Errorf("obligation %d on %s: %w", m.ObligationID, m.Date, core.ErrDuplicateOccurrence)
			}
		}
	}
	m.ID = v.st.id()
	v.st.movements = append(v.st.movements, m)
	return m.ID, nil
}

func (v *txView) SumExpenses(_ context.Context, profileID, categoryID int64, month, year int) (core.Money, error) {
	var sum core.Money
	for _, m := range v.st.movements {
		if m.Direction != core.Expense || m.ProfileID != profileID || !m.Date.InPeriod(month, year) {
			continue
		}
		if categoryID != 0 && m.CategoryID != categoryID {
			continue
		}
		sum = sum.Add(m.Amount)
	}
	return sum, nil
}

func (v *txView) SumInstallments(_ context.Context, profileID, categoryID int64, month, year int) (core.Money, error) {
	var sum core.Money
	for _, c := range v.st.installments {
		if c.ProfileID != profileID || !c.AccrualDate.InPeriod(month, year) {
			continue
		}
		if categoryID != 0 && c.CategoryID != categoryID {
			continue
		}
		sum = sum.Add(c.Amount)
	}
	return sum, nil
}

func (v *txView) GetBudgetLimit(_ context.Context, profileID, categoryID int64, month, year int) (core.BudgetLimit, error) {
	for _, l := range v.st.limits {
		if l.ProfileID == profileID && l.CategoryID == categoryID && l.Month == month && l.Year == year {
			return l, nil
		}
	}
	return core.BudgetLimit{}, fmt.Errorf("budget limit %d/%d: %w", month, year, core.ErrNotFound)
}

func (v *txView) GetReserveGoal(_ context.Context, id int64) (core.ReserveGoal, error) {
	g, ok := v.st.reserves[id]
	if !ok {
		return core.ReserveGoal{}, fmt.Errorf("reserve goal %d: %w", id, core.ErrNotFound)
	}
	return g, nil
}

func (v *txView) SetReserveAmount(_ context.Context, id int64, amount core.Money) error {
	if err := v.fail("set_reserve"); err != nil {
		return err
	}
	g, ok := v.st.reserves[id]
	if !ok {
		return fmt.Errorf("reserve goal %d: %w", id, core.ErrNotFound)
	}
	g.CurrentAmount = amount
	v.st.reserves[id] = g
	return nil
}

func (v *txView) InsertNotification(_ context.Context, n core.Notification) error {
	if err := v.fail("insert_notification"); err != nil {
		return err
	}
	v.st.notifications = append(v.st.notifications, n)
	return nil
}

func (v *txView) LatestNotification(_ context.Context, profileID int64, message string) (core.Notification, error) {
	var (
		latest core.Notification
		found  bool
	)
	for _, n := range v.st.notifications {
		if n.ProfileID != profileID || n.Message != message {
			continue
		}
		if !found || n.CreatedAt.After(latest.CreatedAt) {
			latest, found = n, true
		}
	}
	if !found {
		return core.Notification{}, fmt.Errorf("notification for profile %d: %w", profileID, core.ErrNotFound)
	}
	return latest, nil
}
