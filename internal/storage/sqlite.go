package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"finplan/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timestampLayout is fixed width so TEXT ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	*queries
	db *sql.DB
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Seeder = (*SQLiteStore)(nil)
)

// DSN builds the connection string used for both the store and its migrations.
// Write transactions take the lock up front so concurrent workers wait on
// busy_timeout instead of failing on lock upgrade.
func DSN(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{queries: &queries{db: db}, db: db}, nil
}

// Ping reports whether the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", core.ErrPersistence, err)
	}

	if err := fn(ctx, &queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrPersistence, err)
	}
	return nil
}

const obligationColumns = `id, description, amount_cents, direction, frequency, start_date, end_date,
	last_run, next_run, active, profile_id, category_id, linked_reserve_id, version`

func (s *SQLiteStore) CreateObligation(ctx context.Context, o core.RecurringObligation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_obligations (description, amount_cents, direction, frequency, start_date,
			end_date, last_run, next_run, active, profile_id, category_id, linked_reserve_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Description, o.Amount.Cents, string(o.Direction), string(o.Frequency), o.StartDate.String(),
		nullDate(o.EndDate), nullDate(o.LastRun), o.NextRun.String(), o.Active,
		o.ProfileID, o.CategoryID, o.LinkedReserveID)
	if err != nil {
		return 0, fmt.Errorf("%w: create obligation: %w", core.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: obligation id: %w", core.ErrPersistence, err)
	}

	slog.InfoContext(ctx, "Recurring obligation saved to SQLite",
		"id", id,
		"description", o.Description,
		"amount_cents", o.Amount.Cents,
		"next_run", o.NextRun.String())
	return id, nil
}

func (s *SQLiteStore) ListDueObligations(ctx context.Context, today core.Date) ([]core.RecurringObligation, error) {
	return s.listObligations(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations
		 WHERE active = 1 AND next_run <= ? ORDER BY next_run, id`, today.String())
}

func (s *SQLiteStore) ListActiveObligations(ctx context.Context) ([]core.RecurringObligation, error) {
	return s.listObligations(ctx,
		`SELECT `+obligationColumns+` FROM recurring_obligations
		 WHERE active = 1 ORDER BY next_run, id`)
}

func (s *SQLiteStore) listObligations(ctx context.Context, query string, args ...any) ([]core.RecurringObligation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list obligations: %w", core.ErrPersistence, err)
	}
	defer rows.Close()

	var out []core.RecurringObligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list obligations: %w", core.ErrPersistence, err)
	}
	return out, nil
}

// Seeder

func (s *SQLiteStore) CreateBudgetLimit(ctx context.Context, l core.BudgetLimit) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_limits (profile_id, category_id, amount_cents, month, year) VALUES (?, ?, ?, ?, ?)`,
		l.ProfileID, l.CategoryID, l.Amount.Cents, l.Month, l.Year)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: budget limit already defined for period", core.ErrValidation)
		}
		return 0, fmt.Errorf("%w: create budget limit: %w", core.ErrPersistence, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CreateInstallmentCharge(ctx context.Context, c core.DeferredInstallmentCharge) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO installment_charges (amount_cents, accrual_date, category_id, profile_id) VALUES (?, ?, ?, ?)`,
		c.Amount.Cents, c.AccrualDate.String(), c.CategoryID, c.ProfileID)
	if err != nil {
		return 0, fmt.Errorf("%w: create installment charge: %w", core.ErrPersistence, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) CreateReserveGoal(ctx context.Context, g core.ReserveGoal) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reserve_goals (profile_id, name, current_cents, target_cents) VALUES (?, ?, ?, ?)`,
		g.ProfileID, g.Name, g.CurrentAmount.Cents, g.TargetAmount.Cents)
	if err != nil {
		return 0, fmt.Errorf("%w: create reserve goal: %w", core.ErrPersistence, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) ListMovements(ctx context.Context, profileID int64) ([]core.LedgerMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount_cents, direction, movement_date, category_id, profile_id, origin, COALESCE(obligation_id, 0)
		FROM ledger_movements WHERE profile_id = ? ORDER BY movement_date, id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: list movements: %w", core.ErrPersistence, err)
	}
	defer rows.Close()

	var out []core.LedgerMovement
	for rows.Next() {
		var (
			m                 core.LedgerMovement
			direction, origin string
			date              string
		)
		if err := rows.Scan(&m.ID, &m.Amount.Cents, &direction, &date, &m.CategoryID, &m.ProfileID, &origin, &m.ObligationID); err != nil {
			return nil, fmt.Errorf("%w: scan movement: %w", core.ErrPersistence, err)
		}
		m.Direction = core.Direction(direction)
		m.Origin = core.Origin(origin)
		if m.Date, err = core.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, profileID int64) ([]core.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, title, message, type, kind, read, created_at
		FROM notifications WHERE profile_id = ? ORDER BY created_at, id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %w", core.ErrPersistence, err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// queries implements Queries on either the database handle or a transaction.
type queries struct {
	db dbtx
}

func (q *queries) GetObligation(ctx context.Context, id int64) (core.RecurringObligation, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM recurring_obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringObligation{}, fmt.Errorf("obligation %d: %w", id, core.ErrNotFound)
	}
	return o, err
}

func (q *queries) UpdateObligationSchedule(ctx context.Context, o core.RecurringObligation) (core.RecurringObligation, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE recurring_obligations
		SET last_run = ?, next_run = ?, active = ?, version = version + 1,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ? AND version = ?`,
		nullDate(o.LastRun), o.NextRun.String(), o.Active, o.ID, o.Version)
	if err != nil {
		return core.RecurringObligation{}, fmt.Errorf("%w: update obligation %d: %w", core.ErrPersistence, o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.RecurringObligation{}, fmt.Errorf("%w: update obligation %d: %w", core.ErrPersistence, o.ID, err)
	}
	if n == 0 {
		return core.RecurringObligation{}, fmt.Errorf("obligation %d version %d: %w", o.ID, o.Version, core.ErrConflict)
	}
	o.Version++
	return o, nil
}

func (q *queries) AppendMovement(ctx context.Context, m core.LedgerMovement) (int64, error) {
	var obligationID any
	if m.ObligationID != 0 {
		obligationID = m.ObligationID
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_movements (amount_cents, direction, movement_date, category_id, profile_id, origin, obligation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Amount.Cents, string(m.Direction), m.Date.String(), m.CategoryID, m.ProfileID, string(m.Origin), obligationID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("obligation %d on %s: %w", m.ObligationID, m.Date, core.ErrDuplicateOccurrence)
		}
		return 0, fmt.Errorf("%w: append movement: %w", core.ErrPersistence, err)
	}
	return res.LastInsertId()
}

func (q *queries) SumExpenses(ctx context.Context, profileID, categoryID int64, month, year int) (core.Money, error) {
	from, to := periodBounds(month, year)
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_movements
		WHERE direction = 'EXPENSE' AND profile_id = ? AND (? = 0 OR category_id = ?)
		  AND movement_date >= ? AND movement_date < ?`,
		profileID, categoryID, categoryID, from, to).Scan(&sum)
	if err != nil {
		return core.Money{}, fmt.Errorf("%w: sum expenses: %w", core.ErrPersistence, err)
	}
	return core.Money{Cents: sum}, nil
}

func (q *queries) SumInstallments(ctx context.Context, profileID, categoryID int64, month, year int) (core.Money, error) {
	from, to := periodBounds(month, year)
	var sum int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM installment_charges
		WHERE profile_id = ? AND (? = 0 OR category_id = ?)
		  AND accrual_date >= ? AND accrual_date < ?`,
		profileID, categoryID, categoryID, from, to).Scan(&sum)
	if err != nil {
		return core.Money{}, fmt.Errorf("%w: sum installments: %w", core.ErrPersistence, err)
	}
	return core.Money{Cents: sum}, nil
}

func (q *queries) GetBudgetLimit(ctx context.Context, profileID, categoryID int64, month, year int) (core.BudgetLimit, error) {
	var l core.BudgetLimit
	err := q.db.QueryRowContext(ctx, `
		SELECT id, profile_id, category_id, amount_cents, month, year FROM budget_limits
		WHERE profile_id = ? AND category_id = ? AND month = ? AND year = ?`,
		profileID, categoryID, month, year).Scan(&l.ID, &l.ProfileID, &l.CategoryID, &l.Amount.Cents, &l.Month, &l.Year)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetLimit{}, fmt.Errorf("budget limit %d/%d: %w", month, year, core.ErrNotFound)
	}
	if err != nil {
		return core.BudgetLimit{}, fmt.Errorf("%w: get budget limit: %w", core.ErrPersistence, err)
	}
	return l, nil
}

func (q *queries) GetReserveGoal(ctx context.Context, id int64) (core.ReserveGoal, error) {
	var g core.ReserveGoal
	err := q.db.QueryRowContext(ctx,
		`SELECT id, profile_id, name, current_cents, target_cents FROM reserve_goals WHERE id = ?`, id).
		Scan(&g.ID, &g.ProfileID, &g.Name, &g.CurrentAmount.Cents, &g.TargetAmount.Cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ReserveGoal{}, fmt.Errorf("reserve goal %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.ReserveGoal{}, fmt.Errorf("%w: get reserve goal: %w", core.ErrPersistence, err)
	}
	return g, nil
}

func (q *queries) SetReserveAmount(ctx context.Context, id int64, amount core.Money) error {
	res, err := q.db.ExecContext(ctx, `UPDATE reserve_goals SET current_cents = ? WHERE id = ?`, amount.Cents, id)
	if err != nil {
		return fmt.Errorf("%w: update reserve goal: %w", core.ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reserve goal %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *queries) InsertNotification(ctx context.Context, n core.Notification) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, profile_id, title, message, type, kind, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ProfileID, n.Title, n.Message, string(n.Type), string(n.Kind), n.Read,
		n.CreatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("%w: insert notification: %w", core.ErrPersistence, err)
	}
	return nil
}

func (q *queries) LatestNotification(ctx context.Context, profileID int64, message string) (core.Notification, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, profile_id, title, message, type, kind, read, created_at
		FROM notifications WHERE profile_id = ? AND message = ?
		ORDER BY created_at DESC LIMIT 1`, profileID, message)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Notification{}, fmt.Errorf("notification for profile %d: %w", profileID, core.ErrNotFound)
	}
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObligation(row scanner) (core.RecurringObligation, error) {
	var (
		o                           core.RecurringObligation
		direction, frequency, start string
		next                        string
		end, last                   sql.NullString
	)
	err := row.Scan(&o.ID, &o.Description, &o.Amount.Cents, &direction, &frequency, &start, &end,
		&last, &next, &o.Active, &o.ProfileID, &o.CategoryID, &o.LinkedReserveID, &o.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return o, err
	}
	if err != nil {
		return o, fmt.Errorf("%w: scan obligation: %w", core.ErrPersistence, err)
	}
	o.Direction = core.Direction(direction)
	o.Frequency = core.Frequency(frequency)
	if o.StartDate, err = core.ParseDate(start); err != nil {
		return o, err
	}
	if o.NextRun, err = core.ParseDate(next); err != nil {
		return o, err
	}
	if o.EndDate, err = parseNullDate(end); err != nil {
		return o, err
	}
	if o.LastRun, err = parseNullDate(last); err != nil {
		return o, err
	}
	return o, nil
}

func scanNotification(row scanner) (core.Notification, error) {
	var (
		n                core.Notification
		typ, kind, stamp string
	)
	err := row.Scan(&n.ID, &n.ProfileID, &n.Title, &n.Message, &typ, &kind, &n.Read, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return n, err
	}
	if err != nil {
		return n, fmt.Errorf("%w: scan notification: %w", core.ErrPersistence, err)
	}
	n.Type = core.NotificationType(typ)
	n.Kind = core.NotificationKind(kind)
	if n.CreatedAt, err = time.Parse(timestampLayout, stamp); err != nil {
		return n, fmt.Errorf("parse notification timestamp %q: %w", stamp, err)
	}
	return n, nil
}

func nullDate(d core.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (core.Date, error) {
	if !s.Valid || s.String == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s.String)
}

// periodBounds returns the half-open [from, to) date range of a calendar month.
func periodBounds(month, year int) (string, string) {
	from := core.NewDate(year, month, 1)
	to := core.Date{Time: from.AddDate(0, 1, 0)}
	return from.String(), to.String()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
