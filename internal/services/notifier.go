package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"finplan/internal/core"
	"finplan/internal/storage"
)

// DefaultDedupeWindow is how long an identical message stays suppressed.
const DefaultDedupeWindow = 24 * time.Hour

// Publisher forwards stored notifications to an external channel.
type Publisher interface {
	PublishNotification(ctx context.Context, n core.Notification) error
}

// Deduplicator suppresses a notification when the same profile received the same
// message within the window.
type Deduplicator struct {
	window time.Duration
}

func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Deduplicator{window: window}
}

func (d *Deduplicator) ShouldSuppress(ctx context.Context, q storage.NotificationRepository, profileID int64, message string, now time.Time) (bool, error) {
	last, err := q.LatestNotification(ctx, profileID, message)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup previous notification: %w", err)
	}
	return now.Sub(last.CreatedAt) < d.window, nil
}

// Notifier builds and stores notification records.
type Notifier struct {
	dedupe       *Deduplicator
	dedupeBudget bool
	clock        core.Clock
	newID        func() string
}

type NotifierOption func(*Notifier)

// WithBudgetDedupe routes budget threshold alerts through the deduplicator.
func WithBudgetDedupe(enabled bool) NotifierOption {
	return func(n *Notifier) { n.dedupeBudget = enabled }
}

func WithIDGenerator(fn func() string) NotifierOption {
	return func(n *Notifier) { n.newID = fn }
}

func NewNotifier(dedupe *Deduplicator, clock core.Clock, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		dedupe: dedupe,
		clock:  clock,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) deduplicates(kind core.NotificationKind) bool {
	switch kind {
	case core.KindReminder:
		return true
	case core.KindBudget:
		return n.dedupeBudget
	default:
		return false
	}
}

// Emit stores draft through q. It reports false when the notification was suppressed.
func (n *Notifier) Emit(ctx context.Context, q storage.NotificationRepository, draft core.Notification) (core.Notification, bool, error) {
	now := n.clock.Now().UTC()
	draft.Read = false
	if draft.ID == "" {
		draft.ID = n.newID()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	if err := draft.Validate(); err != nil {
		return core.Notification{}, false, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	if n.dedupe != nil && n.deduplicates(draft.Kind) {
		suppress, err := n.dedupe.ShouldSuppress(ctx, q, draft.ProfileID, draft.Message, now)
		if err != nil {
			return core.Notification{}, false, err
		}
		if suppress {
			slog.DebugContext(ctx, "Notification suppressed as duplicate",
				"profile_id", draft.ProfileID,
				"kind", draft.Kind)
			return draft, false, nil
		}
	}

	if err := q.InsertNotification(ctx, draft); err != nil {
		return core.Notification{}, false, fmt.Errorf("store notification: %w", err)
	}
	return draft, true, nil
}

// publishAll hands committed notifications to p. Records are already durable, so
// failures are only logged.
func publishAll(ctx context.Context, p Publisher, notifications []core.Notification) {
	if len(notifications) == 0 {
		return
	}
	if p == nil {
		slog.DebugContext(ctx, "No publisher configured, skipping notification events",
			"count", len(notifications))
		return
	}
	for _, n := range notifications {
		if err := p.PublishNotification(ctx, n); err != nil {
			slog.ErrorContext(ctx, "Failed to publish notification event",
				"notification_id", n.ID,
				"profile_id", n.ProfileID,
				"error", err)
		}
	}
}
