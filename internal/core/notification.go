package core

import (
	"errors"
	"strings"
	"time"
)

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationWarning NotificationType = "WARNING"
)

// Notification kinds decide which notifications go through deduplication.
const (
	KindReminder NotificationKind = "REMINDER"
	KindBudget   NotificationKind = "BUDGET"
	KindGoal     NotificationKind = "GOAL"
)

type (
	NotificationType string
	NotificationKind string

	Notification struct {
		ID        string
		ProfileID int64
		Title     string
		Message   string
		Type      NotificationType
		Kind      NotificationKind
		Read      bool
		CreatedAt time.Time
	}
)

func (n Notification) Validate() error {
	if n.ProfileID <= 0 {
		return ErrMissingProfile
	}
	if strings.TrimSpace(n.Title) == "" {
		return errors.New("notification title is required")
	}
	if strings.TrimSpace(n.Message) == "" {
		return errors.New("notification message is required")
	}
	if n.Type != NotificationInfo && n.Type != NotificationWarning {
		return errors.New("invalid notification type")
	}
	return nil
}
