package amqp

import (
	"encoding/json"
	"time"

	"finplan/internal/core"
)

// NotificationEvent mirrors a stored notification for downstream consumers
// (push, e-mail). The record itself is already durable when the event is sent.
type NotificationEvent struct {
	ID          string    `json:"id"`
	ProfileID   int64     `json:"profile_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Kind        string    `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

func NewNotificationEvent(n core.Notification) *NotificationEvent {
	return &NotificationEvent{
		ID:          n.ID,
		ProfileID:   n.ProfileID,
		Title:       n.Title,
		Message:     n.Message,
		Type:        string(n.Type),
		Kind:        string(n.Kind),
		CreatedAt:   n.CreatedAt,
		PublishedAt: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *NotificationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func NotificationEventFromJSON(data []byte) (*NotificationEvent, error) {
	var msg NotificationEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RunRequest asks the worker to run the due-obligation batch now.
// An empty body is a valid request.
type RunRequest struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewRunRequest(requestedBy string) *RunRequest {
	return &RunRequest{RequestedBy: requestedBy, Timestamp: time.Now()}
}

func (m *RunRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RunRequestFromJSON(data []byte) (*RunRequest, error) {
	var msg RunRequest
	if len(data) == 0 {
		return &msg, nil
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
