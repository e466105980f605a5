// Package events publishes maintenance lifecycle notifications.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TaskCreated          = "task.created"
	TaskStatusChanged    = "task.status_changed"
	TaskPaymentEscalated = "task.payment_escalated"
	TaskPaymentSettled   = "task.payment_settled"
	OrderPaymentSettled  = "order.payment_settled"
	OrderStatusChanged   = "order.status_changed"
)

// Event is a committed state change of a task or order.
type Event struct {
	Type          string    `json:"type"`
	SubjectID     string    `json:"subject_id"`
	StoreID       string    `json:"store_id"`
	VehicleID     string    `json:"vehicle_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier publishes lifecycle events after the change is durable.
type Notifier interface {
	Publish(ctx context.Context, evt Event) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(context.Context, Event) error { return nil }
