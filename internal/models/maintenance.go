package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PartReplaced records a part used to complete a task and the vendor it came from.
type PartReplaced struct {
	PartID   primitive.ObjectID `json:"part_id" bson:"part_id"`
	VendorID primitive.ObjectID `json:"vendor_id" bson:"vendor_id"`
	Quantity int                `json:"quantity" bson:"quantity"`
}

// MaintenanceTask represents one unit of service work on a vehicle at a store.
type MaintenanceTask struct {
	ID                    primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	VehicleID             primitive.ObjectID  `json:"vehicle_id" bson:"vehicle_id"`
	StoreID               primitive.ObjectID  `json:"store_id" bson:"store_id"`
	VendorID              *primitive.ObjectID `json:"vendor_id,omitempty" bson:"vendor_id,omitempty"`
	TaskType              string              `json:"task_type" bson:"task_type"`
	ServiceProvider       string              `json:"service_provider" bson:"service_provider"` // store name at creation
	TaskStatus            TaskStatus          `json:"task_status" bson:"task_status"`
	Priority              string              `json:"priority" bson:"priority"` // "high", "medium", "low"
	ScheduledDate         *time.Time          `json:"scheduled_date,omitempty" bson:"scheduled_date,omitempty"`
	ScheduledMileage      *float64            `json:"scheduled_mileage,omitempty" bson:"scheduled_mileage,omitempty"`
	CompletedDate         *time.Time          `json:"completed_date,omitempty" bson:"completed_date,omitempty"`
	CompletedMileage      *float64            `json:"completed_mileage,omitempty" bson:"completed_mileage,omitempty"`
	MileageUnits          string              `json:"mileage_units" bson:"mileage_units"` // "miles", "kilometers"
	EstimatedDuration     float64             `json:"estimated_duration" bson:"estimated_duration"` // in hours
	ActualDuration        float64             `json:"actual_duration" bson:"actual_duration"`       // in hours
	LaborCost             float64             `json:"labor_cost" bson:"labor_cost"`
	PartsReplaced         []PartReplaced      `json:"parts_replaced" bson:"parts_replaced"`
	Notes                 string              `json:"notes" bson:"notes"`
	PaymentStatus         PaymentStatus       `json:"payment_status" bson:"payment_status"`
	PaymentEscalated      bool                `json:"payment_escalated" bson:"payment_escalated"`
	EscalatedAt           *time.Time          `json:"escalated_at,omitempty" bson:"escalated_at,omitempty"`
	StripePaymentIntentID string              `json:"stripe_payment_intent_id,omitempty" bson:"stripe_payment_intent_id,omitempty"`
	Version               int64               `json:"version" bson:"version"`
	CreatedAt             time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at" bson:"updated_at"`
}

// IntentInFlight reports whether a gateway intent is open and not yet settled.
func (t *MaintenanceTask) IntentInFlight() bool {
	return t.StripePaymentIntentID != "" && t.PaymentStatus == PaymentPending
}

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Mileage units.
const (
	UnitsMiles      = "miles"
	UnitsKilometers = "kilometers"
)
