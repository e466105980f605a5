package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SubjectType identifies what a payment settles.
type SubjectType string

const (
	SubjectTask  SubjectType = "task"
	SubjectOrder SubjectType = "order"
)

// Payment is the insert-only audit record of a terminal gateway event.
// (StripePaymentIntentID, EventType) is unique.
type Payment struct {
	ID                    primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	SubjectType           SubjectType         `json:"subject_type" bson:"subject_type"`
	SubjectID             primitive.ObjectID  `json:"subject_id" bson:"subject_id"`
	OwnerID               *primitive.ObjectID `json:"owner_id,omitempty" bson:"owner_id,omitempty"`
	StoreID               primitive.ObjectID  `json:"store_id" bson:"store_id"`
	Amount                int64               `json:"amount" bson:"amount"` // minor units
	Currency              string              `json:"currency" bson:"currency"`
	StripePaymentIntentID string              `json:"stripe_payment_intent_id" bson:"stripe_payment_intent_id"`
	EventID               string              `json:"event_id" bson:"event_id"`
	EventType             string              `json:"event_type" bson:"event_type"`
	Status                PaymentStatus       `json:"status" bson:"status"`
	CreatedAt             time.Time           `json:"created_at" bson:"created_at"`
}
