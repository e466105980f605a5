package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderItem is a line of a vendor parts order. Price is the unit price
// captured when the order was placed.
type OrderItem struct {
	PartID   primitive.ObjectID `json:"part_id" bson:"part_id"`
	Quantity int                `json:"quantity" bson:"quantity"`
	Price    float64            `json:"price" bson:"price"`
}

// Order represents a store's parts procurement from a vendor.
type Order struct {
	ID                    primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	StoreID               primitive.ObjectID `json:"store_id" bson:"store_id"`
	ManagerID             primitive.ObjectID `json:"manager_id" bson:"manager_id"`
	VendorID              primitive.ObjectID `json:"vendor_id" bson:"vendor_id"`
	Items                 []OrderItem        `json:"items" bson:"items"`
	TotalAmount           float64            `json:"total_amount" bson:"total_amount"`
	ShippingAddress       string             `json:"shipping_address" bson:"shipping_address"`
	OrderStatus           OrderStatus        `json:"order_status" bson:"order_status"`
	PaymentStatus         PaymentStatus      `json:"payment_status" bson:"payment_status"`
	StripePaymentIntentID string             `json:"stripe_payment_intent_id,omitempty" bson:"stripe_payment_intent_id,omitempty"`
	Version               int64              `json:"version" bson:"version"`
	CreatedAt             time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at" bson:"updated_at"`
}

// IntentInFlight reports whether a gateway intent is open and not yet settled.
func (o *Order) IntentInFlight() bool {
	return o.StripePaymentIntentID != "" && o.PaymentStatus == PaymentPending
}
