package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Vehicle represents an owner's vehicle serviced by one or more stores.
//
// Status is a projection of the vehicle's maintenance tasks and is written only
// by the task lifecycle. StatusUpdatedAt is the timestamp of the task write that
// last drove it; older writes never overwrite a newer one.
type Vehicle struct {
	ID                primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	OwnerID           primitive.ObjectID   `bson:"owner_id" json:"owner_id"`
	Make              string               `bson:"make" json:"make"`
	Model             string               `bson:"model" json:"model"`
	Year              int                  `bson:"year" json:"year"`
	VIN               string               `bson:"vin" json:"vin"`
	Mileage           float64              `bson:"mileage" json:"mileage"`
	Status            TaskStatus           `bson:"status,omitempty" json:"status,omitempty"`
	StatusTaskID      primitive.ObjectID   `bson:"status_task_id,omitempty" json:"status_task_id,omitempty"`
	StatusUpdatedAt   time.Time            `bson:"status_updated_at,omitempty" json:"status_updated_at,omitempty"`
	MaintenanceStores []primitive.ObjectID `bson:"maintenance_stores" json:"maintenance_stores"`
	CreatedAt         time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time            `bson:"updated_at" json:"updated_at"`
}

// HasMaintenanceStore reports whether the vehicle has been serviced at storeID.
func (v *Vehicle) HasMaintenanceStore(storeID primitive.ObjectID) bool {
	for _, id := range v.MaintenanceStores {
		if id == storeID {
			return true
		}
	}
	return false
}
