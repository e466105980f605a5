package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is a service location. Managed elsewhere; read here for scoping and
// the service provider snapshot.
type Store struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name    string             `bson:"name" json:"name"`
	Address string             `bson:"address" json:"address"`
	Email   string             `bson:"email" json:"email"`
	Phone   string             `bson:"phone" json:"phone"`
}

// Part is a catalog entry sold by a vendor.
type Part struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PartNumber  string             `bson:"part_number" json:"part_number"`
	Description string             `bson:"description" json:"description"`
	Price       float64            `bson:"price" json:"price"`
	VendorID    primitive.ObjectID `bson:"vendor_id" json:"vendor_id"`
}

// Vendor supplies parts.
type Vendor struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name string             `bson:"name" json:"name"`
}
