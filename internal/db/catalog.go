package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoCatalogCollection reads stores, parts and vendors.
type MongoCatalogCollection struct {
	Stores  *mongo.Collection
	Parts   *mongo.Collection
	Vendors *mongo.Collection
}

// FindStoreByID finds a store by its ID.
func (c *MongoCatalogCollection) FindStoreByID(ctx context.Context, id primitive.ObjectID) (*models.Store, error) {
	var store models.Store
	if err := findOne(ctx, c.Stores, bson.M{"_id": id}, &store); err != nil {
		return nil, fmt.Errorf("store %s: %w", id.Hex(), err)
	}
	return &store, nil
}

// FindPartByID finds a part by its ID.
func (c *MongoCatalogCollection) FindPartByID(ctx context.Context, id primitive.ObjectID) (*models.Part, error) {
	var part models.Part
	if err := findOne(ctx, c.Parts, bson.M{"_id": id}, &part); err != nil {
		return nil, fmt.Errorf("part %s: %w", id.Hex(), err)
	}
	return &part, nil
}

// FindVendorByID finds a vendor by its ID.
func (c *MongoCatalogCollection) FindVendorByID(ctx context.Context, id primitive.ObjectID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := findOne(ctx, c.Vendors, bson.M{"_id": id}, &vendor); err != nil {
		return nil, fmt.Errorf("vendor %s: %w", id.Hex(), err)
	}
	return &vendor, nil
}
