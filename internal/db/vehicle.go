package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoVehicleCollection implements VehicleCollection for MongoDB.
type MongoVehicleCollection struct {
	Collection *mongo.Collection
}

// InsertVehicle inserts a vehicle record into the collection.
func (c *MongoVehicleCollection) InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if vehicle.ID.IsZero() {
		vehicle.ID = primitive.NewObjectID()
	}
	if vehicle.MaintenanceStores == nil {
		vehicle.MaintenanceStores = []primitive.ObjectID{}
	}
	_, err := c.Collection.InsertOne(ctx, vehicle)
	return err
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MongoVehicleCollection) FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	if err := findOne(ctx, c.Collection, bson.M{"_id": id}, &vehicle); err != nil {
		return nil, fmt.Errorf("vehicle %s: %w", id.Hex(), err)
	}
	return &vehicle, nil
}

// FindVehiclesByOwner returns every vehicle registered to ownerID.
func (c *MongoVehicleCollection) FindVehiclesByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]models.Vehicle, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	vehicles := []models.Vehicle{}
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// AddMaintenanceStore adds storeID to the vehicle's maintenance stores.
func (c *MongoVehicleCollection) AddMaintenanceStore(ctx context.Context, vehicleID, storeID primitive.ObjectID) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": vehicleID},
		bson.M{"$addToSet": bson.M{"maintenance_stores": storeID}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("vehicle %s: %w", vehicleID.Hex(), ErrNotFound)
	}
	return nil
}

// SetStatusIfNewer writes the vehicle's derived status when at is not older
// than the write that last set it.
func (c *MongoVehicleCollection) SetStatusIfNewer(ctx context.Context, vehicleID primitive.ObjectID, status models.TaskStatus, taskID primitive.ObjectID, at time.Time) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	filter := bson.M{
		"_id": vehicleID,
		"$or": bson.A{
			bson.M{"status_updated_at": bson.M{"$exists": false}},
			bson.M{"status_updated_at": bson.M{"$lte": at}},
		},
	}
	update := bson.M{"$set": bson.M{
		"status":            status,
		"status_task_id":    taskID,
		"status_updated_at": at,
		"updated_at":        at,
	}}
	result, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}
