package db

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTaskCollection implements TaskCollection for MongoDB.
type MongoTaskCollection struct {
	Collection *mongo.Collection
}

// toBSON translates the filter into a Mongo query document.
func (f TaskFilter) toBSON() bson.M {
	q := bson.M{}
	if f.VehicleID != nil {
		q["vehicle_id"] = *f.VehicleID
	} else if f.VehicleIDs != nil {
		q["vehicle_id"] = bson.M{"$in": f.VehicleIDs}
	}
	if f.StoreID != nil {
		q["store_id"] = *f.StoreID
	}
	if f.TaskStatus != "" {
		q["task_status"] = f.TaskStatus
	}
	if f.PaymentStatus != "" {
		q["payment_status"] = f.PaymentStatus
	}
	if f.PaymentEscalated != nil {
		q["payment_escalated"] = *f.PaymentEscalated
	}
	return q
}

// InsertTask inserts a maintenance task, assigning an ID when missing.
func (c *MongoTaskCollection) InsertTask(ctx context.Context, task *models.MaintenanceTask) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if task.ID.IsZero() {
		task.ID = primitive.NewObjectID()
	}
	if task.PartsReplaced == nil {
		task.PartsReplaced = []models.PartReplaced{}
	}
	_, err := c.Collection.InsertOne(ctx, task)
	return err
}

// FindTaskByID finds a maintenance task by its ID.
func (c *MongoTaskCollection) FindTaskByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceTask, error) {
	var task models.MaintenanceTask
	if err := findOne(ctx, c.Collection, bson.M{"_id": id}, &task); err != nil {
		return nil, fmt.Errorf("task %s: %w", id.Hex(), err)
	}
	return &task, nil
}

// FindTaskByIntentID finds the task holding a gateway payment intent.
func (c *MongoTaskCollection) FindTaskByIntentID(ctx context.Context, intentID string) (*models.MaintenanceTask, error) {
	var task models.MaintenanceTask
	if err := findOne(ctx, c.Collection, bson.M{"stripe_payment_intent_id": intentID}, &task); err != nil {
		return nil, fmt.Errorf("task for intent %s: %w", intentID, err)
	}
	return &task, nil
}

// FindTasks queries tasks newest first, paginated when Limit is set.
func (c *MongoTaskCollection) FindTasks(ctx context.Context, filter TaskFilter) ([]models.MaintenanceTask, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		opts.SetSkip(int64((page - 1) * filter.Limit)).SetLimit(int64(filter.Limit))
	}

	cursor, err := c.Collection.Find(ctx, filter.toBSON(), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	tasks := []models.MaintenanceTask{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasks counts tasks matching the filter, ignoring pagination.
func (c *MongoTaskCollection) CountTasks(ctx context.Context, filter TaskFilter) (int64, error) {
	if c.Collection == nil {
		return 0, fmt.Errorf("mongo collection is nil")
	}
	return c.Collection.CountDocuments(ctx, filter.toBSON())
}

// FindLatestActiveTask returns the newest non-canceled task of the vehicle other than excludeID.
func (c *MongoTaskCollection) FindLatestActiveTask(ctx context.Context, vehicleID, excludeID primitive.ObjectID) (*models.MaintenanceTask, error) {
	filter := bson.M{
		"vehicle_id":  vehicleID,
		"_id":         bson.M{"$ne": excludeID},
		"task_status": bson.M{"$ne": models.TaskCanceled},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	var task models.MaintenanceTask
	if err := findOne(ctx, c.Collection, filter, &task, opts); err != nil {
		return nil, fmt.Errorf("latest active task of vehicle %s: %w", vehicleID.Hex(), err)
	}
	return &task, nil
}

// UpdateTask replaces a task under an optimistic version check.
func (c *MongoTaskCollection) UpdateTask(ctx context.Context, task *models.MaintenanceTask) error {
	next := *task
	next.Version = task.Version + 1
	if err := replaceVersioned(ctx, c.Collection, task.ID, task.Version, next); err != nil {
		return fmt.Errorf("task %s: %w", task.ID.Hex(), err)
	}
	task.Version = next.Version
	return nil
}

// DeleteTask deletes a maintenance task by its ID.
func (c *MongoTaskCollection) DeleteTask(ctx context.Context, id primitive.ObjectID) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("task %s: %w", id.Hex(), ErrNotFound)
	}
	return nil
}
