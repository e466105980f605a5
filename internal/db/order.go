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

// MongoOrderCollection implements OrderCollection for MongoDB.
type MongoOrderCollection struct {
	Collection *mongo.Collection
}

func (f OrderFilter) toBSON() bson.M {
	q := bson.M{}
	if f.StoreID != nil {
		q["store_id"] = *f.StoreID
	}
	if f.OrderStatus != "" {
		q["order_status"] = f.OrderStatus
	}
	return q
}

// InsertOrder inserts an order, assigning an ID when missing.
func (c *MongoOrderCollection) InsertOrder(ctx context.Context, order *models.Order) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	_, err := c.Collection.InsertOne(ctx, order)
	return err
}

// FindOrderByID finds an order by its ID.
func (c *MongoOrderCollection) FindOrderByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var order models.Order
	if err := findOne(ctx, c.Collection, bson.M{"_id": id}, &order); err != nil {
		return nil, fmt.Errorf("order %s: %w", id.Hex(), err)
	}
	return &order, nil
}

// FindOrderByIntentID finds the order holding a gateway payment intent.
func (c *MongoOrderCollection) FindOrderByIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	if err := findOne(ctx, c.Collection, bson.M{"stripe_payment_intent_id": intentID}, &order); err != nil {
		return nil, fmt.Errorf("order for intent %s: %w", intentID, err)
	}
	return &order, nil
}

// FindOrders queries orders newest first.
func (c *MongoOrderCollection) FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter.toBSON(), options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrder replaces an order under an optimistic version check.
func (c *MongoOrderCollection) UpdateOrder(ctx context.Context, order *models.Order) error {
	next := *order
	next.Version = order.Version + 1
	if err := replaceVersioned(ctx, c.Collection, order.ID, order.Version, next); err != nil {
		return fmt.Errorf("order %s: %w", order.ID.Hex(), err)
	}
	order.Version = next.Version
	return nil
}
