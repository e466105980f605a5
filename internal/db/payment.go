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

// MongoPaymentCollection implements PaymentCollection for MongoDB. It relies
// on the unique (stripe_payment_intent_id, event_type) index from EnsureIndexes.
type MongoPaymentCollection struct {
	Collection *mongo.Collection
}

// InsertPaymentIfAbsent records the audit entry unless one exists for the same
// intent and event type. It upserts with $setOnInsert so a repeat never raises
// a write error, which would abort an enclosing transaction. A racing insert
// that still trips the unique index is reported as ErrVersionConflict.
func (c *MongoPaymentCollection) InsertPaymentIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	if payment.ID.IsZero() {
		payment.ID = primitive.NewObjectID()
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{
			"stripe_payment_intent_id": payment.StripePaymentIntentID,
			"event_type":               payment.EventType,
		},
		bson.M{"$setOnInsert": payment},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return false, fmt.Errorf("%w: audit record %s/%s inserted concurrently",
			ErrVersionConflict, payment.StripePaymentIntentID, payment.EventType)
	}
	if err != nil {
		return false, err
	}
	return result.UpsertedCount == 1, nil
}

// FindPaymentsBySubject lists audit records for one task or order, oldest first.
func (c *MongoPaymentCollection) FindPaymentsBySubject(ctx context.Context, subjectType models.SubjectType, subjectID primitive.ObjectID) ([]models.Payment, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx,
		bson.M{"subject_type": subjectType, "subject_id": subjectID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	payments := []models.Payment{}
	if err := cursor.All(ctx, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}
