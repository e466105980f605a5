package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTaskFilter_ToBSON(t *testing.T) {
	vehicleID := primitive.NewObjectID()
	storeID := primitive.NewObjectID()
	escalated := true

	tests := []struct {
		name   string
		filter TaskFilter
		want   bson.M
	}{
		{
			name:   "empty filter matches everything",
			filter: TaskFilter{},
			want:   bson.M{},
		},
		{
			name: "single vehicle wins over vehicle list",
			filter: TaskFilter{
				VehicleID:  &vehicleID,
				VehicleIDs: []primitive.ObjectID{primitive.NewObjectID()},
			},
			want: bson.M{"vehicle_id": vehicleID},
		},
		{
			name:   "vehicle list",
			filter: TaskFilter{VehicleIDs: []primitive.ObjectID{vehicleID}},
			want:   bson.M{"vehicle_id": bson.M{"$in": []primitive.ObjectID{vehicleID}}},
		},
		{
			name: "store unpaid escalated",
			filter: TaskFilter{
				StoreID:          &storeID,
				PaymentStatus:    models.PaymentPending,
				PaymentEscalated: &escalated,
				TaskStatus:       models.TaskCompleted,
				Page:             2,
				Limit:            10,
			},
			want: bson.M{
				"store_id":          storeID,
				"payment_status":    models.PaymentPending,
				"payment_escalated": true,
				"task_status":       models.TaskCompleted,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.toBSON())
		})
	}
}

func TestOrderFilter_ToBSON(t *testing.T) {
	storeID := primitive.NewObjectID()
	assert.Equal(t, bson.M{}, OrderFilter{}.toBSON())
	assert.Equal(t,
		bson.M{"store_id": storeID, "order_status": models.OrderShipped},
		OrderFilter{StoreID: &storeID, OrderStatus: models.OrderShipped}.toBSON(),
	)
}
