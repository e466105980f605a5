package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a record changed since it was read.
	ErrVersionConflict = errors.New("version conflict")
)

// Transactor runs fn atomically. Collections called with the ctx passed to fn
// participate in the transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
	FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error)
	FindVehiclesByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]models.Vehicle, error)
	// AddMaintenanceStore adds storeID to the vehicle's maintenance stores with set semantics.
	AddMaintenanceStore(ctx context.Context, vehicleID, storeID primitive.ObjectID) error
	// SetStatusIfNewer writes the derived status unless a write stamped after at
	// already drove it. The boolean reports whether the write was applied.
	SetStatusIfNewer(ctx context.Context, vehicleID primitive.ObjectID, status models.TaskStatus, taskID primitive.ObjectID, at time.Time) (bool, error)
}

// TaskFilter narrows task queries. Zero fields are ignored.
type TaskFilter struct {
	VehicleID        *primitive.ObjectID
	VehicleIDs       []primitive.ObjectID
	StoreID          *primitive.ObjectID
	TaskStatus       models.TaskStatus
	PaymentStatus    models.PaymentStatus
	PaymentEscalated *bool
	Page             int
	Limit            int
}

// TaskCollection defines the interface for maintenance task data operations.
type TaskCollection interface {
	InsertTask(ctx context.Context, task *models.MaintenanceTask) error
	FindTaskByID(ctx context.Context, id primitive.ObjectID) (*models.MaintenanceTask, error)
	FindTaskByIntentID(ctx context.Context, intentID string) (*models.MaintenanceTask, error)
	FindTasks(ctx context.Context, filter TaskFilter) ([]models.MaintenanceTask, error)
	CountTasks(ctx context.Context, filter TaskFilter) (int64, error)
	// FindLatestActiveTask returns the most recently created non-canceled task
	// of the vehicle other than excludeID, or ErrNotFound.
	FindLatestActiveTask(ctx context.Context, vehicleID, excludeID primitive.ObjectID) (*models.MaintenanceTask, error)
	// UpdateTask replaces the task if its stored version equals task.Version
	// and increments task.Version on success.
	UpdateTask(ctx context.Context, task *models.MaintenanceTask) error
	DeleteTask(ctx context.Context, id primitive.ObjectID) error
}

// OrderFilter narrows order queries.
type OrderFilter struct {
	StoreID     *primitive.ObjectID
	OrderStatus models.OrderStatus
}

// OrderCollection defines the interface for vendor order data operations.
type OrderCollection interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	FindOrderByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	FindOrderByIntentID(ctx context.Context, intentID string) (*models.Order, error)
	FindOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
}

// PaymentCollection defines the interface for the payment audit trail.
type PaymentCollection interface {
	// InsertPaymentIfAbsent stores the record unless one already exists for the
	// same intent id and event type. The boolean reports whether it was created.
	InsertPaymentIfAbsent(ctx context.Context, payment *models.Payment) (bool, error)
	FindPaymentsBySubject(ctx context.Context, subjectType models.SubjectType, subjectID primitive.ObjectID) ([]models.Payment, error)
}

// CatalogCollection gives read access to records owned by other services.
type CatalogCollection interface {
	FindStoreByID(ctx context.Context, id primitive.ObjectID) (*models.Store, error)
	FindPartByID(ctx context.Context, id primitive.ObjectID) (*models.Part, error)
	FindVendorByID(ctx context.Context, id primitive.ObjectID) (*models.Vendor, error)
}
