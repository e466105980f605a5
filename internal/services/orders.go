package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OrderItemInput is one requested part.
type OrderItemInput struct {
	PartID   string `json:"part_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

// CreateOrderInput is the body of a parts order.
type CreateOrderInput struct {
	VendorID string           `json:"vendor_id" validate:"required"`
	Items    []OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

// OrderStatusInput requests an order status transition.
type OrderStatusInput struct {
	Status models.OrderStatus `json:"status" validate:"required"`
}

// OrderService places and tracks a store's vendor parts orders.
type OrderService struct {
	Deps
	guard *Guard
}

// NewOrderService creates an OrderService.
func NewOrderService(deps Deps) *OrderService {
	deps = deps.withDefaults()
	return &OrderService{Deps: deps, guard: NewGuard(deps.Users)}
}

// CreateOrder prices the items from the catalog and ships to the manager's
// store. Unit prices are captured now and never re-derived.
func (s *OrderService) CreateOrder(ctx context.Context, p Principal, in CreateOrderInput) (*models.Order, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	vendorID, err := ParseID("vendor", in.VendorID)
	if err != nil {
		return nil, err
	}
	partIDs := make([]primitive.ObjectID, len(in.Items))
	for i, item := range in.Items {
		if partIDs[i], err = ParseID("part", item.PartID); err != nil {
			return nil, err
		}
	}

	actor, storeID, err := s.guard.requireManager(ctx, p)
	if err != nil {
		return nil, err
	}
	store, err := s.Catalog.FindStoreByID(ctx, storeID)
	if err != nil {
		return nil, lookupErr(err, "store %s not found", storeID.Hex())
	}
	if _, err := s.Catalog.FindVendorByID(ctx, vendorID); err != nil {
		return nil, lookupErr(err, "vendor %s not found", vendorID.Hex())
	}

	items := make([]models.OrderItem, 0, len(in.Items))
	total := decimal.Zero
	for i, item := range in.Items {
		part, err := s.Catalog.FindPartByID(ctx, partIDs[i])
		if err != nil {
			return nil, lookupErr(err, "part %s not found", partIDs[i].Hex())
		}
		if part.VendorID != vendorID {
			return nil, apperr.Validation("part %s is not sold by vendor %s", part.ID.Hex(), vendorID.Hex())
		}
		if part.Price < 0 {
			return nil, apperr.Validation("part %s has a negative price", part.ID.Hex())
		}
		items = append(items, models.OrderItem{PartID: part.ID, Quantity: item.Quantity, Price: part.Price})
		total = total.Add(decimal.NewFromFloat(part.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	now := s.now()
	order := &models.Order{
		ID:              primitive.NewObjectID(),
		StoreID:         store.ID,
		ManagerID:       actor.UserID,
		VendorID:        vendorID,
		Items:           items,
		TotalAmount:     total.Round(2).InexactFloat64(),
		ShippingAddress: store.Address,
		OrderStatus:     models.OrderPending,
		PaymentStatus:   models.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Orders.InsertOrder(ctx, order); err != nil {
		return nil, apperr.Internal(err, "create order")
	}

	s.Logger.WithFields(logrus.Fields{
		"order_id":  order.ID.Hex(),
		"store_id":  store.ID.Hex(),
		"vendor_id": vendorID.Hex(),
		"total":     order.TotalAmount,
	}).Info("order created")
	return order, nil
}

// ListStoreOrders lists the manager's store orders, optionally by status.
func (s *OrderService) ListStoreOrders(ctx context.Context, p Principal, status models.OrderStatus) ([]models.Order, error) {
	_, storeID, err := s.guard.requireManager(ctx, p)
	if err != nil {
		return nil, err
	}
	if status != "" && !models.IsValidOrderStatus(status) {
		return nil, apperr.Validation("unknown order status %q", status)
	}
	orders, err := s.Orders.FindOrders(ctx, db.OrderFilter{StoreID: &storeID, OrderStatus: status})
	if err != nil {
		return nil, apperr.Internal(err, "list orders")
	}
	return orders, nil
}

// UpdateOrderStatus moves an order of the manager's store along its transitions.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, p Principal, orderHex string, in OrderStatusInput) (*models.Order, error) {
	orderID, err := ParseID("order", orderHex)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if !models.IsValidOrderStatus(in.Status) {
		return nil, apperr.Validation("unknown order status %q", in.Status)
	}
	_, storeID, err := s.guard.requireManager(ctx, p)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	now := s.now()
	err = s.retryOnConflict(ctx, func() error {
		var err error
		order, err = s.Orders.FindOrderByID(ctx, orderID)
		if err != nil {
			return lookupErr(err, "order %s not found", orderID.Hex())
		}
		if order.StoreID != storeID {
			return apperr.Forbidden("order %s belongs to another store", orderID.Hex())
		}
		if !order.OrderStatus.CanTransitionTo(in.Status) {
			return apperr.Conflict("cannot move order from %s to %s", order.OrderStatus, in.Status)
		}
		order.OrderStatus = in.Status
		order.UpdatedAt = now
		return s.Orders.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, writeErr(err, "update order %s", orderID.Hex())
	}

	s.publish(ctx, orderEvent(events.OrderStatusChanged, order, now))
	return order, nil
}

func orderEvent(kind string, order *models.Order, at time.Time) events.Event {
	return events.Event{
		Type:          kind,
		SubjectID:     order.ID.Hex(),
		StoreID:       order.StoreID.Hex(),
		Status:        string(order.OrderStatus),
		PaymentStatus: string(order.PaymentStatus),
		OccurredAt:    at,
	}
}
