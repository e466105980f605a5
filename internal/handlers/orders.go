package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/services"
)

// OrderService is the parts procurement flow used by OrderHandler.
type OrderService interface {
	CreateOrder(ctx context.Context, p services.Principal, in services.CreateOrderInput) (*models.Order, error)
	ListStoreOrders(ctx context.Context, p services.Principal, status models.OrderStatus) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, p services.Principal, orderID string, in services.OrderStatusInput) (*models.Order, error)
}

// OrderHandler serves the vendor order endpoints
type OrderHandler struct {
	orders OrderService
	logger logrus.FieldLogger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders OrderService, logger logrus.FieldLogger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// Create places a parts order for the caller's store
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var in services.CreateOrderInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), p, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// List returns the caller's store orders, optionally filtered by ?status=
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request, p services.Principal) {
	orders, err := h.orders.ListStoreOrders(r.Context(), p, models.OrderStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// UpdateStatus moves an order along its fulfilment states
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var in services.OrderStatusInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order, err := h.orders.UpdateOrderStatus(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
