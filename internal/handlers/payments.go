package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/services"
)

// maxWebhookBytes matches the largest event payload the gateway sends.
const maxWebhookBytes = 64 << 10

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Stripe-Signature"

// PaymentService is the escalation and settlement flow used by PaymentHandler.
type PaymentService interface {
	EscalatePayment(ctx context.Context, p services.Principal, taskID string) (*models.MaintenanceTask, error)
	CreatePaymentIntent(ctx context.Context, p services.Principal, taskID string) (*services.IntentResult, error)
	CreateOrderPaymentIntent(ctx context.Context, p services.Principal, orderID string) (*services.IntentResult, error)
	HandleGatewayCallback(ctx context.Context, payload []byte, signature string) error
	GetUnpaidPayments(ctx context.Context, p services.Principal) ([]models.MaintenanceTask, error)
}

// PaymentHandler serves escalation, intents and the gateway webhook
type PaymentHandler struct {
	payments PaymentService
	logger   logrus.FieldLogger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments PaymentService, logger logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

type taskIntentRequest struct {
	TaskID string `json:"task_id"`
}

type orderIntentRequest struct {
	OrderID string `json:"order_id"`
}

// Escalate opens payment collection for a completed task
func (h *PaymentHandler) Escalate(w http.ResponseWriter, r *http.Request, p services.Principal) {
	task, err := h.payments.EscalatePayment(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CreateTaskIntent opens or reuses the payment intent of a task
func (h *PaymentHandler) CreateTaskIntent(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var req taskIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.TaskID == "" {
		writeError(w, r, h.logger, apperr.Validation("task_id is required"))
		return
	}
	res, err := h.payments.CreatePaymentIntent(r.Context(), p, req.TaskID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateOrderIntent opens or reuses the payment intent of an order
func (h *PaymentHandler) CreateOrderIntent(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var req orderIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.OrderID == "" {
		writeError(w, r, h.logger, apperr.Validation("order_id is required"))
		return
	}
	res, err := h.payments.CreateOrderPaymentIntent(r.Context(), p, req.OrderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Unpaid lists the caller's escalated tasks still awaiting payment
func (h *PaymentHandler) Unpaid(w http.ResponseWriter, r *http.Request, p services.Principal) {
	tasks, err := h.payments.GetUnpaidPayments(r.Context(), p)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Webhook receives gateway events. The response carries only a status: 200
// once the event is processed, 400 for an unverifiable payload and 500 when
// the gateway should redeliver.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	log := middleware.LoggerFromContext(r.Context(), h.logger)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		log.WithError(err).Warn("failed to read webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err = h.payments.HandleGatewayCallback(r.Context(), payload, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case apperr.Is(err, apperr.KindGateway):
		w.WriteHeader(http.StatusBadRequest)
	default:
		log.WithError(err).Error("webhook processing failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
