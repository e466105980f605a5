package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/payments"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Intent metadata keys.
const (
	MetaTaskID  = "taskId"
	MetaOrderID = "orderId"
	MetaOwnerID = "ownerId"
	MetaStoreID = "storeId"
)

// IntentResult is returned to the payer to confirm the payment client side.
type IntentResult struct {
	IntentID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reused       bool   `json:"reused"`
}

// PaymentCoordinator gates payment collection behind completion and
// escalation, opens gateway intents and applies gateway callbacks exactly once.
type PaymentCoordinator struct {
	Deps
	guard *Guard
}

// NewPaymentCoordinator creates a PaymentCoordinator.
func NewPaymentCoordinator(deps Deps) *PaymentCoordinator {
	deps = deps.withDefaults()
	return &PaymentCoordinator{Deps: deps, guard: NewGuard(deps.Users)}
}

// EscalatePayment authorizes payment collection for a completed task. The
// gate is one way; escalating again is a conflict.
func (c *PaymentCoordinator) EscalatePayment(ctx context.Context, p Principal, taskHex string) (*models.MaintenanceTask, error) {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return nil, err
	}

	var task *models.MaintenanceTask
	now := c.now()
	err = c.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		task, _, err = loadTaskForAction(ctx, c.Deps, c.guard, p, taskID, ActionEscalate)
		if err != nil {
			return err
		}
		if task.TaskStatus != models.TaskCompleted {
			return apperr.Conflict("payment can only be escalated for a completed task, task is %s", task.TaskStatus)
		}
		if task.PaymentEscalated {
			return apperr.Conflict("payment already escalated for task %s", taskID.Hex())
		}
		escalatedAt := now
		task.PaymentEscalated = true
		task.EscalatedAt = &escalatedAt
		task.UpdatedAt = now
		if err := c.Tasks.UpdateTask(ctx, task); err != nil {
			return writeErr(err, "escalate task %s", taskID.Hex())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Logger.WithField("task_id", task.ID.Hex()).Info("payment escalated")
	c.publish(ctx, taskEvent(events.TaskPaymentEscalated, task, now))
	return task, nil
}

// CreatePaymentIntent opens a gateway intent for an escalated task on behalf
// of the vehicle's owner. An intent already in flight is returned again
// rather than duplicated.
func (c *PaymentCoordinator) CreatePaymentIntent(ctx context.Context, p Principal, taskHex string) (*IntentResult, error) {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return nil, err
	}
	task, vehicle, err := loadTaskForAction(ctx, c.Deps, c.guard, p, taskID, ActionPay)
	if err != nil {
		return nil, err
	}
	if task.PaymentStatus != models.PaymentPending {
		return nil, apperr.Conflict("task payment is already %s", task.PaymentStatus)
	}
	if !task.PaymentEscalated {
		return nil, apperr.Conflict("payment has not been escalated for task %s", taskID.Hex())
	}
	if task.LaborCost <= 0 {
		return nil, apperr.Validation("labor cost must be greater than zero to collect payment")
	}

	if task.IntentInFlight() {
		if reused, ok, err := c.reuseIntent(ctx, task.StripePaymentIntentID); err != nil || ok {
			return reused, err
		}
	}
	// A canceled intent left on the task is overwritten below.
	replaced := task.StripePaymentIntentID

	req := payments.IntentRequest{
		Amount:      payments.ToMinorUnits(task.LaborCost),
		Currency:    c.Currency,
		Description: fmt.Sprintf("%s at %s", task.TaskType, task.ServiceProvider),
		Metadata: map[string]string{
			MetaTaskID:  task.ID.Hex(),
			MetaOwnerID: vehicle.OwnerID.Hex(),
			MetaStoreID: task.StoreID.Hex(),
		},
		IdempotencyKey: fmt.Sprintf("task-%s-v%d", task.ID.Hex(), task.Version),
	}
	intent, err := c.Gateway.CreateIntent(ctx, req)
	if err != nil {
		return nil, apperr.Gateway(err, "create payment intent")
	}

	var stored string
	err = c.retryOnConflict(ctx, func() error {
		current, err := c.Tasks.FindTaskByID(ctx, taskID)
		if err != nil {
			return err
		}
		if current.PaymentStatus != models.PaymentPending {
			return apperr.Conflict("task payment is already %s", current.PaymentStatus)
		}
		if current.StripePaymentIntentID != "" && current.StripePaymentIntentID != replaced {
			stored = current.StripePaymentIntentID
			return nil
		}
		current.StripePaymentIntentID = intent.ID
		current.UpdatedAt = c.now()
		if err := c.Tasks.UpdateTask(ctx, current); err != nil {
			return err
		}
		stored = intent.ID
		return nil
	})
	if err != nil {
		return nil, writeErr(err, "store payment intent on task %s", taskID.Hex())
	}

	if stored != intent.ID {
		// A concurrent request stored its intent first.
		reused, _, err := c.reuseIntent(ctx, stored)
		return reused, err
	}

	c.Logger.WithFields(logrus.Fields{
		"task_id":   taskID.Hex(),
		"intent_id": intent.ID,
		"amount":    intent.Amount,
	}).Info("payment intent opened")
	return &IntentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret, Amount: intent.Amount, Currency: intent.Currency}, nil
}

// CreateOrderPaymentIntent opens a gateway intent for a vendor order on behalf
// of the store's manager.
func (c *PaymentCoordinator) CreateOrderPaymentIntent(ctx context.Context, p Principal, orderHex string) (*IntentResult, error) {
	orderID, err := ParseID("order", orderHex)
	if err != nil {
		return nil, err
	}
	actor, storeID, err := c.guard.requireManager(ctx, p)
	if err != nil {
		return nil, err
	}
	order, err := c.Orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, lookupErr(err, "order %s not found", orderID.Hex())
	}
	if order.StoreID != storeID {
		return nil, apperr.Forbidden("order %s belongs to another store", orderID.Hex())
	}
	if order.PaymentStatus != models.PaymentPending {
		return nil, apperr.Conflict("order payment is already %s", order.PaymentStatus)
	}
	if order.OrderStatus == models.OrderCanceled {
		return nil, apperr.Conflict("order %s is canceled", orderID.Hex())
	}
	if order.TotalAmount <= 0 {
		return nil, apperr.Validation("order total must be greater than zero")
	}

	if order.IntentInFlight() {
		if reused, ok, err := c.reuseIntent(ctx, order.StripePaymentIntentID); err != nil || ok {
			return reused, err
		}
	}
	replaced := order.StripePaymentIntentID

	intent, err := c.Gateway.CreateIntent(ctx, payments.IntentRequest{
		Amount:      payments.ToMinorUnits(order.TotalAmount),
		Currency:    c.Currency,
		Description: fmt.Sprintf("parts order %s", order.ID.Hex()),
		Metadata: map[string]string{
			MetaOrderID: order.ID.Hex(),
			MetaOwnerID: actor.UserID.Hex(),
			MetaStoreID: order.StoreID.Hex(),
		},
		IdempotencyKey: fmt.Sprintf("order-%s-v%d", order.ID.Hex(), order.Version),
	})
	if err != nil {
		return nil, apperr.Gateway(err, "create payment intent")
	}

	var stored string
	err = c.retryOnConflict(ctx, func() error {
		current, err := c.Orders.FindOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if current.PaymentStatus != models.PaymentPending {
			return apperr.Conflict("order payment is already %s", current.PaymentStatus)
		}
		if current.StripePaymentIntentID != "" && current.StripePaymentIntentID != replaced {
			stored = current.StripePaymentIntentID
			return nil
		}
		current.StripePaymentIntentID = intent.ID
		current.UpdatedAt = c.now()
		if err := c.Orders.UpdateOrder(ctx, current); err != nil {
			return err
		}
		stored = intent.ID
		return nil
	})
	if err != nil {
		return nil, writeErr(err, "store payment intent on order %s", orderID.Hex())
	}
	if stored != intent.ID {
		reused, _, err := c.reuseIntent(ctx, stored)
		return reused, err
	}

	c.Logger.WithFields(logrus.Fields{
		"order_id":  orderID.Hex(),
		"intent_id": intent.ID,
		"amount":    intent.Amount,
	}).Info("order payment intent opened")
	return &IntentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret, Amount: intent.Amount, Currency: intent.Currency}, nil
}

// reuseIntent returns the in-flight intent id, if any, with its client secret.
// An intent the gateway has since canceled is not reused.
func (c *PaymentCoordinator) reuseIntent(ctx context.Context, intentID string) (*IntentResult, bool, error) {
	if intentID == "" {
		return nil, false, nil
	}
	intent, err := c.Gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, false, apperr.Gateway(err, "retrieve payment intent")
	}
	if intent.Status == "canceled" {
		return nil, false, nil
	}
	return &IntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Reused:       true,
	}, true, nil
}

// HandleGatewayCallback verifies and applies one gateway event. It returns
// nil once the event is durably processed, including duplicates, ignored
// types and unknown intents. Verification failures are GatewayError and
// storage failures InternalError.
func (c *PaymentCoordinator) HandleGatewayCallback(ctx context.Context, payload []byte, signature string) error {
	evt, err := c.Gateway.ParseEvent(payload, signature)
	if err != nil {
		c.Logger.WithError(err).Warn("rejected gateway callback")
		return apperr.Gateway(err, "invalid gateway callback")
	}

	log := c.Logger.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"intent_id":  evt.IntentID,
	})
	if evt.Outcome == payments.OutcomeIgnored || evt.IntentID == "" {
		log.Debug("gateway event acknowledged without action")
		return nil
	}

	subject, subjectID, err := c.resolveSubject(ctx, evt)
	if err != nil {
		return err
	}
	if subject == "" {
		log.Warn("gateway event for unknown payment intent")
		return nil
	}

	var (
		changed bool
		settled events.Event
	)
	err = c.retryOnConflict(ctx, func() error {
		return c.Tx.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			if subject == models.SubjectTask {
				changed, settled, err = c.settleTask(ctx, subjectID, evt)
			} else {
				changed, settled, err = c.settleOrder(ctx, subjectID, evt)
			}
			return err
		})
	})
	if errors.Is(err, db.ErrNotFound) {
		// Deleted after it was resolved; redelivery cannot succeed either.
		log.WithField("subject_id", subjectID.Hex()).Warn("gateway event for deleted payment subject")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("failed to apply gateway event")
		return apperr.Internal(err, "apply gateway event")
	}

	if changed {
		log.WithField("subject_id", subjectID.Hex()).Info("gateway event applied")
		c.publish(ctx, settled)
	} else {
		log.Debug("gateway event already reflected")
	}
	return nil
}

// resolveSubject finds the task or order holding the event's intent. Before
// the intent id is stored the subject is found through the event metadata.
// An empty subject means the intent is unknown.
func (c *PaymentCoordinator) resolveSubject(ctx context.Context, evt payments.Event) (models.SubjectType, primitive.ObjectID, error) {
	task, err := c.Tasks.FindTaskByIntentID(ctx, evt.IntentID)
	if err == nil {
		return models.SubjectTask, task.ID, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return "", primitive.NilObjectID, apperr.Internal(err, "find task by intent")
	}
	order, err := c.Orders.FindOrderByIntentID(ctx, evt.IntentID)
	if err == nil {
		return models.SubjectOrder, order.ID, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return "", primitive.NilObjectID, apperr.Internal(err, "find order by intent")
	}

	if id, err := primitive.ObjectIDFromHex(evt.Metadata[MetaTaskID]); err == nil {
		task, err := c.Tasks.FindTaskByID(ctx, id)
		if err == nil && task.StripePaymentIntentID == "" {
			return models.SubjectTask, task.ID, nil
		}
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return "", primitive.NilObjectID, apperr.Internal(err, "find task")
		}
	}
	if id, err := primitive.ObjectIDFromHex(evt.Metadata[MetaOrderID]); err == nil {
		order, err := c.Orders.FindOrderByID(ctx, id)
		if err == nil && order.StripePaymentIntentID == "" {
			return models.SubjectOrder, order.ID, nil
		}
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return "", primitive.NilObjectID, apperr.Internal(err, "find order")
		}
	}
	return "", primitive.NilObjectID, nil
}

// settleTask records the audit entry and raises the task's payment status.
// A duplicate (intent, event type) or a lower ranked outcome changes nothing.
func (c *PaymentCoordinator) settleTask(ctx context.Context, taskID primitive.ObjectID, evt payments.Event) (bool, events.Event, error) {
	task, err := c.Tasks.FindTaskByID(ctx, taskID)
	if err != nil {
		return false, events.Event{}, err
	}
	status, ok := evt.Outcome.PaymentStatus()
	if !ok {
		// Intent cancellation only affects orders.
		return false, events.Event{}, nil
	}

	var ownerID *primitive.ObjectID
	if vehicle, err := c.Vehicles.FindVehicleByID(ctx, task.VehicleID); err == nil {
		ownerID = &vehicle.OwnerID
	} else if !errors.Is(err, db.ErrNotFound) {
		return false, events.Event{}, err
	}

	now := c.now()
	created, err := c.Payments.InsertPaymentIfAbsent(ctx, &models.Payment{
		SubjectType:           models.SubjectTask,
		SubjectID:             task.ID,
		OwnerID:               ownerID,
		StoreID:               task.StoreID,
		Amount:                amountOr(evt.Amount, task.LaborCost),
		Currency:              payments.NormalizeCurrency(defaultString(evt.Currency, c.Currency)),
		StripePaymentIntentID: evt.IntentID,
		EventID:               evt.ID,
		EventType:             evt.Type,
		Status:                status,
		CreatedAt:             now,
	})
	if err != nil || !created {
		return false, events.Event{}, err
	}

	changed := false
	if task.StripePaymentIntentID == "" {
		task.StripePaymentIntentID = evt.IntentID
		changed = true
	}
	if status.Rank() > task.PaymentStatus.Rank() {
		task.PaymentStatus = status
		changed = true
	}
	if !changed {
		return false, events.Event{}, nil
	}
	task.UpdatedAt = now
	if err := c.Tasks.UpdateTask(ctx, task); err != nil {
		return false, events.Event{}, err
	}
	return true, taskEvent(events.TaskPaymentSettled, task, now), nil
}

// settleOrder applies an event to an order. Payment moves a pending order to
// processing; intent cancellation cancels an order that can still be canceled.
func (c *PaymentCoordinator) settleOrder(ctx context.Context, orderID primitive.ObjectID, evt payments.Event) (bool, events.Event, error) {
	order, err := c.Orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return false, events.Event{}, err
	}
	status, hasStatus := evt.Outcome.PaymentStatus()
	recorded := order.PaymentStatus
	if hasStatus {
		recorded = status
	}

	now := c.now()
	created, err := c.Payments.InsertPaymentIfAbsent(ctx, &models.Payment{
		SubjectType:           models.SubjectOrder,
		SubjectID:             order.ID,
		StoreID:               order.StoreID,
		Amount:                amountOr(evt.Amount, order.TotalAmount),
		Currency:              payments.NormalizeCurrency(defaultString(evt.Currency, c.Currency)),
		StripePaymentIntentID: evt.IntentID,
		EventID:               evt.ID,
		EventType:             evt.Type,
		Status:                recorded,
		CreatedAt:             now,
	})
	if err != nil || !created {
		return false, events.Event{}, err
	}

	changed := false
	if order.StripePaymentIntentID == "" {
		order.StripePaymentIntentID = evt.IntentID
		changed = true
	}
	if hasStatus && status.Rank() > order.PaymentStatus.Rank() {
		order.PaymentStatus = status
		changed = true
		if status == models.PaymentPaid && order.OrderStatus == models.OrderPending {
			order.OrderStatus = models.OrderProcessing
		}
	}
	if evt.Outcome == payments.OutcomeCanceled && order.OrderStatus.CanTransitionTo(models.OrderCanceled) {
		order.OrderStatus = models.OrderCanceled
		changed = true
	}
	if !changed {
		return false, events.Event{}, nil
	}
	order.UpdatedAt = now
	if err := c.Orders.UpdateOrder(ctx, order); err != nil {
		return false, events.Event{}, err
	}
	return true, orderEvent(events.OrderPaymentSettled, order, now), nil
}

// GetUnpaidPayments lists escalated tasks still awaiting payment: an owner's
// vehicles or a manager's store.
func (c *PaymentCoordinator) GetUnpaidPayments(ctx context.Context, p Principal) ([]models.MaintenanceTask, error) {
	actor, err := c.guard.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	escalated := true
	filter := db.TaskFilter{PaymentStatus: models.PaymentPending, PaymentEscalated: &escalated}
	switch actor.Role {
	case models.RoleOwner:
		vehicles, err := c.Vehicles.FindVehiclesByOwner(ctx, actor.UserID)
		if err != nil {
			return nil, apperr.Internal(err, "list owner vehicles")
		}
		if len(vehicles) == 0 {
			return []models.MaintenanceTask{}, nil
		}
		filter.VehicleIDs = make([]primitive.ObjectID, 0, len(vehicles))
		for _, v := range vehicles {
			filter.VehicleIDs = append(filter.VehicleIDs, v.ID)
		}
	case models.RoleManager:
		if actor.StoreID == nil {
			return nil, apperr.Forbidden("manager is not assigned to a store")
		}
		filter.StoreID = actor.StoreID
	default:
		return nil, apperr.Forbidden("only owners and managers have unpaid payments")
	}

	tasks, err := c.Tasks.FindTasks(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err, "list unpaid tasks")
	}
	return tasks, nil
}

// amountOr prefers the gateway's amount and falls back to the subject's.
func amountOr(minor int64, fallback float64) int64 {
	if minor > 0 {
		return minor
	}
	return payments.ToMinorUnits(fallback)
}
