package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CreateTaskInput is the body of a task creation request. StoreID defaults to
// the manager's own store.
type CreateTaskInput struct {
	StoreID           string     `json:"store_id"`
	TaskType          string     `json:"task_type" validate:"required"`
	ScheduledDate     *time.Time `json:"scheduled_date"`
	ScheduledMileage  *float64   `json:"scheduled_mileage" validate:"omitempty,gte=0"`
	MileageUnits      string     `json:"mileage_units" validate:"omitempty,oneof=miles kilometers"`
	LaborCost         float64    `json:"labor_cost" validate:"gte=0"`
	Priority          string     `json:"priority" validate:"omitempty,oneof=high medium low"`
	EstimatedDuration float64    `json:"estimated_duration" validate:"gte=0"`
	Notes             string     `json:"notes"`
}

// StatusInput requests a status transition. CompletedMileage is required when
// moving to completed.
type StatusInput struct {
	Status           models.TaskStatus `json:"status" validate:"required"`
	CompletedMileage *float64          `json:"completed_mileage" validate:"omitempty,gte=0"`
}

// PartInput is one replaced part. VendorID defaults to the task's vendor.
type PartInput struct {
	PartID   string `json:"part_id" validate:"required"`
	VendorID string `json:"vendor_id"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

// CompletionInput attributes a completed task's cost to a vendor. VendorID and
// Parts are supplied together or not at all.
type CompletionInput struct {
	VendorID      string      `json:"vendor_id"`
	PartsReplaced []PartInput `json:"parts_replaced" validate:"dive"`
}

// UpdateTaskInput patches a task. Nil fields are left unchanged. Store and
// payment fields are not writable.
type UpdateTaskInput struct {
	TaskType          *string            `json:"task_type" validate:"omitempty,min=1"`
	ScheduledDate     *time.Time         `json:"scheduled_date"`
	ScheduledMileage  *float64           `json:"scheduled_mileage" validate:"omitempty,gte=0"`
	MileageUnits      *string            `json:"mileage_units" validate:"omitempty,oneof=miles kilometers"`
	LaborCost         *float64           `json:"labor_cost" validate:"omitempty,gte=0"`
	Priority          *string            `json:"priority" validate:"omitempty,oneof=high medium low"`
	EstimatedDuration *float64           `json:"estimated_duration" validate:"omitempty,gte=0"`
	ActualDuration    *float64           `json:"actual_duration" validate:"omitempty,gte=0"`
	Notes             *string            `json:"notes"`
	Status            *models.TaskStatus `json:"task_status"`
	CompletedMileage  *float64           `json:"completed_mileage" validate:"omitempty,gte=0"`
	VendorID          *string            `json:"vendor_id"`
	PartsReplaced     []PartInput        `json:"parts_replaced" validate:"omitempty,dive"`
}

func (in UpdateTaskInput) hasCompletionDetails() bool {
	return in.VendorID != nil || in.PartsReplaced != nil
}

// TaskQuery filters a store's task list.
type TaskQuery struct {
	Status models.TaskStatus
	Page   int
	Limit  int
}

// TaskPage is one page of tasks.
type TaskPage struct {
	Tasks []models.MaintenanceTask `json:"tasks"`
	Total int64                    `json:"total"`
	Page  int                      `json:"page"`
	Limit int                      `json:"limit"`
}

// TaskService owns the maintenance task state machine and keeps each
// vehicle's derived status in step with its tasks.
type TaskService struct {
	Deps
	guard *Guard
}

// NewTaskService creates a TaskService.
func NewTaskService(deps Deps) *TaskService {
	deps = deps.withDefaults()
	return &TaskService{Deps: deps, guard: NewGuard(deps.Users)}
}

// CreateTask schedules a new task for vehicleID at the manager's store.
func (s *TaskService) CreateTask(ctx context.Context, p Principal, vehicleHex string, in CreateTaskInput) (*models.MaintenanceTask, error) {
	vehicleID, err := ParseID("vehicle", vehicleHex)
	if err != nil {
		return nil, err
	}
	storeID := primitive.NilObjectID
	if in.StoreID != "" {
		if storeID, err = ParseID("store", in.StoreID); err != nil {
			return nil, err
		}
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	_, managed, err := s.guard.requireManager(ctx, p)
	if err != nil {
		return nil, err
	}
	if storeID.IsZero() {
		storeID = managed
	}
	if storeID != managed {
		return nil, apperr.Forbidden("manager does not belong to store %s", storeID.Hex())
	}

	vehicle, err := s.Vehicles.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, lookupErr(err, "vehicle %s not found", vehicleID.Hex())
	}
	store, err := s.Catalog.FindStoreByID(ctx, storeID)
	if err != nil {
		return nil, lookupErr(err, "store %s not found", storeID.Hex())
	}

	now := s.now()
	task := &models.MaintenanceTask{
		ID:                primitive.NewObjectID(),
		VehicleID:         vehicle.ID,
		StoreID:           store.ID,
		TaskType:          in.TaskType,
		ServiceProvider:   store.Name,
		TaskStatus:        models.TaskScheduled,
		Priority:          defaultString(in.Priority, models.PriorityMedium),
		ScheduledDate:     in.ScheduledDate,
		ScheduledMileage:  in.ScheduledMileage,
		MileageUnits:      defaultString(in.MileageUnits, models.UnitsMiles),
		EstimatedDuration: in.EstimatedDuration,
		LaborCost:         in.LaborCost,
		PartsReplaced:     []models.PartReplaced{},
		Notes:             in.Notes,
		PaymentStatus:     models.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.Tasks.InsertTask(ctx, task); err != nil {
			return apperr.Internal(err, "create task")
		}
		if err := s.Vehicles.AddMaintenanceStore(ctx, vehicle.ID, store.ID); err != nil {
			return lookupErr(err, "vehicle %s not found", vehicle.ID.Hex())
		}
		return s.syncVehicle(ctx, task, now)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"task_id":    task.ID.Hex(),
		"vehicle_id": vehicle.ID.Hex(),
		"store_id":   store.ID.Hex(),
	}).Info("maintenance task created")
	s.publish(ctx, taskEvent(events.TaskCreated, task, now))
	return task, nil
}

// UpdateTaskStatus moves a task along the state machine and propagates the
// change to its vehicle.
func (s *TaskService) UpdateTaskStatus(ctx context.Context, p Principal, taskHex string, in StatusInput) (*models.MaintenanceTask, error) {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if !models.IsValidTaskStatus(in.Status) {
		return nil, apperr.Validation("unknown task status %q", in.Status)
	}

	var task *models.MaintenanceTask
	now := s.now()
	err = s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		task, _, err = s.loadForAction(ctx, p, taskID, ActionMutate)
		if err != nil {
			return err
		}
		if task.TaskStatus == in.Status {
			return apperr.Conflict("task is already %s", in.Status)
		}
		if err := applyStatus(task, in.Status, in.CompletedMileage, now); err != nil {
			return err
		}
		task.UpdatedAt = now
		if err := s.Tasks.UpdateTask(ctx, task); err != nil {
			return writeErr(err, "update task %s", taskID.Hex())
		}
		return s.syncVehicle(ctx, task, now)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"task_id": task.ID.Hex(),
		"status":  task.TaskStatus,
	}).Info("maintenance task status changed")
	s.publish(ctx, taskEvent(events.TaskStatusChanged, task, now))
	return task, nil
}

// UpdateTask applies a field patch, an optional status transition and
// optional completion details as one write.
func (s *TaskService) UpdateTask(ctx context.Context, p Principal, taskHex string, in UpdateTaskInput) (*models.MaintenanceTask, error) {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if in.Status != nil && !models.IsValidTaskStatus(*in.Status) {
		return nil, apperr.Validation("unknown task status %q", *in.Status)
	}

	var (
		task          *models.MaintenanceTask
		statusChanged bool
	)
	now := s.now()
	err = s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		task, _, err = s.loadForAction(ctx, p, taskID, ActionMutate)
		if err != nil {
			return err
		}

		if in.LaborCost != nil && *in.LaborCost != task.LaborCost && task.PaymentEscalated {
			return apperr.Conflict("labor cost cannot change after payment escalation")
		}
		patchTask(task, in)

		if in.Status != nil && *in.Status != task.TaskStatus {
			if err := applyStatus(task, *in.Status, in.CompletedMileage, now); err != nil {
				return err
			}
			statusChanged = true
		}

		if in.hasCompletionDetails() {
			if task.TaskStatus != models.TaskCompleted {
				return apperr.Conflict("completion details require a completed task")
			}
			details := CompletionInput{PartsReplaced: in.PartsReplaced}
			if in.VendorID != nil {
				details.VendorID = *in.VendorID
			}
			if err := s.applyCompletionDetails(ctx, task, details); err != nil {
				return err
			}
		}

		task.UpdatedAt = now
		if err := s.Tasks.UpdateTask(ctx, task); err != nil {
			return writeErr(err, "update task %s", taskID.Hex())
		}
		if statusChanged {
			return s.syncVehicle(ctx, task, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if statusChanged {
		s.publish(ctx, taskEvent(events.TaskStatusChanged, task, now))
	}
	return task, nil
}

// RecordCompletionDetails attributes a completed task's parts to a vendor.
func (s *TaskService) RecordCompletionDetails(ctx context.Context, p Principal, taskHex string, in CompletionInput) (*models.MaintenanceTask, error) {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	var task *models.MaintenanceTask
	err = s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		task, _, err = s.loadForAction(ctx, p, taskID, ActionMutate)
		if err != nil {
			return err
		}
		if task.TaskStatus != models.TaskCompleted {
			return apperr.Conflict("completion details require a completed task")
		}
		if err := s.applyCompletionDetails(ctx, task, in); err != nil {
			return err
		}
		task.UpdatedAt = s.now()
		if err := s.Tasks.UpdateTask(ctx, task); err != nil {
			return writeErr(err, "update task %s", taskID.Hex())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask returns a task to its vehicle's owner, its store's manager or an admin.
func (s *TaskService) GetTask(ctx context.Context, p Principal, taskHex string) (*models.MaintenanceTask, error) {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return nil, err
	}
	task, _, err := s.loadForAction(ctx, p, taskID, ActionRead)
	return task, err
}

// ListVehicleTasks returns the tasks of a vehicle visible to the actor,
// newest first. Managers only see their own store's work.
func (s *TaskService) ListVehicleTasks(ctx context.Context, p Principal, vehicleHex string) ([]models.MaintenanceTask, error) {
	vehicleID, err := ParseID("vehicle", vehicleHex)
	if err != nil {
		return nil, err
	}
	actor, err := s.guard.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.Vehicles.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, lookupErr(err, "vehicle %s not found", vehicleID.Hex())
	}

	filter := db.TaskFilter{VehicleID: &vehicle.ID}
	switch {
	case actor.Role == models.RoleAdmin:
	case actor.Role == models.RoleOwner && vehicle.OwnerID == actor.UserID:
	case actor.Role == models.RoleManager && actor.StoreID != nil && vehicle.HasMaintenanceStore(*actor.StoreID):
		filter.StoreID = actor.StoreID
	default:
		return nil, apperr.Forbidden("not allowed to view tasks of vehicle %s", vehicleID.Hex())
	}

	tasks, err := s.Tasks.FindTasks(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err, "list tasks")
	}
	return tasks, nil
}

// ListStoreTasks pages through the tasks of the manager's store.
func (s *TaskService) ListStoreTasks(ctx context.Context, p Principal, q TaskQuery) (*TaskPage, error) {
	_, storeID, err := s.guard.requireManager(ctx, p)
	if err != nil {
		return nil, err
	}
	if q.Status != "" && !models.IsValidTaskStatus(q.Status) {
		return nil, apperr.Validation("unknown task status %q", q.Status)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 10
	}

	filter := db.TaskFilter{StoreID: &storeID, TaskStatus: q.Status, Page: q.Page, Limit: q.Limit}
	tasks, err := s.Tasks.FindTasks(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err, "list tasks")
	}
	total, err := s.Tasks.CountTasks(ctx, filter)
	if err != nil {
		return nil, apperr.Internal(err, "count tasks")
	}
	return &TaskPage{Tasks: tasks, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

// DeleteTask removes a task. Admin only, and refused until the task's payment
// is paid, failed or refunded. A pending payment, escalated or not, blocks it.
func (s *TaskService) DeleteTask(ctx context.Context, p Principal, taskHex string) error {
	taskID, err := ParseID("task", taskHex)
	if err != nil {
		return err
	}

	now := s.now()
	return s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		task, vehicle, err := s.loadForAction(ctx, p, taskID, ActionDelete)
		if err != nil {
			return err
		}
		if !task.PaymentStatus.IsTerminal() {
			return apperr.Conflict("task %s payment is %s, not settled", taskID.Hex(), task.PaymentStatus)
		}
		if err := s.Tasks.DeleteTask(ctx, taskID); err != nil {
			return lookupErr(err, "task %s not found", taskID.Hex())
		}
		if vehicle != nil && vehicle.StatusTaskID == task.ID {
			if err := s.restoreVehicle(ctx, task, now); err != nil {
				return err
			}
		}
		s.Logger.WithField("task_id", taskID.Hex()).Warn("maintenance task deleted")
		return nil
	})
}

// loadForAction resolves the actor, loads the task and its vehicle and
// checks the actor may perform action.
func (s *TaskService) loadForAction(ctx context.Context, p Principal, taskID primitive.ObjectID, action Action) (*models.MaintenanceTask, *models.Vehicle, error) {
	return loadTaskForAction(ctx, s.Deps, s.guard, p, taskID, action)
}

func loadTaskForAction(ctx context.Context, d Deps, guard *Guard, p Principal, taskID primitive.ObjectID, action Action) (*models.MaintenanceTask, *models.Vehicle, error) {
	actor, err := guard.Resolve(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	task, err := d.Tasks.FindTaskByID(ctx, taskID)
	if err != nil {
		return nil, nil, lookupErr(err, "task %s not found", taskID.Hex())
	}
	vehicle, err := d.Vehicles.FindVehicleByID(ctx, task.VehicleID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, nil, apperr.Internal(err, "load vehicle")
	}
	if !CanActOnTask(actor, action, task, vehicle) {
		return nil, nil, apperr.Forbidden("not allowed to %s task %s", action, taskID.Hex())
	}
	return task, vehicle, nil
}

// applyStatus validates and applies a transition in memory. Completion stamps
// the date and mileage; nothing else may set them.
func applyStatus(task *models.MaintenanceTask, next models.TaskStatus, completedMileage *float64, now time.Time) error {
	if task.TaskStatus.IsTerminal() {
		return apperr.Conflict("task is %s and can no longer change status", task.TaskStatus)
	}
	if !task.TaskStatus.CanTransitionTo(next) {
		return apperr.Conflict("cannot move task from %s to %s", task.TaskStatus, next)
	}
	if next == models.TaskCompleted {
		if completedMileage == nil {
			return apperr.Validation("completed_mileage is required to complete a task")
		}
		mileage := *completedMileage
		completedAt := now
		task.CompletedMileage = &mileage
		task.CompletedDate = &completedAt
	}
	task.TaskStatus = next
	return nil
}

func patchTask(task *models.MaintenanceTask, in UpdateTaskInput) {
	if in.TaskType != nil {
		task.TaskType = *in.TaskType
	}
	if in.ScheduledDate != nil {
		task.ScheduledDate = in.ScheduledDate
	}
	if in.ScheduledMileage != nil {
		task.ScheduledMileage = in.ScheduledMileage
	}
	if in.MileageUnits != nil {
		task.MileageUnits = *in.MileageUnits
	}
	if in.LaborCost != nil {
		task.LaborCost = *in.LaborCost
	}
	if in.Priority != nil {
		task.Priority = *in.Priority
	}
	if in.EstimatedDuration != nil {
		task.EstimatedDuration = *in.EstimatedDuration
	}
	if in.ActualDuration != nil {
		task.ActualDuration = *in.ActualDuration
	}
	if in.Notes != nil {
		task.Notes = *in.Notes
	}
}

// applyCompletionDetails checks the vendor and parts exist and belong together.
func (s *TaskService) applyCompletionDetails(ctx context.Context, task *models.MaintenanceTask, in CompletionInput) error {
	if (in.VendorID == "") != (len(in.PartsReplaced) == 0) {
		return apperr.Validation("vendor_id and parts_replaced must be supplied together")
	}
	if in.VendorID == "" {
		return nil
	}

	vendorID, err := ParseID("vendor", in.VendorID)
	if err != nil {
		return err
	}
	if _, err := s.Catalog.FindVendorByID(ctx, vendorID); err != nil {
		return lookupErr(err, "vendor %s not found", vendorID.Hex())
	}

	parts := make([]models.PartReplaced, 0, len(in.PartsReplaced))
	for i, pi := range in.PartsReplaced {
		if pi.Quantity < 1 {
			return apperr.Validation("parts_replaced[%d]: quantity must be at least 1", i)
		}
		partID, err := ParseID("part", pi.PartID)
		if err != nil {
			return err
		}
		partVendor := vendorID
		if pi.VendorID != "" {
			if partVendor, err = ParseID("vendor", pi.VendorID); err != nil {
				return err
			}
			if partVendor != vendorID {
				if _, err := s.Catalog.FindVendorByID(ctx, partVendor); err != nil {
					return lookupErr(err, "vendor %s not found", partVendor.Hex())
				}
			}
		}
		part, err := s.Catalog.FindPartByID(ctx, partID)
		if err != nil {
			return lookupErr(err, "part %s not found", partID.Hex())
		}
		if part.VendorID != partVendor {
			return apperr.Validation("part %s is not sold by vendor %s", partID.Hex(), partVendor.Hex())
		}
		parts = append(parts, models.PartReplaced{PartID: partID, VendorID: partVendor, Quantity: pi.Quantity})
	}

	task.VendorID = &vendorID
	task.PartsReplaced = parts
	return nil
}

// syncVehicle projects the task's status onto its vehicle. Cancellation
// restores the vehicle from its other tasks instead.
func (s *TaskService) syncVehicle(ctx context.Context, task *models.MaintenanceTask, at time.Time) error {
	if task.TaskStatus == models.TaskCanceled {
		return s.restoreVehicle(ctx, task, at)
	}
	return s.setVehicleStatus(ctx, task.VehicleID, task.TaskStatus, task.ID, at)
}

// restoreVehicle sets the vehicle to the status of its most recently created
// other non-canceled task, or canceled when there is none.
func (s *TaskService) restoreVehicle(ctx context.Context, task *models.MaintenanceTask, at time.Time) error {
	status, driver := models.TaskCanceled, task.ID
	latest, err := s.Tasks.FindLatestActiveTask(ctx, task.VehicleID, task.ID)
	switch {
	case err == nil:
		status, driver = latest.TaskStatus, latest.ID
	case !errors.Is(err, db.ErrNotFound):
		return apperr.Internal(err, "find latest task of vehicle %s", task.VehicleID.Hex())
	}
	return s.setVehicleStatus(ctx, task.VehicleID, status, driver, at)
}

func (s *TaskService) setVehicleStatus(ctx context.Context, vehicleID primitive.ObjectID, status models.TaskStatus, driver primitive.ObjectID, at time.Time) error {
	applied, err := s.Vehicles.SetStatusIfNewer(ctx, vehicleID, status, driver, at)
	if err != nil {
		return apperr.Internal(err, "update vehicle %s status", vehicleID.Hex())
	}
	if !applied {
		s.Logger.WithFields(logrus.Fields{
			"vehicle_id": vehicleID.Hex(),
			"task_id":    driver.Hex(),
			"status":     status,
		}).Info("skipped stale vehicle status write")
	}
	return nil
}

func taskEvent(kind string, task *models.MaintenanceTask, at time.Time) events.Event {
	return events.Event{
		Type:          kind,
		SubjectID:     task.ID.Hex(),
		StoreID:       task.StoreID.Hex(),
		VehicleID:     task.VehicleID.Hex(),
		Status:        string(task.TaskStatus),
		PaymentStatus: string(task.PaymentStatus),
		OccurredAt:    at,
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
