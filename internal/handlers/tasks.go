package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/services"
)

// TaskService is the maintenance task lifecycle used by TaskHandler.
type TaskService interface {
	CreateTask(ctx context.Context, p services.Principal, vehicleID string, in services.CreateTaskInput) (*models.MaintenanceTask, error)
	UpdateTaskStatus(ctx context.Context, p services.Principal, taskID string, in services.StatusInput) (*models.MaintenanceTask, error)
	UpdateTask(ctx context.Context, p services.Principal, taskID string, in services.UpdateTaskInput) (*models.MaintenanceTask, error)
	RecordCompletionDetails(ctx context.Context, p services.Principal, taskID string, in services.CompletionInput) (*models.MaintenanceTask, error)
	GetTask(ctx context.Context, p services.Principal, taskID string) (*models.MaintenanceTask, error)
	ListVehicleTasks(ctx context.Context, p services.Principal, vehicleID string) ([]models.MaintenanceTask, error)
	ListStoreTasks(ctx context.Context, p services.Principal, q services.TaskQuery) (*services.TaskPage, error)
	DeleteTask(ctx context.Context, p services.Principal, taskID string) error
}

// TaskHandler serves the maintenance task endpoints
type TaskHandler struct {
	tasks  TaskService
	logger logrus.FieldLogger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks TaskService, logger logrus.FieldLogger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

// Create schedules a task for the vehicle in the path
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var in services.CreateTaskInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	task, err := h.tasks.CreateTask(r.Context(), p, r.PathValue("vehicleId"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// Get returns one task
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request, p services.Principal) {
	task, err := h.tasks.GetTask(r.Context(), p, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListByVehicle returns the task history of a vehicle
func (h *TaskHandler) ListByVehicle(w http.ResponseWriter, r *http.Request, p services.Principal) {
	tasks, err := h.tasks.ListVehicleTasks(r.Context(), p, r.PathValue("vehicleId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListStore pages through the caller's store tasks. Accepts status, page and limit.
func (h *TaskHandler) ListStore(w http.ResponseWriter, r *http.Request, p services.Principal) {
	query := r.URL.Query()
	q := services.TaskQuery{Status: models.TaskStatus(query.Get("status"))}
	var err error
	if v := query.Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			writeError(w, r, h.logger, apperr.Validation("page must be a number"))
			return
		}
	}
	if v := query.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, r, h.logger, apperr.Validation("limit must be a number"))
			return
		}
	}

	page, err := h.tasks.ListStoreTasks(r.Context(), p, q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Update patches task fields, status and completion details in one step
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var in services.UpdateTaskInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	task, err := h.tasks.UpdateTask(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// UpdateStatus moves a task along its state machine
func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var in services.StatusInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	task, err := h.tasks.UpdateTaskStatus(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RecordCompletion attaches vendor and replaced parts to a completed task
func (h *TaskHandler) RecordCompletion(w http.ResponseWriter, r *http.Request, p services.Principal) {
	var in services.CompletionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	task, err := h.tasks.RecordCompletionDetails(r.Context(), p, r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Delete removes a task
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request, p services.Principal) {
	if err := h.tasks.DeleteTask(r.Context(), p, r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
