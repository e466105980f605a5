package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate = validator.New()

// Principal is the identity carried by a verified token.
type Principal struct {
	UserID string
	Role   models.Role
}

// Actor is a principal resolved against the current user record.
type Actor struct {
	UserID  primitive.ObjectID
	Role    models.Role
	StoreID *primitive.ObjectID
}

// ManagesStore reports whether the actor is a manager currently assigned to storeID.
func (a Actor) ManagesStore(storeID primitive.ObjectID) bool {
	return a.Role == models.RoleManager && a.StoreID != nil && *a.StoreID == storeID
}

// Action is something an actor may attempt on a task.
type Action string

const (
	ActionRead     Action = "read"
	ActionMutate   Action = "mutate"
	ActionEscalate Action = "escalate"
	ActionPay      Action = "pay"
	ActionDelete   Action = "delete"
)

// CanActOnTask is the single authorization rule for tasks. vehicle may be nil
// when the task's vehicle no longer exists; owner capabilities are then denied.
func CanActOnTask(actor Actor, action Action, task *models.MaintenanceTask, vehicle *models.Vehicle) bool {
	ownsVehicle := vehicle != nil && vehicle.ID == task.VehicleID && vehicle.OwnerID == actor.UserID

	switch actor.Role {
	case models.RoleAdmin:
		return action == ActionRead || action == ActionDelete
	case models.RoleManager:
		if !actor.ManagesStore(task.StoreID) {
			return false
		}
		return action == ActionRead || action == ActionMutate || action == ActionEscalate
	case models.RoleOwner:
		if !ownsVehicle {
			return false
		}
		return action == ActionRead || action == ActionEscalate || action == ActionPay
	default:
		return false
	}
}

// Guard resolves principals into actors. The store assignment is re-read on
// every call since it can change between requests.
type Guard struct {
	users db.UserCollection
}

// NewGuard creates a Guard backed by users.
func NewGuard(users db.UserCollection) *Guard {
	return &Guard{users: users}
}

// Resolve loads the principal's current user record.
func (g *Guard) Resolve(ctx context.Context, p Principal) (Actor, error) {
	id, err := primitive.ObjectIDFromHex(p.UserID)
	if err != nil {
		return Actor{}, apperr.Forbidden("unknown user")
	}
	user, err := g.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Actor{}, apperr.Forbidden("unknown user")
		}
		return Actor{}, apperr.Internal(err, "load user")
	}
	if !user.IsActive {
		return Actor{}, apperr.Forbidden("user is inactive")
	}
	return Actor{UserID: user.ID, Role: user.Role, StoreID: user.StoreID}, nil
}

// requireManager resolves p and returns the store it manages.
func (g *Guard) requireManager(ctx context.Context, p Principal) (Actor, primitive.ObjectID, error) {
	actor, err := g.Resolve(ctx, p)
	if err != nil {
		return Actor{}, primitive.NilObjectID, err
	}
	if actor.Role != models.RoleManager {
		return Actor{}, primitive.NilObjectID, apperr.Forbidden("only store managers can perform this action")
	}
	if actor.StoreID == nil {
		return Actor{}, primitive.NilObjectID, apperr.Forbidden("manager is not assigned to a store")
	}
	return actor, *actor.StoreID, nil
}

// ParseID validates the shape of a reference id. A malformed id is a
// validation error, never a not-found.
func ParseID(kind, hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(hex))
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("invalid %s id %q", kind, hex)
	}
	return id, nil
}

// validateStruct applies the validate tags of in.
func validateStruct(in any) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return apperr.Validation("invalid input: %s", strings.Join(fields, "; "))
		}
		return apperr.Validation("invalid input: %v", err)
	}
	return nil
}

// lookupErr turns a store error into NotFound or Internal.
func lookupErr(err error, format string, args ...any) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Internal(err, format, args...)
}

// writeErr maps a failed write. Version conflicts mean the record changed
// since it was read.
func writeErr(err error, format string, args ...any) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, db.ErrVersionConflict) {
		return apperr.Conflict("%s: modified concurrently, re-fetch and retry", fmt.Sprintf(format, args...))
	}
	return lookupErr(err, format, args...)
}
