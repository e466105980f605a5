package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/services"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockUserCollection is a mock implementation of db.UserCollection
type MockUserCollection struct {
	mock.Mock
}

func (m *MockUserCollection) InsertUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserCollection) FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserCollection) UpdateLastLogin(ctx context.Context, id primitive.ObjectID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockTaskService is a mock implementation of TaskService
type MockTaskService struct {
	mock.Mock
}

func (m *MockTaskService) task(args mock.Arguments) (*models.MaintenanceTask, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MaintenanceTask), args.Error(1)
}

func (m *MockTaskService) CreateTask(ctx context.Context, p services.Principal, vehicleID string, in services.CreateTaskInput) (*models.MaintenanceTask, error) {
	return m.task(m.Called(ctx, p, vehicleID, in))
}

func (m *MockTaskService) UpdateTaskStatus(ctx context.Context, p services.Principal, taskID string, in services.StatusInput) (*models.MaintenanceTask, error) {
	return m.task(m.Called(ctx, p, taskID, in))
}

func (m *MockTaskService) UpdateTask(ctx context.Context, p services.Principal, taskID string, in services.UpdateTaskInput) (*models.MaintenanceTask, error) {
	return m.task(m.Called(ctx, p, taskID, in))
}

func (m *MockTaskService) RecordCompletionDetails(ctx context.Context, p services.Principal, taskID string, in services.CompletionInput) (*models.MaintenanceTask, error) {
	return m.task(m.Called(ctx, p, taskID, in))
}

func (m *MockTaskService) GetTask(ctx context.Context, p services.Principal, taskID string) (*models.MaintenanceTask, error) {
	return m.task(m.Called(ctx, p, taskID))
}

func (m *MockTaskService) ListVehicleTasks(ctx context.Context, p services.Principal, vehicleID string) ([]models.MaintenanceTask, error) {
	args := m.Called(ctx, p, vehicleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MaintenanceTask), args.Error(1)
}

func (m *MockTaskService) ListStoreTasks(ctx context.Context, p services.Principal, q services.TaskQuery) (*services.TaskPage, error) {
	args := m.Called(ctx, p, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.TaskPage), args.Error(1)
}

func (m *MockTaskService) DeleteTask(ctx context.Context, p services.Principal, taskID string) error {
	return m.Called(ctx, p, taskID).Error(0)
}

// MockPaymentService is a mock implementation of PaymentService
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) EscalatePayment(ctx context.Context, p services.Principal, taskID string) (*models.MaintenanceTask, error) {
	args := m.Called(ctx, p, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MaintenanceTask), args.Error(1)
}

func (m *MockPaymentService) CreatePaymentIntent(ctx context.Context, p services.Principal, taskID string) (*services.IntentResult, error) {
	args := m.Called(ctx, p, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.IntentResult), args.Error(1)
}

func (m *MockPaymentService) CreateOrderPaymentIntent(ctx context.Context, p services.Principal, orderID string) (*services.IntentResult, error) {
	args := m.Called(ctx, p, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.IntentResult), args.Error(1)
}

func (m *MockPaymentService) HandleGatewayCallback(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

func (m *MockPaymentService) GetUnpaidPayments(ctx context.Context, p services.Principal) ([]models.MaintenanceTask, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MaintenanceTask), args.Error(1)
}

// MockOrderService is a mock implementation of OrderService
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, p services.Principal, in services.CreateOrderInput) (*models.Order, error) {
	args := m.Called(ctx, p, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) ListStoreOrders(ctx context.Context, p services.Principal, status models.OrderStatus) ([]models.Order, error) {
	args := m.Called(ctx, p, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, p services.Principal, orderID string, in services.OrderStatusInput) (*models.Order, error) {
	args := m.Called(ctx, p, orderID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}
