package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/payments"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memStore is an in-memory implementation of every collection. Transactions
// are serialized and roll back on error.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	vehicles map[primitive.ObjectID]models.Vehicle
	tasks    map[primitive.ObjectID]models.MaintenanceTask
	orders   map[primitive.ObjectID]models.Order
	payments []models.Payment
	stores   map[primitive.ObjectID]models.Store
	parts    map[primitive.ObjectID]models.Part
	vendors  map[primitive.ObjectID]models.Vendor
	users    map[primitive.ObjectID]models.User

	// taskConflicts forces the next n UpdateTask calls to fail with a version conflict.
	taskConflicts int
	// failUpdates makes every UpdateTask and UpdateOrder fail.
	failUpdates error
	// auditConflicts makes the next n audit inserts report a concurrent insert.
	auditConflicts int
	// onTransaction runs before each transaction body.
	onTransaction func()
}

var (
	_ db.VehicleCollection = (*memStore)(nil)
	_ db.TaskCollection    = (*memStore)(nil)
	_ db.OrderCollection   = (*memStore)(nil)
	_ db.PaymentCollection = (*memStore)(nil)
	_ db.CatalogCollection = (*memStore)(nil)
	_ db.UserCollection    = (*memStore)(nil)
	_ db.Transactor        = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		vehicles: map[primitive.ObjectID]models.Vehicle{},
		tasks:    map[primitive.ObjectID]models.MaintenanceTask{},
		orders:   map[primitive.ObjectID]models.Order{},
		stores:   map[primitive.ObjectID]models.Store{},
		parts:    map[primitive.ObjectID]models.Part{},
		vendors:  map[primitive.ObjectID]models.Vendor{},
		users:    map[primitive.ObjectID]models.User{},
	}
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if m.onTransaction != nil {
		m.onTransaction()
	}

	m.mu.Lock()
	vehicles := cloneMap(m.vehicles)
	tasks := cloneMap(m.tasks)
	orders := cloneMap(m.orders)
	paymentsLog := append([]models.Payment(nil), m.payments...)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.vehicles, m.tasks, m.orders, m.payments = vehicles, tasks, orders, paymentsLog
		m.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) InsertVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	m.vehicles[v.ID] = *v
	return nil
}

func (m *memStore) FindVehicleByID(_ context.Context, id primitive.ObjectID) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	v.MaintenanceStores = append([]primitive.ObjectID(nil), v.MaintenanceStores...)
	return &v, nil
}

func (m *memStore) FindVehiclesByOwner(_ context.Context, ownerID primitive.ObjectID) ([]models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Vehicle{}
	for _, v := range m.vehicles {
		if v.OwnerID == ownerID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) AddMaintenanceStore(_ context.Context, vehicleID, storeID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		return db.ErrNotFound
	}
	if !v.HasMaintenanceStore(storeID) {
		v.MaintenanceStores = append(append([]primitive.ObjectID(nil), v.MaintenanceStores...), storeID)
	}
	m.vehicles[vehicleID] = v
	return nil
}

func (m *memStore) SetStatusIfNewer(_ context.Context, vehicleID primitive.ObjectID, status models.TaskStatus, taskID primitive.ObjectID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok || (!v.StatusUpdatedAt.IsZero() && v.StatusUpdatedAt.After(at)) {
		return false, nil
	}
	v.Status, v.StatusTaskID, v.StatusUpdatedAt = status, taskID, at
	m.vehicles[vehicleID] = v
	return true, nil
}

func (m *memStore) InsertTask(_ context.Context, t *models.MaintenanceTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID.IsZero() {
		t.ID = primitive.NewObjectID()
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *memStore) FindTaskByID(_ context.Context, id primitive.ObjectID) (*models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) FindTaskByIntentID(_ context.Context, intentID string) (*models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.StripePaymentIntentID == intentID {
			return &t, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) matchTasks(f db.TaskFilter) []models.MaintenanceTask {
	out := []models.MaintenanceTask{}
	for _, t := range m.tasks {
		switch {
		case f.VehicleID != nil && t.VehicleID != *f.VehicleID:
			continue
		case f.VehicleID == nil && f.VehicleIDs != nil && !containsID(f.VehicleIDs, t.VehicleID):
			continue
		case f.StoreID != nil && t.StoreID != *f.StoreID:
			continue
		case f.TaskStatus != "" && t.TaskStatus != f.TaskStatus:
			continue
		case f.PaymentStatus != "" && t.PaymentStatus != f.PaymentStatus:
			continue
		case f.PaymentEscalated != nil && t.PaymentEscalated != *f.PaymentEscalated:
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})
	return out
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (m *memStore) FindTasks(_ context.Context, f db.TaskFilter) ([]models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.matchTasks(f)
	if f.Limit > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * f.Limit
		if start >= len(out) {
			return []models.MaintenanceTask{}, nil
		}
		end := start + f.Limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (m *memStore) CountTasks(_ context.Context, f db.TaskFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.matchTasks(f))), nil
}

func (m *memStore) FindLatestActiveTask(_ context.Context, vehicleID, excludeID primitive.ObjectID) (*models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.matchTasks(db.TaskFilter{VehicleID: &vehicleID}) {
		if t.ID != excludeID && t.TaskStatus != models.TaskCanceled {
			return &t, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) UpdateTask(_ context.Context, t *models.MaintenanceTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates != nil {
		return m.failUpdates
	}
	current, ok := m.tasks[t.ID]
	if !ok {
		return db.ErrNotFound
	}
	if m.taskConflicts > 0 {
		m.taskConflicts--
		return db.ErrVersionConflict
	}
	if current.Version != t.Version {
		return db.ErrVersionConflict
	}
	t.Version++
	m.tasks[t.ID] = *t
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) InsertOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *memStore) FindOrderByID(_ context.Context, id primitive.ObjectID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &o, nil
}

func (m *memStore) FindOrderByIntentID(_ context.Context, intentID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.StripePaymentIntentID == intentID {
			return &o, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) FindOrders(_ context.Context, f db.OrderFilter) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if f.StoreID != nil && o.StoreID != *f.StoreID {
			continue
		}
		if f.OrderStatus != "" && o.OrderStatus != f.OrderStatus {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates != nil {
		return m.failUpdates
	}
	current, ok := m.orders[o.ID]
	if !ok {
		return db.ErrNotFound
	}
	if current.Version != o.Version {
		return db.ErrVersionConflict
	}
	o.Version++
	m.orders[o.ID] = *o
	return nil
}

func (m *memStore) InsertPaymentIfAbsent(_ context.Context, p *models.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditConflicts > 0 {
		m.auditConflicts--
		return false, fmt.Errorf("%w: audit record inserted concurrently", db.ErrVersionConflict)
	}
	for _, existing := range m.payments {
		if existing.StripePaymentIntentID == p.StripePaymentIntentID && existing.EventType == p.EventType {
			return false, nil
		}
	}
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	m.payments = append(m.payments, *p)
	return true, nil
}

func (m *memStore) FindPaymentsBySubject(_ context.Context, subjectType models.SubjectType, subjectID primitive.ObjectID) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if p.SubjectType == subjectType && p.SubjectID == subjectID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) FindStoreByID(_ context.Context, id primitive.ObjectID) (*models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) FindPartByID(_ context.Context, id primitive.ObjectID) (*models.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) FindVendorByID(_ context.Context, id primitive.ObjectID) (*models.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &v, nil
}

func (m *memStore) InsertUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	u.IsActive = true
	m.users[u.ID] = *u
	return nil
}

func (m *memStore) FindUserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (m *memStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) UpdateLastLogin(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return db.ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	m.users[id] = u
	return nil
}

// setUserStore reassigns a manager between requests.
func (m *memStore) setUserStore(id primitive.ObjectID, storeID *primitive.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.StoreID = storeID
	m.users[id] = u
}

func (m *memStore) task(t *testing.T, id primitive.ObjectID) models.MaintenanceTask {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	require.True(t, ok, "task %s missing", id.Hex())
	return task
}

func (m *memStore) vehicle(t *testing.T, id primitive.ObjectID) models.Vehicle {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	require.True(t, ok, "vehicle %s missing", id.Hex())
	return v
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

const validSignature = "t=1,v1=valid"

// fakeGateway records intent requests and decodes callbacks as JSON events.
type fakeGateway struct {
	mu          sync.Mutex
	requests    []payments.IntentRequest
	intents     map[string]payments.Intent
	createErr   error
	retrieveErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]payments.Intent{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return payments.Intent{}, g.createErr
	}
	id := fmt.Sprintf("pi_%d", len(g.requests))
	intent := payments.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       "requires_payment_method",
	}
	g.intents[id] = intent
	return intent, nil
}

func (g *fakeGateway) RetrieveIntent(_ context.Context, id string) (payments.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return payments.Intent{}, g.retrieveErr
	}
	intent, ok := g.intents[id]
	if !ok {
		return payments.Intent{}, fmt.Errorf("no such payment_intent: %s", id)
	}
	return intent, nil
}

func (g *fakeGateway) ParseEvent(payload []byte, signature string) (payments.Event, error) {
	if signature != validSignature {
		return payments.Event{}, payments.ErrInvalidSignature
	}
	var evt payments.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return payments.Event{}, err
	}
	return evt, nil
}

func (g *fakeGateway) setIntentStatus(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent := g.intents[id]
	intent.Status = status
	g.intents[id] = intent
}

func (g *fakeGateway) requestCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, evt events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// stepClock advances one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store    *memStore
	gateway  *fakeGateway
	notifier *recordingNotifier
	logs     *test.Hook

	tasks  *TaskService
	coord  *PaymentCoordinator
	orders *OrderService

	storeA, storeB models.Store
	vendor         models.Vendor
	part           models.Part
	vehicle        models.Vehicle

	owner, otherOwner, managerA, managerB, admin Principal
	managerAID                                  primitive.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	logger, hook := test.NewNullLogger()

	f := &fixture{
		store:    store,
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		logs:     hook,
	}

	f.storeA = models.Store{ID: primitive.NewObjectID(), Name: "Downtown Service", Address: "1 Main St"}
	f.storeB = models.Store{ID: primitive.NewObjectID(), Name: "Uptown Service", Address: "9 Hill Rd"}
	store.stores[f.storeA.ID] = f.storeA
	store.stores[f.storeB.ID] = f.storeB

	f.vendor = models.Vendor{ID: primitive.NewObjectID(), Name: "Parts Co"}
	store.vendors[f.vendor.ID] = f.vendor
	f.part = models.Part{ID: primitive.NewObjectID(), PartNumber: "BP-1", Price: 19.99, VendorID: f.vendor.ID}
	store.parts[f.part.ID] = f.part

	addUser := func(username string, role models.Role, storeID *primitive.ObjectID) (Principal, primitive.ObjectID) {
		u := &models.User{Username: username, Role: role, StoreID: storeID}
		require.NoError(t, store.InsertUser(context.Background(), u))
		return Principal{UserID: u.ID.Hex(), Role: role}, u.ID
	}
	var ownerID primitive.ObjectID
	f.owner, ownerID = addUser("owner", models.RoleOwner, nil)
	f.otherOwner, _ = addUser("other-owner", models.RoleOwner, nil)
	f.managerA, f.managerAID = addUser("manager-a", models.RoleManager, &f.storeA.ID)
	f.managerB, _ = addUser("manager-b", models.RoleManager, &f.storeB.ID)
	f.admin, _ = addUser("admin", models.RoleAdmin, nil)

	f.vehicle = models.Vehicle{ID: primitive.NewObjectID(), OwnerID: ownerID, Make: "Toyota", Model: "Corolla"}
	require.NoError(t, store.InsertVehicle(context.Background(), &f.vehicle))

	clock := &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	deps := Deps{
		Vehicles:   store,
		Tasks:      store,
		Orders:     store,
		Payments:   store,
		Catalog:    store,
		Users:      store,
		Tx:         store,
		Gateway:    f.gateway,
		Notifier:   f.notifier,
		Logger:     logger,
		Clock:      clock.Now,
		NewBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) },
	}
	f.tasks = NewTaskService(deps)
	f.coord = NewPaymentCoordinator(deps)
	f.orders = NewOrderService(deps)
	return f
}

func float(v float64) *float64 { return &v }

// createTask schedules a task on the fixture vehicle at store A.
func (f *fixture) createTask(t *testing.T, laborCost float64) *models.MaintenanceTask {
	t.Helper()
	task, err := f.tasks.CreateTask(context.Background(), f.managerA, f.vehicle.ID.Hex(), CreateTaskInput{
		TaskType:  "brake service",
		LaborCost: laborCost,
	})
	require.NoError(t, err)
	return task
}

// completeTask creates and completes a task.
func (f *fixture) completeTask(t *testing.T, laborCost float64) *models.MaintenanceTask {
	t.Helper()
	task := f.createTask(t, laborCost)
	done, err := f.tasks.UpdateTaskStatus(context.Background(), f.managerA, task.ID.Hex(), StatusInput{
		Status:           models.TaskCompleted,
		CompletedMileage: float(12000),
	})
	require.NoError(t, err)
	return done
}

// payableTask creates, completes and escalates a task.
func (f *fixture) payableTask(t *testing.T, laborCost float64) *models.MaintenanceTask {
	t.Helper()
	task := f.completeTask(t, laborCost)
	escalated, err := f.coord.EscalatePayment(context.Background(), f.managerA, task.ID.Hex())
	require.NoError(t, err)
	return escalated
}

func (f *fixture) callback(t *testing.T, evt payments.Event) error {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return f.coord.HandleGatewayCallback(context.Background(), payload, validSignature)
}
