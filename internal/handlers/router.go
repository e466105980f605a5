package handlers

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// RouterConfig collects what the API router serves.
type RouterConfig struct {
	Auth     *AuthHandler
	Tasks    *TaskHandler
	Payments *PaymentHandler
	Orders   *OrderHandler

	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimitMiddleware
	// LoginPerMinute bounds login attempts per client.
	LoginPerMinute int
	Logger         logrus.FieldLogger
}

// NewRouter wires every route with its role gate.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	am := cfg.AuthMiddleware

	roles := func(h http.HandlerFunc, allowed ...models.Role) http.Handler {
		return am.RequireRole(allowed...)(h)
	}
	const (
		admin   = models.RoleAdmin
		manager = models.RoleManager
		owner   = models.RoleOwner
	)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	limit := cfg.LoginPerMinute
	if limit <= 0 {
		limit = 10
	}
	mux.Handle("POST /api/auth/login", cfg.RateLimiter.RateLimit(limit, time.Minute)(http.HandlerFunc(cfg.Auth.Login)))
	mux.HandleFunc("GET /api/auth/profile", cfg.Auth.GetProfile)

	t, p := cfg.Tasks, cfg.Payments
	mux.Handle("POST /api/maintenance-task/webhook", http.HandlerFunc(p.Webhook))
	mux.Handle("POST /api/maintenance-task/payment-intent", roles(withPrincipal(p.CreateTaskIntent), owner))
	mux.Handle("GET /api/maintenance-task/unpaid-payments", roles(withPrincipal(p.Unpaid), owner, manager))
	mux.Handle("GET /api/maintenance-task/store", roles(withPrincipal(t.ListStore), manager))
	mux.Handle("GET /api/maintenance-task/vehicle/{vehicleId}", roles(withPrincipal(t.ListByVehicle), owner, manager, admin))
	mux.Handle("POST /api/maintenance-task/{vehicleId}", roles(withPrincipal(t.Create), manager))
	mux.Handle("GET /api/maintenance-task/{id}", roles(withPrincipal(t.Get), owner, manager, admin))
	mux.Handle("PUT /api/maintenance-task/{id}", roles(withPrincipal(t.Update), manager))
	mux.Handle("PUT /api/maintenance-task/{id}/status", roles(withPrincipal(t.UpdateStatus), manager))
	mux.Handle("PUT /api/maintenance-task/{id}/completion", roles(withPrincipal(t.RecordCompletion), manager))
	mux.Handle("PUT /api/maintenance-task/{id}/escalate-payment", roles(withPrincipal(p.Escalate), manager, owner))
	mux.Handle("DELETE /api/maintenance-task/{id}", roles(withPrincipal(t.Delete), admin))

	o := cfg.Orders
	mux.Handle("POST /api/orders", roles(withPrincipal(o.Create), manager))
	mux.Handle("GET /api/orders", roles(withPrincipal(o.List), manager))
	mux.Handle("PUT /api/orders/{id}/status", roles(withPrincipal(o.UpdateStatus), manager))
	mux.Handle("POST /api/orders/payment-intent", roles(withPrincipal(p.CreateOrderIntent), manager))

	return middleware.RequestID(cfg.Logger)(am.Authenticate(mux))
}
