package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/apperr"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/services"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

// writeError maps a service error onto its status. Internal causes are
// logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, logger logrus.FieldLogger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFromContext(r.Context(), logger).WithError(err).Error("request failed")
	}
	writeStatus(w, status, string(kind), apperr.MessageOf(err))
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid JSON: %v", err)
	}
	return nil
}

// principalFrom builds the service principal from the verified token claims.
func principalFrom(r *http.Request) (services.Principal, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return services.Principal{}, false
	}
	return services.Principal{UserID: claims.UserID, Role: claims.Role}, true
}

// withPrincipal adapts a handler that needs the caller's identity.
func withPrincipal(fn func(http.ResponseWriter, *http.Request, services.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r)
		if !ok {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "User context not found")
			return
		}
		fn(w, r, p)
	}
}
