package handlers

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/middleware"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService    *auth.Service
	userCollection db.UserCollection
	logger         logrus.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, userCollection db.UserCollection, logger logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		userCollection: userCollection,
		logger:         logger,
	}
}

// Login exchanges credentials for a bearer token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	log := middleware.LoggerFromContext(r.Context(), h.logger)

	var loginReq models.LoginRequest
	if err := decodeJSON(w, r, &loginReq); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if loginReq.Username == "" || loginReq.Password == "" {
		writeStatus(w, http.StatusBadRequest, "validation_error", "Username and password are required")
		return
	}

	user, err := h.userCollection.FindUserByUsername(r.Context(), loginReq.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).Error("failed to look up user")
			writeStatus(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeStatus(w, http.StatusUnauthorized, "unauthorized", auth.ErrInvalidCredentials.Error())
		return
	}
	if !h.authService.CheckPassword(loginReq.Password, user.PasswordHash) {
		writeStatus(w, http.StatusUnauthorized, "unauthorized", auth.ErrInvalidCredentials.Error())
		return
	}
	if !user.IsActive {
		writeStatus(w, http.StatusUnauthorized, "unauthorized", auth.ErrUserInactive.Error())
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		log.WithError(err).Error("failed to sign token")
		writeStatus(w, http.StatusInternalServerError, "internal_error", "Failed to generate token")
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		log.WithError(err).Error("failed to generate refresh token")
		writeStatus(w, http.StatusInternalServerError, "internal_error", "Failed to generate refresh token")
		return
	}

	if err := h.userCollection.UpdateLastLogin(r.Context(), user.ID); err != nil {
		log.WithError(err).WithField("user_id", user.ID.Hex()).Warn("failed to update last login")
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:        token,
		RefreshToken: refreshToken,
		User:         *user,
	})
}

// GetProfile returns the current user's profile
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		writeStatus(w, http.StatusUnauthorized, "unauthorized", "User context not found")
		return
	}
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		writeStatus(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
		return
	}

	user, err := h.userCollection.FindUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeStatus(w, http.StatusNotFound, "not_found", "User not found")
			return
		}
		middleware.LoggerFromContext(r.Context(), h.logger).WithError(err).Error("failed to load profile")
		writeStatus(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
