package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/earnhub/backend/internal/middleware"
	"github.com/earnhub/backend/internal/services"
)

// Accounts is the slice of AuthService the auth endpoints use.
type Accounts interface {
	Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error)
	Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error)
	Logout(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, userID string, req services.ChangePasswordRequest) (*services.AuthResponse, error)
}

type AuthHandler struct {
	service   Accounts
	validator *services.ValidationHelper
}

func NewAuthHandler(service Accounts) *AuthHandler {
	return &AuthHandler{service: service, validator: services.NewValidationHelper()}
}

// Register creates an account
// @Summary Register
// @Description Create a user account, credit the signup bonus and apply an optional referral code
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body services.RegisterRequest true "Registration request"
// @Success 201 {object} services.AuthResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		sendServiceError(w, "AUTH", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Login authenticates a user
// @Summary Login
// @Description Exchange e-mail and password for a JWT
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body services.LoginRequest true "Login request"
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		sendServiceError(w, "AUTH", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout revokes the bearer token
// @Summary Logout
// @Tags Auth
// @Security BearerAuth
// @Success 200 {object} object{success=bool}
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
		return
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		log.Printf("[AUTH] Logout failed: %v", err)
		services.SendErrorResponse(w, "Failed to logout", http.StatusInternalServerError, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Description Verify the current password, store the new one and end every earlier session
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.ChangePasswordRequest true "Password change request"
// @Success 200 {object} services.AuthResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req services.ChangePasswordRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.service.ChangePassword(r.Context(), id.UserID, req)
	if err != nil {
		sendServiceError(w, "AUTH", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
