package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// Administration is the admin dashboard surface.
type Administration interface {
	SearchUsers(ctx context.Context, admin models.Identity, query string, page, pageSize int) (models.Page[models.User], error)
	Stats(ctx context.Context, admin models.Identity) (*services.AdminStats, error)
	GrantVIP(ctx context.Context, admin models.Identity, userID string) (*services.VIPUpgrade, error)
	RevokeVIP(ctx context.Context, admin models.Identity, userID string) error
	Settings(admin models.Identity) ([]services.Setting, error)
	UpdateSettings(ctx context.Context, admin models.Identity, updates map[string]string) ([]services.Setting, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) ([]services.Mismatch, error)
}

type Exporter interface {
	ExportTransactions(ctx context.Context, from, to time.Time) (string, error)
}

// SettingsRequest maps setting keys to their new values
type SettingsRequest struct {
	Settings map[string]string `json:"settings" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

type AdminHandler struct {
	admin     Administration
	reconcile Reconciler
	exports   Exporter
	validator *services.ValidationHelper
}

func NewAdminHandler(admin Administration, reconcile Reconciler, exports Exporter) *AdminHandler {
	return &AdminHandler{admin: admin, reconcile: reconcile, exports: exports, validator: services.NewValidationHelper()}
}

// Users searches members by name or e-mail
// @Summary Search users (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param q query string false "Name or e-mail fragment"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} models.Page[models.User]
// @Router /admin/users [get]
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	page, pageSize := pageParams(r)
	users, err := h.admin.SearchUsers(r.Context(), id, r.URL.Query().Get("q"), page, pageSize)
	if err != nil {
		sendServiceError(w, "ADMIN", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Stats returns dashboard totals
// @Summary Dashboard stats (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.AdminStats
// @Router /admin/stats [get]
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	stats, err := h.admin.Stats(r.Context(), id)
	if err != nil {
		sendServiceError(w, "ADMIN", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GrantVIP upgrades a member without a payment
// @Summary Grant VIP (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} services.VIPUpgrade
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/users/{userId}/vip [put]
func (h *AdminHandler) GrantVIP(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	up, err := h.admin.GrantVIP(r.Context(), id, chi.URLParam(r, "userId"))
	if err != nil {
		sendServiceError(w, "ADMIN", err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}

// RevokeVIP clears a member's VIP flag
// @Summary Revoke VIP (admin)
// @Tags Admin
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} object{success=bool}
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/users/{userId}/vip [delete]
func (h *AdminHandler) RevokeVIP(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.admin.RevokeVIP(r.Context(), id, chi.URLParam(r, "userId")); err != nil {
		sendServiceError(w, "ADMIN", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Settings lists the runtime settings
// @Summary Get settings (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} services.Setting
// @Router /admin/settings [get]
func (h *AdminHandler) Settings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	settings, err := h.admin.Settings(id)
	if err != nil {
		sendServiceError(w, "ADMIN", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings changes runtime settings. The batch is all or nothing.
// @Summary Update settings (admin)
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SettingsRequest true "Settings"
// @Success 200 {array} services.Setting
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/settings [put]
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req SettingsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	settings, err := h.admin.UpdateSettings(r.Context(), id, req.Settings)
	if err != nil {
		sendServiceError(w, "ADMIN", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Reconcile compares every balance against the ledger on demand
// @Summary Reconcile ledger (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{mismatches=[]services.Mismatch}
// @Router /admin/reconcile [post]
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.reconcile.Reconcile(r.Context())
	if err != nil {
		sendServiceError(w, "RECONCILE", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mismatches": mismatches})
}

// Export uploads the transactions in [from, to) as CSV
// @Summary Export ledger (admin)
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param from query string true "Start (YYYY-MM-DD or RFC 3339)"
// @Param to query string true "End, exclusive"
// @Success 201 {object} object{key=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /admin/exports/transactions [post]
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	from, errFrom := parseDate(r.URL.Query().Get("from"))
	to, errTo := parseDate(r.URL.Query().Get("to"))
	if errFrom != nil || errTo != nil || !from.Before(to) {
		services.SendErrorResponse(w, "from and to must be dates with from before to", http.StatusBadRequest, nil)
		return
	}

	key, err := h.exports.ExportTransactions(r.Context(), from, to)
	if err != nil {
		sendServiceError(w, "EXPORT", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}
