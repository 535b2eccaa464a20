package handlers

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/services"
)

// AccountViews is the read side of a member's account.
type AccountViews interface {
	Profile(ctx context.Context, userID string) (*models.User, error)
	Transactions(ctx context.Context, userID string, page, pageSize int) ([]models.Transaction, error)
	Earnings(ctx context.Context, userID string) (*models.EarningsBreakdown, error)
	Leaderboard(ctx context.Context, page, pageSize int) (models.Page[models.LeaderboardEntry], error)
	Referrals(ctx context.Context, userID string) ([]models.ReferredUser, error)
	ReferralStats(ctx context.Context, userID string) (*models.ReferralStats, error)
}

// AccountSettings is the writable part of a member's account.
type AccountSettings interface {
	UpdateProfile(ctx context.Context, userID, fullName string) (*models.User, error)
	BankDetails(ctx context.Context, userID string) (*models.BankDetails, error)
	SaveBankDetails(ctx context.Context, userID string, bank models.BankDetails) (*models.BankDetails, error)
}

// UpdateProfileRequest is the editable part of a profile
// @Description Profile update structure
type UpdateProfileRequest struct {
	FullName string `json:"fullname" validate:"required,min=2,max=140" example:"Ada Obi"`
}

// ReferralCodes renders invite links.
type ReferralCodes interface {
	ReferralQR(ctx context.Context, userID string) (string, []byte, error)
}

type AccountHandler struct {
	accounts  AccountViews
	settings  AccountSettings
	qr        ReferralCodes
	validator *services.ValidationHelper
}

func NewAccountHandler(accounts AccountViews, settings AccountSettings, qr ReferralCodes) *AccountHandler {
	return &AccountHandler{accounts: accounts, settings: settings, qr: qr, validator: services.NewValidationHelper()}
}

// Profile returns the caller's account
// @Summary Get profile
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} services.ErrorResponse
// @Router /account [get]
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	user, err := h.accounts.Profile(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile changes the caller's display name
// @Summary Update profile
// @Tags Account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body UpdateProfileRequest true "Profile update"
// @Success 200 {object} models.User
// @Failure 400 {object} services.ErrorResponse
// @Router /account [patch]
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	user, err := h.settings.UpdateProfile(r.Context(), id.UserID, req.FullName)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// BankDetails returns the caller's saved payout account
// @Summary Get saved bank account
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.BankDetails
// @Failure 404 {object} services.ErrorResponse
// @Router /account/bank [get]
func (h *AccountHandler) BankDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	bank, err := h.settings.BankDetails(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

// SaveBankDetails stores the account withdrawals and loans pay by default
// @Summary Save bank account
// @Tags Account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.BankDetails true "Bank account"
// @Success 200 {object} models.BankDetails
// @Failure 400 {object} services.ErrorResponse
// @Router /account/bank [put]
func (h *AccountHandler) SaveBankDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req models.BankDetails
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	bank, err := h.settings.SaveBankDetails(r.Context(), id.UserID, req)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}

// Transactions lists the caller's ledger entries, newest first
// @Summary List transactions
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {array} models.Transaction
// @Router /account/transactions [get]
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	page, pageSize := pageParams(r)
	txns, err := h.accounts.Transactions(r.Context(), id.UserID, page, pageSize)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// Earnings breaks the caller's completed ledger activity down by kind
// @Summary Earnings breakdown
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.EarningsBreakdown
// @Router /account/earnings [get]
func (h *AccountHandler) Earnings(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	earnings, err := h.accounts.Earnings(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	writeJSON(w, http.StatusOK, earnings)
}

// Leaderboard ranks members by balance
// @Summary Leaderboard
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} models.Page[models.LeaderboardEntry]
// @Router /leaderboard [get]
func (h *AccountHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	board, err := h.accounts.Leaderboard(r.Context(), page, pageSize)
	if err != nil {
		sendServiceError(w, "ACCOUNT", err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// Referrals lists the accounts the caller referred
// @Summary List referrals
// @Tags Referrals
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ReferredUser
// @Router /referrals [get]
func (h *AccountHandler) Referrals(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	referrals, err := h.accounts.Referrals(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "REFERRAL", err)
		return
	}
	if referrals == nil {
		referrals = []models.ReferredUser{}
	}
	writeJSON(w, http.StatusOK, referrals)
}

// ReferralStats summarises the caller's referral earnings
// @Summary Referral stats
// @Tags Referrals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.ReferralStats
// @Router /referrals/stats [get]
func (h *AccountHandler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	stats, err := h.accounts.ReferralStats(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "REFERRAL", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ReferralQR returns the caller's invite link as a QR code. The PNG is
// returned raw when the client accepts image/png, else base64 in JSON.
// @Summary Referral QR code
// @Tags Referrals
// @Produce json,png
// @Security BearerAuth
// @Success 200 {object} object{link=string,qrImage=string}
// @Router /referrals/qr [get]
func (h *AccountHandler) ReferralQR(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	link, png, err := h.qr.ReferralQR(r.Context(), id.UserID)
	if err != nil {
		sendServiceError(w, "QR", err)
		return
	}

	if r.Header.Get("Accept") == "image/png" {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "private, max-age=86400")
		w.Write(png)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"link":    link,
		"qrImage": base64.StdEncoding.EncodeToString(png),
	})
}
