package handlers

import (
	"context"
	"net/http"

	"github.com/earnhub/backend/internal/services"
)

// VIPPayments confirms VIP membership payments.
type VIPPayments interface {
	ConfirmVIPPayment(ctx context.Context, userID, paymentRef string, amountPaid int64) (*services.VIPUpgrade, error)
}

// VIPPaymentRequest carries the provider's transaction reference
// @Description VIP payment confirmation structure
type VIPPaymentRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required,max=128" example:"FLW-MOCK-123456"`
	Amount     int64  `json:"amount" validate:"required,gt=0" example:"5000"`
}

type PaymentHandler struct {
	payments  VIPPayments
	validator *services.ValidationHelper
}

func NewPaymentHandler(payments VIPPayments) *PaymentHandler {
	return &PaymentHandler{payments: payments, validator: services.NewValidationHelper()}
}

// ConfirmVIP verifies a payment and upgrades the caller to VIP
// @Summary Confirm VIP payment
// @Description Replaying the same payment reference returns the original result without paying bonuses again
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body VIPPaymentRequest true "Payment"
// @Success 200 {object} services.VIPUpgrade
// @Failure 400 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments/vip [post]
func (h *PaymentHandler) ConfirmVIP(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req VIPPaymentRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	up, err := h.payments.ConfirmVIPPayment(r.Context(), id.UserID, req.PaymentRef, req.Amount)
	if err != nil {
		sendServiceError(w, "PAYMENT", err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}
