package handlers

import (
	"net/http"

	"github.com/earnhub/backend/internal/services"
)

type BankHandler struct {
	banks *services.BankService
}

func NewBankHandler(banks *services.BankService) *BankHandler {
	return &BankHandler{banks: banks}
}

// List returns the supported payout banks
// @Summary List banks
// @Tags Banks
// @Produce json
// @Success 200 {array} services.Bank
// @Router /banks [get]
func (h *BankHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, http.StatusOK, h.banks.List())
}
