package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/middleware"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/services"
)

const (
	maxBodyBytes    = 1_048_576
	defaultPageSize = 20
	maxPageSize     = 100
)

// statusFor maps a service error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyCompleted),
		errors.Is(err, models.ErrAlreadyResolved),
		errors.Is(err, models.ErrEmailTaken),
		errors.Is(err, models.ErrInactiveResource):
		return http.StatusConflict
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrUnknownBank),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, config.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// sendServiceError writes err with its mapped status. Unexpected errors
// are logged and replaced with a generic message.
func sendServiceError(w http.ResponseWriter, tag string, err error) {
	status := statusFor(err)

	var rl *models.RateLimitError
	if errors.As(err, &rl) {
		seconds := int(math.Ceil(rl.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		log.Printf("[%s] Internal error: %v", tag, err)
		message = "Internal server error"
	case http.StatusBadGateway:
		log.Printf("[%s] Upstream error: %v", tag, err)
	}
	services.SendErrorResponse(w, message, status, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object into dst and validates it. It
// writes the error response itself and reports whether the caller should
// continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// identity returns the authenticated caller or writes a 401.
func identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return id, ok
}

// pageParams reads ?page= and ?page_size=, clamping both to sane values.
func pageParams(r *http.Request) (page, pageSize int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	switch {
	case pageSize < 1:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	return page, pageSize
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, value)
}
