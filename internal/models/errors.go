package models

import (
	"errors"
	"fmt"
	"time"
)

// Expected, recoverable outcomes. Callers match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyCompleted    = errors.New("already completed")
	ErrAlreadyResolved     = errors.New("request already resolved")
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInactiveResource    = errors.New("resource inactive")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstream            = errors.New("upstream error")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already registered")
	ErrUnknownBank         = errors.New("unknown bank code")
	ErrInvalidInput        = errors.New("invalid input")
)

var (
	ErrUserNotFound        = fmt.Errorf("user %w", ErrNotFound)
	ErrTaskNotFound        = fmt.Errorf("task %w", ErrNotFound)
	ErrRequestNotFound     = fmt.Errorf("request %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrBankAccountNotFound = fmt.Errorf("bank account %w", ErrNotFound)

	ErrBankDetailsRequired = fmt.Errorf("bank details are required when none are saved: %w", ErrInvalidInput)
	ErrWeakPassword        = fmt.Errorf("password must be at least 6 characters: %w", ErrInvalidInput)
	ErrSamePassword        = fmt.Errorf("new password must differ from the current one: %w", ErrInvalidInput)

	ErrTaskInactive        = fmt.Errorf("task is no longer active: %w", ErrInactiveResource)
	ErrWithdrawalsDisabled = fmt.Errorf("withdrawals are currently disabled: %w", ErrInactiveResource)
	ErrExportsDisabled     = fmt.Errorf("ledger exports are not configured: %w", ErrInactiveResource)

	ErrVIPRequired   = fmt.Errorf("VIP membership required: %w", ErrUnauthorized)
	ErrAdminRequired = fmt.Errorf("admin role required: %w", ErrUnauthorized)
	ErrPaymentOwner  = fmt.Errorf("payment was made by another customer: %w", ErrUnauthorized)
)

// RateLimitError is returned when a cooldown or quota denies an action.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s limit reached, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// UpstreamError wraps a failure from an external collaborator without masking it.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }
