package models

import "time"

// RequestStatus is shared by withdrawals and loans: pending -> approved | rejected.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Decision is an admin's resolution of a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Status() RequestStatus {
	if d == DecisionApprove {
		return RequestApproved
	}
	return RequestRejected
}

// BankDetails is the payout destination supplied with a request.
type BankDetails struct {
	BankName      string `json:"bank_name" db:"bank_name" validate:"required,max=100"`
	BankCode      string `json:"bank_code,omitempty" db:"bank_code" validate:"omitempty,max=10"`
	AccountNumber string `json:"account_number" db:"account_number" validate:"required,numeric,len=10"`
	AccountName   string `json:"account_name" db:"account_name" validate:"required,max=140"`
}

// Withdrawal debits the user's balance when approved.
type Withdrawal struct {
	ID            string        `json:"id" db:"id"`
	UserID        string        `json:"user_id" db:"user_id"`
	Amount        int64         `json:"amount" db:"amount"`
	Status        RequestStatus `json:"status" db:"status"`
	TransactionID string        `json:"transaction_id" db:"transaction_id"`
	BankDetails
	ProcessedBy *string    `json:"processed_by,omitempty" db:"processed_by"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Loan credits the user's balance when approved.
type Loan struct {
	ID     string        `json:"id" db:"id"`
	UserID string        `json:"user_id" db:"user_id"`
	Amount int64         `json:"amount" db:"amount"`
	Reason string        `json:"reason" db:"reason"`
	Status RequestStatus `json:"status" db:"status"`
	BankDetails
	ProcessedBy *string    `json:"processed_by,omitempty" db:"processed_by"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Page is a generic paginated listing.
type Page[T any] struct {
	Data       []T `json:"data"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
	Page       int `json:"page"`
}

// NewPage computes page counts for a listing.
func NewPage[T any](data []T, total, page, pageSize int) Page[T] {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	if data == nil {
		data = []T{}
	}
	return Page[T]{Data: data, TotalCount: total, TotalPages: pages, Page: page}
}
