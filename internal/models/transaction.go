package models

import "time"

// TransactionType is the business reason behind a ledger entry.
type TransactionType string

const (
	TxTask        TransactionType = "task"
	TxReferral    TransactionType = "referral"
	TxWithdrawal  TransactionType = "withdrawal"
	TxLoan        TransactionType = "loan"
	TxVIP         TransactionType = "vip"
	TxVIPBonus    TransactionType = "vip_bonus"
	TxDeposit     TransactionType = "deposit"
	TxSignupBonus TransactionType = "signup_bonus"
)

type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusRejected  TransactionStatus = "rejected"
)

// Bucket names the sub-balance a ledger entry also moves, if any.
type Bucket string

const (
	BucketNone     Bucket = ""
	BucketTask     Bucket = "task"
	BucketReferral Bucket = "referral"
)

// Transaction is an append-only ledger entry. Amount is signed, in minor units.
type Transaction struct {
	ID              string            `json:"id" db:"id"`
	UserID          string            `json:"user_id" db:"user_id"`
	Amount          int64             `json:"amount" db:"amount"`
	Type            TransactionType   `json:"type" db:"type"`
	Status          TransactionStatus `json:"status" db:"status"`
	Bucket          Bucket            `json:"bucket,omitempty" db:"bucket"`
	RelatedRecordID *string           `json:"related_record_id,omitempty" db:"related_record_id"`
	BalanceAfter    *int64            `json:"balance_after,omitempty" db:"balance_after"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// EarningsBreakdown groups a user's completed ledger activity by type.
type EarningsBreakdown struct {
	TotalBalance       int64         `json:"total_balance"`
	Tasks              int64         `json:"tasks"`
	Referrals          int64         `json:"referrals"`
	Bonuses            int64         `json:"bonuses"`
	Loans              int64         `json:"loans"`
	Withdrawals        int64         `json:"withdrawals"`
	RecentTransactions []Transaction `json:"recent_transactions"`
}
