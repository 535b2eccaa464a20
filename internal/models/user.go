package models

import "time"

// Role is the explicit permission level assigned when an account is created.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a member account together with its materialised balances.
type User struct {
	ID                    string     `json:"id" db:"id"`
	Email                 string     `json:"email" db:"email"`
	FullName              string     `json:"fullname" db:"full_name"`
	Role                  Role       `json:"role" db:"role"`
	Balance               int64      `json:"balance" db:"balance"`
	TaskBalance           int64      `json:"task_balance" db:"task_balance"`
	ReferralBalance       int64      `json:"referral_balance" db:"referral_balance"`
	IsVIP                 bool       `json:"is_vip" db:"is_vip"`
	NumReferrals          int        `json:"num_referrals" db:"num_referrals"`
	NumTasksDone          int        `json:"num_tasks_done" db:"num_tasks_done"`
	ReferralCode          string     `json:"referral_code" db:"referral_code"`
	ReferralCodeExpiresAt *time.Time `json:"referral_code_expires_at,omitempty" db:"referral_code_expires_at"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the account carries the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Balance is the read projection returned by the ledger.
type Balance struct {
	UserID          string `json:"user_id"`
	Balance         int64  `json:"balance"`
	TaskBalance     int64  `json:"task_balance"`
	ReferralBalance int64  `json:"referral_balance"`
}

// Identity is what the session layer vouches for on every request.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Referral links a referred account to the account whose code it used.
type Referral struct {
	ID           string    `json:"id" db:"id"`
	ReferrerID   string    `json:"referrer_id" db:"referrer_id"`
	ReferredID   string    `json:"referred_id" db:"referred_id"`
	Reward       int64     `json:"reward" db:"reward"`
	VIPBonusPaid bool      `json:"vip_bonus_paid" db:"vip_bonus_paid"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ReferralStats summarises a referrer's performance.
type ReferralStats struct {
	TotalReferrals  int    `json:"total_referrals"`
	ReferralBalance int64  `json:"referral_balance"`
	ReferralCode    string `json:"referral_code"`
	TotalEarnings   int64  `json:"total_earnings"`
}

// LeaderboardEntry is one row of the public earnings ranking.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	FullName     string `json:"fullname"`
	Balance      int64  `json:"balance"`
	NumTasksDone int    `json:"num_tasks_done"`
	NumReferrals int    `json:"num_referrals"`
	IsVIP        bool   `json:"is_vip"`
}

// ReferredUser is a referral as shown to the referrer.
type ReferredUser struct {
	ReferralID   string    `json:"referral_id"`
	UserID       string    `json:"user_id"`
	FullName     string    `json:"fullname"`
	IsVIP        bool      `json:"is_vip"`
	Reward       int64     `json:"reward"`
	VIPBonusPaid bool      `json:"vip_bonus_paid"`
	CreatedAt    time.Time `json:"created_at"`
}
