package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/earnhub/backend/internal/models"
)

const recentTransactionsLimit = 10

const userColumns = `id, email, full_name, role, balance, task_balance, referral_balance, is_vip,
	num_referrals, num_tasks_done, referral_code, referral_code_expires_at, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var role string
	var expiresAt sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.Balance, &u.TaskBalance,
		&u.ReferralBalance, &u.IsVIP, &u.NumReferrals, &u.NumTasksDone,
		&u.ReferralCode, &expiresAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	if expiresAt.Valid {
		u.ReferralCodeExpiresAt = &expiresAt.Time
	}
	return &u, nil
}

func loadUser(ctx context.Context, db *sql.DB, userID string) (*models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	return u, nil
}

// AccountService serves a member's account: the read side plus the
// profile and the saved payout destination.
type AccountService struct {
	db     *sql.DB
	ledger *LedgerService
	users  *UserCache
	banks  *BankService
	now    func() time.Time
}

func NewAccountService(db *sql.DB, ledger *LedgerService, users *UserCache, banks *BankService) *AccountService {
	return &AccountService{db: db, ledger: ledger, users: users, banks: banks, now: time.Now}
}

// UpdateProfile changes the display name. The e-mail is the login
// identity and stays fixed.
func (s *AccountService) UpdateProfile(ctx context.Context, userID, fullName string) (*models.User, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, fmt.Errorf("%w: full name is required", models.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET full_name = $2, version = version + 1, updated_at = $3 WHERE id = $1`,
		userID, fullName, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrUserNotFound
	}
	s.users.Invalidate(ctx, userID)
	return loadUser(ctx, s.db, userID)
}

// BankDetails returns the caller's saved payout destination.
func (s *AccountService) BankDetails(ctx context.Context, userID string) (*models.BankDetails, error) {
	return savedBankDetails(ctx, s.db, userID)
}

// SaveBankDetails stores the payout destination used when a withdrawal or
// loan request omits one. A second call replaces the first.
func (s *AccountService) SaveBankDetails(ctx context.Context, userID string, bank models.BankDetails) (*models.BankDetails, error) {
	if err := s.banks.Normalize(&bank); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_bank_accounts (user_id, bank_name, bank_code, account_number, account_name, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			bank_name = EXCLUDED.bank_name,
			bank_code = EXCLUDED.bank_code,
			account_number = EXCLUDED.account_number,
			account_name = EXCLUDED.account_name,
			updated_at = EXCLUDED.updated_at`,
		userID, bank.BankName, bank.BankCode, bank.AccountNumber, bank.AccountName, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to save bank details: %w", err)
	}
	log.Printf("[ACCOUNT] User %s saved bank account ending %s", userID, lastDigits(bank.AccountNumber))
	return &bank, nil
}

func savedBankDetails(ctx context.Context, db *sql.DB, userID string) (*models.BankDetails, error) {
	var b models.BankDetails
	err := db.QueryRowContext(ctx,
		`SELECT bank_name, bank_code, account_number, account_name FROM user_bank_accounts WHERE user_id = $1`,
		userID).Scan(&b.BankName, &b.BankCode, &b.AccountNumber, &b.AccountName)
	if err == sql.ErrNoRows {
		return nil, models.ErrBankAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bank details: %w", err)
	}
	return &b, nil
}

func lastDigits(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}

// Profile returns the user through the cache. The ledger invalidates the
// entry on every committed balance change.
func (s *AccountService) Profile(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetOrFetch(ctx, userID, func(ctx context.Context) (*models.User, error) {
		return loadUser(ctx, s.db, userID)
	})
}

func (s *AccountService) Transactions(ctx context.Context, userID string, page, pageSize int) ([]models.Transaction, error) {
	return s.ledger.History(ctx, userID, pageSize, (page-1)*pageSize)
}

// Earnings groups completed ledger activity by what produced it.
func (s *AccountService) Earnings(ctx context.Context, userID string) (*models.EarningsBreakdown, error) {
	balance, err := s.ledger.BalanceOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'completed'
		GROUP BY type`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum earnings: %w", err)
	}
	defer rows.Close()

	out := &models.EarningsBreakdown{TotalBalance: balance.Balance}
	for rows.Next() {
		var txType string
		var sum int64
		if err := rows.Scan(&txType, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan earnings: %w", err)
		}
		switch models.TransactionType(txType) {
		case models.TxTask:
			out.Tasks += sum
		case models.TxReferral:
			out.Referrals += sum
		case models.TxVIPBonus, models.TxSignupBonus, models.TxDeposit:
			out.Bonuses += sum
		case models.TxLoan:
			out.Loans += sum
		case models.TxWithdrawal:
			out.Withdrawals += -sum
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out.RecentTransactions, err = s.ledger.History(ctx, userID, recentTransactionsLimit, 0)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Leaderboard ranks members by balance. Admin accounts are excluded.
func (s *AccountService) Leaderboard(ctx context.Context, page, pageSize int) (models.Page[models.LeaderboardEntry], error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = 'user'`).Scan(&total); err != nil {
		return models.Page[models.LeaderboardEntry]{}, fmt.Errorf("failed to count users: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_name, balance, num_tasks_done, num_referrals, is_vip
		FROM users
		WHERE role = 'user'
		ORDER BY balance DESC, created_at ASC
		LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return models.Page[models.LeaderboardEntry]{}, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		e := models.LeaderboardEntry{Rank: offset + len(out) + 1}
		if err := rows.Scan(&e.UserID, &e.FullName, &e.Balance, &e.NumTasksDone, &e.NumReferrals, &e.IsVIP); err != nil {
			return models.Page[models.LeaderboardEntry]{}, fmt.Errorf("failed to scan leaderboard: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.LeaderboardEntry]{}, err
	}
	return models.NewPage(out, total, page, pageSize), nil
}

// Referrals lists the accounts that signed up with the user's code.
func (s *AccountService) Referrals(ctx context.Context, userID string) ([]models.ReferredUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, u.id, u.full_name, u.is_vip, r.reward, r.vip_bonus_paid, r.created_at
		FROM referrals r
		JOIN users u ON u.id = r.referred_id
		WHERE r.referrer_id = $1
		ORDER BY r.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	out := []models.ReferredUser{}
	for rows.Next() {
		var r models.ReferredUser
		if err := rows.Scan(&r.ReferralID, &r.UserID, &r.FullName, &r.IsVIP, &r.Reward, &r.VIPBonusPaid, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *AccountService) ReferralStats(ctx context.Context, userID string) (*models.ReferralStats, error) {
	var stats models.ReferralStats
	err := s.db.QueryRowContext(ctx, `
		SELECT u.num_referrals, u.referral_balance, u.referral_code,
		       COALESCE((SELECT SUM(amount) FROM transactions
		                 WHERE user_id = u.id AND status = 'completed' AND bucket = 'referral'), 0)
		FROM users u
		WHERE u.id = $1`, userID).Scan(&stats.TotalReferrals, &stats.ReferralBalance, &stats.ReferralCode, &stats.TotalEarnings)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load referral stats: %w", err)
	}
	return &stats, nil
}
