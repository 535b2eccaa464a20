package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/metrics"
	"github.com/earnhub/backend/internal/models"
	"github.com/google/uuid"
)

const (
	RequestKindWithdrawal = "withdrawal"
	RequestKindLoan       = "loan"

	withdrawalDay = 24 * time.Hour
)

// RequestService handles withdrawal and loan requests. Both share the
// pending -> approved | rejected lifecycle with opposite balance effects:
// an approved withdrawal settles its hold as a debit, an approved loan is
// a credit.
type RequestService struct {
	db       *sql.DB
	ledger   *LedgerService
	settings *config.Settings
	banks    *BankService
	payouts  *PayoutService
	audit    *audit.Logger
	now      func() time.Time
	newID    func() string
}

func NewRequestService(db *sql.DB, ledger *LedgerService, settings *config.Settings, banks *BankService, payouts *PayoutService, auditLogger *audit.Logger) *RequestService {
	return &RequestService{
		db:       db,
		ledger:   ledger,
		settings: settings,
		banks:    banks,
		payouts:  payouts,
		audit:    auditLogger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RequestWithdrawal records a pending withdrawal and a pending hold for
// its amount. The balance is only debited when an admin approves it.
func (s *RequestService) RequestWithdrawal(ctx context.Context, userID string, amount int64, bank models.BankDetails) (*models.Withdrawal, error) {
	limits := s.settings.Current().Limits
	if !limits.WithdrawalsEnabled {
		return nil, models.ErrWithdrawalsDisabled
	}
	if amount < limits.WithdrawalMin || amount > limits.WithdrawalMax {
		return nil, fmt.Errorf("%w: withdrawals must be between %d and %d", models.ErrInvalidAmount, limits.WithdrawalMin, limits.WithdrawalMax)
	}
	bank, err := s.payoutDestination(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	w := &models.Withdrawal{
		ID:          s.newID(),
		UserID:      userID,
		Amount:      amount,
		Status:      models.RequestPending,
		BankDetails: bank,
		CreatedAt:   now,
	}

	var hold *models.Transaction
	err = s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		// HoldTx locks the user row, so the window checks below see every
		// earlier request by this user.
		hold, err = s.ledger.HoldTx(ctx, tx, Entry{
			UserID:          userID,
			Amount:          amount,
			Type:            models.TxWithdrawal,
			RelatedRecordID: &w.ID,
		})
		if err != nil {
			return err
		}

		if err := s.checkWithdrawalWindow(ctx, tx, userID, now, limits); err != nil {
			return err
		}

		w.TransactionID = hold.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO withdrawals (id, user_id, amount, status, transaction_id, bank_name, bank_code, account_number, account_name, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			w.ID, w.UserID, w.Amount, string(w.Status), w.TransactionID,
			bank.BankName, bank.BankCode, bank.AccountNumber, bank.AccountName, w.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Committed(ctx, hold)
	log.Printf("[WITHDRAWAL] User %s requested %d (withdrawal %s)", userID, amount, w.ID)
	return w, nil
}

// payoutDestination returns bank when the request carries one and the
// saved account otherwise.
func (s *RequestService) payoutDestination(ctx context.Context, userID string, bank models.BankDetails) (models.BankDetails, error) {
	if bank == (models.BankDetails{}) {
		saved, err := savedBankDetails(ctx, s.db, userID)
		if errors.Is(err, models.ErrBankAccountNotFound) {
			return bank, models.ErrBankDetailsRequired
		}
		if err != nil {
			return bank, err
		}
		return *saved, nil
	}
	if err := s.banks.Normalize(&bank); err != nil {
		return bank, err
	}
	return bank, nil
}

// checkWithdrawalWindow enforces the per-day count and the cooldown since
// the last request. Both are read from withdrawals so they survive
// restarts.
func (s *RequestService) checkWithdrawalWindow(ctx context.Context, tx *sql.Tx, userID string, now time.Time, limits config.Limits) error {
	var inWindow int
	var oldestInWindow, last sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE created_at >= $2),
		       MIN(created_at) FILTER (WHERE created_at >= $2),
		       MAX(created_at)
		FROM withdrawals
		WHERE user_id = $1`, userID, now.Add(-withdrawalDay)).Scan(&inWindow, &oldestInWindow, &last)
	if err != nil {
		return fmt.Errorf("failed to count withdrawals: %w", err)
	}

	if inWindow >= limits.WithdrawalsPerDay {
		retry := withdrawalDay
		if oldestInWindow.Valid {
			retry = oldestInWindow.Time.Add(withdrawalDay).Sub(now)
		}
		metrics.RateLimitDenials.WithLabelValues(RequestKindWithdrawal, "quota").Inc()
		return &models.RateLimitError{Scope: "quota", RetryAfter: retry}
	}
	if last.Valid && limits.WithdrawalCooldown > 0 {
		if wait := last.Time.Add(limits.WithdrawalCooldown).Sub(now); wait > 0 {
			metrics.RateLimitDenials.WithLabelValues(RequestKindWithdrawal, "cooldown").Inc()
			return &models.RateLimitError{Scope: "cooldown", RetryAfter: wait}
		}
	}
	return nil
}

// RequestLoan records a pending loan for a VIP user.
func (s *RequestService) RequestLoan(ctx context.Context, userID string, amount int64, reason string, bank models.BankDetails) (*models.Loan, error) {
	limits := s.settings.Current().Limits

	var isVIP bool
	err := s.db.QueryRowContext(ctx, `SELECT is_vip FROM users WHERE id = $1`, userID).Scan(&isVIP)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	if !isVIP {
		return nil, models.ErrVIPRequired
	}
	if amount < limits.LoanMin || amount > limits.LoanMax {
		return nil, fmt.Errorf("%w: loans must be between %d and %d", models.ErrInvalidAmount, limits.LoanMin, limits.LoanMax)
	}
	bank, err = s.payoutDestination(ctx, userID, bank)
	if err != nil {
		return nil, err
	}

	l := &models.Loan{
		ID:          s.newID(),
		UserID:      userID,
		Amount:      amount,
		Reason:      reason,
		Status:      models.RequestPending,
		BankDetails: bank,
		CreatedAt:   s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loans (id, user_id, amount, reason, status, bank_name, bank_code, account_number, account_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.UserID, l.Amount, l.Reason, string(l.Status),
		bank.BankName, bank.BankCode, bank.AccountNumber, bank.AccountName, l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record loan: %w", err)
	}

	log.Printf("[LOAN] User %s requested %d (loan %s)", userID, amount, l.ID)
	return l, nil
}

// ResolveWithdrawal applies an admin decision exactly once.
func (s *RequestService) ResolveWithdrawal(ctx context.Context, admin models.Identity, withdrawalID string, decision models.Decision) (*models.Withdrawal, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}

	var w *models.Withdrawal
	var settled *models.Transaction
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		settled = nil
		w, err = s.lockWithdrawal(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != models.RequestPending {
			return models.ErrAlreadyResolved
		}

		if decision == models.DecisionApprove {
			settled, err = s.ledger.SettleTx(ctx, tx, w.TransactionID)
		} else {
			err = s.ledger.VoidTx(ctx, tx, w.TransactionID)
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		w.Status = decision.Status()
		w.ProcessedBy = &admin.UserID
		w.ProcessedAt = &now
		_, err = tx.ExecContext(ctx, `
			UPDATE withdrawals SET status = $1, processed_by = $2, processed_at = $3 WHERE id = $4`,
			string(w.Status), admin.UserID, now, w.ID)
		if err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, RequestKindWithdrawal, w.ID, w.UserID, w.Amount, w.BankDetails, admin.UserID, decision)
	if settled != nil {
		s.ledger.Committed(ctx, settled)
	}
	return w, nil
}

// ResolveLoan applies an admin decision exactly once. Approval credits
// the loan amount.
func (s *RequestService) ResolveLoan(ctx context.Context, admin models.Identity, loanID string, decision models.Decision) (*models.Loan, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}

	var l *models.Loan
	var credit *models.Transaction
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		credit = nil
		l, err = s.lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if l.Status != models.RequestPending {
			return models.ErrAlreadyResolved
		}

		now := s.now().UTC()
		l.Status = decision.Status()
		l.ProcessedBy = &admin.UserID
		var approvedAt *time.Time
		if decision == models.DecisionApprove {
			credit, err = s.ledger.CreditTx(ctx, tx, Entry{
				UserID:          l.UserID,
				Amount:          l.Amount,
				Type:            models.TxLoan,
				RelatedRecordID: &l.ID,
			})
			if err != nil {
				return err
			}
			approvedAt = &now
			l.ApprovedAt = approvedAt
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE loans SET status = $1, processed_by = $2, approved_at = $3 WHERE id = $4`,
			string(l.Status), admin.UserID, approvedAt, l.ID)
		if err != nil {
			return fmt.Errorf("failed to update loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, RequestKindLoan, l.ID, l.UserID, l.Amount, l.BankDetails, admin.UserID, decision)
	if credit != nil {
		s.ledger.Committed(ctx, credit)
	}
	return l, nil
}

func (s *RequestService) afterDecision(ctx context.Context, kind, requestID, userID string, amount int64, bank models.BankDetails, adminID string, decision models.Decision) {
	status := string(decision.Status())
	metrics.RequestDecisions.WithLabelValues(kind, status).Inc()
	s.audit.LogDecision(kind, requestID, adminID, status, amount)
	log.Printf("[%s] Admin %s %s %s %s", kindTag(kind), adminID, status, kind, requestID)

	if decision != models.DecisionApprove || s.payouts == nil {
		return
	}
	if _, err := s.payouts.Enqueue(ctx, kind, requestID, userID, amount, bank); err != nil {
		// The decision is committed; the payout can be re-issued from the
		// approved request.
		log.Printf("[%s] Failed to queue payout for %s: %v", kindTag(kind), requestID, err)
		s.audit.LogError(requestID, userID, err)
	}
}

func kindTag(kind string) string {
	if kind == RequestKindLoan {
		return "LOAN"
	}
	return "WITHDRAWAL"
}

const withdrawalColumns = `id, user_id, amount, status, transaction_id, bank_name, bank_code, account_number, account_name, processed_by, processed_at, created_at`

const loanColumns = `id, user_id, amount, reason, status, bank_name, bank_code, account_number, account_name, processed_by, approved_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var status string
	var txID, processedBy sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &status, &txID,
		&w.BankName, &w.BankCode, &w.AccountNumber, &w.AccountName,
		&processedBy, &processedAt, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Status = models.RequestStatus(status)
	w.TransactionID = txID.String
	if processedBy.Valid {
		w.ProcessedBy = &processedBy.String
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return &w, nil
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var l models.Loan
	var status string
	var processedBy sql.NullString
	var approvedAt sql.NullTime
	err := row.Scan(&l.ID, &l.UserID, &l.Amount, &l.Reason, &status,
		&l.BankName, &l.BankCode, &l.AccountNumber, &l.AccountName,
		&processedBy, &approvedAt, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = models.RequestStatus(status)
	if processedBy.Valid {
		l.ProcessedBy = &processedBy.String
	}
	if approvedAt.Valid {
		l.ApprovedAt = &approvedAt.Time
	}
	return &l, nil
}

func (s *RequestService) lockWithdrawal(ctx context.Context, tx *sql.Tx, id string) (*models.Withdrawal, error) {
	w, err := scanWithdrawal(tx.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock withdrawal: %w", err)
	}
	return w, nil
}

func (s *RequestService) lockLoan(ctx context.Context, tx *sql.Tx, id string) (*models.Loan, error) {
	l, err := scanLoan(tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan: %w", err)
	}
	return l, nil
}

// ListWithdrawals pages through withdrawals, optionally filtered by
// status and user. Empty filters match everything.
func (s *RequestService) ListWithdrawals(ctx context.Context, status models.RequestStatus, userID string, page, pageSize int) (models.Page[models.Withdrawal], error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawals
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_id::text = $2)`,
		string(status), userID).Scan(&total)
	if err != nil {
		return models.Page[models.Withdrawal]{}, fmt.Errorf("failed to count withdrawals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_id::text = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(status), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return models.Page[models.Withdrawal]{}, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return models.Page[models.Withdrawal]{}, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Withdrawal]{}, err
	}
	return models.NewPage(out, total, page, pageSize), nil
}

// ListLoans pages through loans, optionally filtered by status and user.
func (s *RequestService) ListLoans(ctx context.Context, status models.RequestStatus, userID string, page, pageSize int) (models.Page[models.Loan], error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM loans
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_id::text = $2)`,
		string(status), userID).Scan(&total)
	if err != nil {
		return models.Page[models.Loan]{}, fmt.Errorf("failed to count loans: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR user_id::text = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		string(status), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return models.Page[models.Loan]{}, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var out []models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return models.Page[models.Loan]{}, fmt.Errorf("failed to scan loan: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Loan]{}, err
	}
	return models.NewPage(out, total, page, pageSize), nil
}
