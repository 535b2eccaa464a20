package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/cache"
	"github.com/earnhub/backend/internal/metrics"
	"github.com/earnhub/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UserCache caches user profiles by id.
type UserCache = cache.Cache[models.User]

// Entry describes one balance mutation. Amount is always positive; the
// ledger applies the sign.
type Entry struct {
	UserID          string
	Amount          int64
	Type            models.TransactionType
	Bucket          models.Bucket
	RelatedRecordID *string
}

// LedgerService owns user balances and the transactions table. Every
// balance change is a conditional single-row UPDATE paired with exactly
// one transaction row inside the same database transaction.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
	users *UserCache
	now   func() time.Time
	newID func() string
}

func NewLedgerService(db *sql.DB, auditLogger *audit.Logger, users *UserCache) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: auditLogger,
		users: users,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// InTx runs fn in a database transaction, retrying once when Postgres
// reports a serialization failure or deadlock.
func (s *LedgerService) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.runTx(ctx, fn)
	if isTransientConflict(err) {
		metrics.LedgerRetries.Inc()
		log.Printf("[LEDGER] Transient conflict, retrying once: %v", err)
		err = s.runTx(ctx, fn)
	}
	return err
}

func (s *LedgerService) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isTransientConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Credit applies e as a completed credit and commits it.
func (s *LedgerService) Credit(ctx context.Context, e Entry) (*models.Transaction, error) {
	var txn *models.Transaction
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		txn, err = s.CreditTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Committed(ctx, txn)
	return txn, nil
}

// Debit applies e as a completed debit and commits it.
func (s *LedgerService) Debit(ctx context.Context, e Entry) (*models.Transaction, error) {
	var txn *models.Transaction
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		txn, err = s.DebitTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Committed(ctx, txn)
	return txn, nil
}

func bucketAssignment(b models.Bucket) string {
	switch b {
	case models.BucketTask:
		return ", task_balance = task_balance + $1"
	case models.BucketReferral:
		return ", referral_balance = referral_balance + $1"
	}
	return ""
}

// CreditTx increments the user's balance, and the sub-balance named by
// e.Bucket, within tx.
func (s *LedgerService) CreditTx(ctx context.Context, tx *sql.Tx, e Entry) (*models.Transaction, error) {
	if e.Amount <= 0 {
		return nil, fmt.Errorf("%w: credit amount must be positive", models.ErrInvalidAmount)
	}

	var balanceAfter int64
	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET balance = balance + $1`+bucketAssignment(e.Bucket)+`, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance`, e.Amount, e.UserID).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit user %s: %w", e.UserID, err)
	}

	return s.insertTransaction(ctx, tx, e, e.Amount, models.TxStatusCompleted, &balanceAfter)
}

// DebitTx decrements the balance only if it covers the amount. The check
// and the write are one statement.
func (s *LedgerService) DebitTx(ctx context.Context, tx *sql.Tx, e Entry) (*models.Transaction, error) {
	if e.Amount <= 0 {
		return nil, fmt.Errorf("%w: debit amount must be positive", models.ErrInvalidAmount)
	}

	balanceAfter, err := s.debitBalance(ctx, tx, e.UserID, e.Amount)
	if err != nil {
		return nil, err
	}
	return s.insertTransaction(ctx, tx, e, -e.Amount, models.TxStatusCompleted, &balanceAfter)
}

func (s *LedgerService) debitBalance(ctx context.Context, tx *sql.Tx, userID string, amount int64) (int64, error) {
	var balanceAfter int64
	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET balance = balance - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance`, amount, userID).Scan(&balanceAfter)
	if err == sql.ErrNoRows {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("failed to check user %s: %w", userID, err)
		}
		if !exists {
			return 0, models.ErrUserNotFound
		}
		return 0, models.ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("failed to debit user %s: %w", userID, err)
	}
	return balanceAfter, nil
}

// AvailableTx locks the user row and returns the balance minus pending
// holds. Callers that go on to place a hold are serialized per user.
func (s *LedgerService) AvailableTx(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, models.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock user %s: %w", userID, err)
	}

	var held int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(-amount), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'pending' AND amount < 0`, userID).Scan(&held)
	if err != nil {
		return 0, fmt.Errorf("failed to sum holds for user %s: %w", userID, err)
	}
	return balance - held, nil
}

// HoldTx records a pending debit without touching the balance. It fails
// with ErrInsufficientBalance when the amount exceeds what is available.
func (s *LedgerService) HoldTx(ctx context.Context, tx *sql.Tx, e Entry) (*models.Transaction, error) {
	if e.Amount <= 0 {
		return nil, fmt.Errorf("%w: hold amount must be positive", models.ErrInvalidAmount)
	}

	available, err := s.AvailableTx(ctx, tx, e.UserID)
	if err != nil {
		return nil, err
	}
	if e.Amount > available {
		return nil, models.ErrInsufficientBalance
	}
	return s.insertTransaction(ctx, tx, e, -e.Amount, models.TxStatusPending, nil)
}

// SettleTx completes a pending transaction and applies its amount to the
// balance. A transaction that is no longer pending yields ErrAlreadyResolved.
func (s *LedgerService) SettleTx(ctx context.Context, tx *sql.Tx, transactionID string) (*models.Transaction, error) {
	txn, err := s.lockTransaction(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TxStatusPending {
		return nil, models.ErrAlreadyResolved
	}

	var balanceAfter int64
	if txn.Amount < 0 {
		balanceAfter, err = s.debitBalance(ctx, tx, txn.UserID, -txn.Amount)
	} else {
		err = tx.QueryRowContext(ctx, `
			UPDATE users
			SET balance = balance + $1`+bucketAssignment(txn.Bucket)+`, version = version + 1, updated_at = NOW()
			WHERE id = $2
			RETURNING balance`, txn.Amount, txn.UserID).Scan(&balanceAfter)
		if err == sql.ErrNoRows {
			err = models.ErrUserNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1, balance_after = $2 WHERE id = $3`,
		string(models.TxStatusCompleted), balanceAfter, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to settle transaction %s: %w", transactionID, err)
	}

	txn.Status = models.TxStatusCompleted
	txn.BalanceAfter = &balanceAfter
	return txn, nil
}

// VoidTx rejects a pending transaction. No balance changes.
func (s *LedgerService) VoidTx(ctx context.Context, tx *sql.Tx, transactionID string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1 WHERE id = $2 AND status = $3`,
		string(models.TxStatusRejected), transactionID, string(models.TxStatusPending))
	if err != nil {
		return fmt.Errorf("failed to void transaction %s: %w", transactionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrAlreadyResolved
	}
	return nil
}

func (s *LedgerService) lockTransaction(ctx context.Context, tx *sql.Tx, transactionID string) (*models.Transaction, error) {
	var txn models.Transaction
	var txType, status, bucket string
	var related sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, amount, type, status, bucket, related_record_id, created_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, transactionID).
		Scan(&txn.ID, &txn.UserID, &txn.Amount, &txType, &status, &bucket, &related, &txn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock transaction %s: %w", transactionID, err)
	}
	txn.Type = models.TransactionType(txType)
	txn.Status = models.TransactionStatus(status)
	txn.Bucket = models.Bucket(bucket)
	if related.Valid {
		txn.RelatedRecordID = &related.String
	}
	return &txn, nil
}

func (s *LedgerService) insertTransaction(ctx context.Context, tx *sql.Tx, e Entry, signed int64, status models.TransactionStatus, balanceAfter *int64) (*models.Transaction, error) {
	txn := &models.Transaction{
		ID:              s.newID(),
		UserID:          e.UserID,
		Amount:          signed,
		Type:            e.Type,
		Status:          status,
		Bucket:          e.Bucket,
		RelatedRecordID: e.RelatedRecordID,
		BalanceAfter:    balanceAfter,
		CreatedAt:       s.now().UTC(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, amount, type, status, bucket, related_record_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.UserID, txn.Amount, string(txn.Type), string(txn.Status), string(txn.Bucket),
		txn.RelatedRecordID, txn.BalanceAfter, txn.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s transaction already recorded for user %s", models.ErrAlreadyCompleted, e.Type, e.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return txn, nil
}

// Committed publishes side effects for transactions whose database
// transaction has committed: audit lines, metrics and cache invalidation.
func (s *LedgerService) Committed(ctx context.Context, txns ...*models.Transaction) {
	userIDs := make([]string, 0, len(txns))
	for _, txn := range txns {
		if txn == nil {
			continue
		}
		direction := "credit"
		switch {
		case txn.Status == models.TxStatusPending:
			direction = "hold"
		case txn.Amount < 0:
			direction = "debit"
		}
		metrics.LedgerMutations.WithLabelValues(string(txn.Type), direction).Inc()
		s.audit.LogLedger(txn.ID, txn.UserID, string(txn.Type), txn.Amount, string(txn.Status))
		userIDs = append(userIDs, txn.UserID)
	}
	s.users.Invalidate(ctx, userIDs...)
}

// BalanceOf reads the committed balances for a user.
func (s *LedgerService) BalanceOf(ctx context.Context, userID string) (*models.Balance, error) {
	b := models.Balance{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT balance, task_balance, referral_balance FROM users WHERE id = $1`, userID).
		Scan(&b.Balance, &b.TaskBalance, &b.ReferralBalance)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	return &b, nil
}

// History returns a user's transactions, newest first.
func (s *LedgerService) History(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, status, bucket, related_record_id, balance_after, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		var txType, status, bucket string
		var related sql.NullString
		var balanceAfter sql.NullInt64
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Amount, &txType, &status, &bucket, &related, &balanceAfter, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Type = models.TransactionType(txType)
		txn.Status = models.TransactionStatus(status)
		txn.Bucket = models.Bucket(bucket)
		if related.Valid {
			txn.RelatedRecordID = &related.String
		}
		if balanceAfter.Valid {
			txn.BalanceAfter = &balanceAfter.Int64
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
