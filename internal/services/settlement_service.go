package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/metrics"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/ratelimit"
	"github.com/google/uuid"
)

const taskAction = "task"

// TaskCompletion is the result of a successful task settlement.
type TaskCompletion struct {
	TaskID      string              `json:"task_id"`
	Reward      int64               `json:"reward"`
	Transaction *models.Transaction `json:"transaction"`
}

// VIPUpgrade reports what a payment confirmation changed. Duplicate is
// set when the payment reference had already been applied.
type VIPUpgrade struct {
	UserID       string                `json:"user_id"`
	PaymentRef   string                `json:"payment_ref"`
	Duplicate    bool                  `json:"duplicate"`
	AlreadyVIP   bool                  `json:"already_vip"`
	Transactions []*models.Transaction `json:"transactions"`
}

// SettlementService couples each reward-triggering event with its credit
// in one database transaction.
type SettlementService struct {
	db       *sql.DB
	ledger   *LedgerService
	limiter  ratelimit.Limiter
	settings *config.Settings
	verifier PaymentVerifier
	audit    *audit.Logger
	newID    func() string
}

func NewSettlementService(db *sql.DB, ledger *LedgerService, limiter ratelimit.Limiter, settings *config.Settings, verifier PaymentVerifier, auditLogger *audit.Logger) *SettlementService {
	return &SettlementService{
		db:       db,
		ledger:   ledger,
		limiter:  limiter,
		settings: settings,
		verifier: verifier,
		audit:    auditLogger,
		newID:    uuid.NewString,
	}
}

func settlementOutcome(err error) string {
	switch {
	case err == nil:
		return "settled"
	case errors.Is(err, models.ErrAlreadyCompleted):
		return "duplicate"
	case errors.Is(err, models.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInactiveResource):
		return "inactive"
	}
	return "error"
}

// CompleteTask marks taskID done by userID and credits the reward.
//
// The completed_by append is a compare-and-set on the task row, so
// concurrent attempts for the same user and task have one winner. The
// rate limiter is consulted only after the compare-and-set succeeds and
// its grant is refunded if the transaction does not commit.
func (s *SettlementService) CompleteTask(ctx context.Context, userID, taskID string) (*TaskCompletion, error) {
	limits := s.settings.Current().Limits
	policy := ratelimit.Policy{Cooldown: limits.TaskCooldown, Quota: limits.TaskHourlyQuota, Window: time.Hour}

	var result *TaskCompletion
	var granted *ratelimit.Decision

	err := s.ledger.InTx(ctx, func(tx *sql.Tx) (err error) {
		if granted != nil {
			// an earlier attempt succeeded but its commit was retried
			s.limiter.Release(ctx, *granted)
			granted = nil
		}

		var reward int64
		err = tx.QueryRowContext(ctx, `
			UPDATE tasks
			SET completed_by = array_append(completed_by, $1)
			WHERE id = $2 AND active AND NOT ($1 = ANY(completed_by))
			RETURNING reward`, userID, taskID).Scan(&reward)
		if err == sql.ErrNoRows {
			return s.diagnoseTask(ctx, tx, userID, taskID)
		}
		if err != nil {
			return fmt.Errorf("failed to mark task complete: %w", err)
		}

		d, err := s.limiter.TryAcquire(ctx, taskAction, userID, policy)
		if err != nil {
			return fmt.Errorf("rate limiter unavailable: %w", err)
		}
		if !d.Allowed {
			metrics.RateLimitDenials.WithLabelValues(taskAction, d.Scope).Inc()
			return &models.RateLimitError{Scope: d.Scope, RetryAfter: d.RetryAfter}
		}
		granted = &d
		defer func() {
			if err != nil {
				s.limiter.Release(ctx, d)
				granted = nil
			}
		}()

		related := taskID
		txn, err := s.ledger.CreditTx(ctx, tx, Entry{
			UserID:          userID,
			Amount:          reward,
			Type:            models.TxTask,
			Bucket:          models.BucketTask,
			RelatedRecordID: &related,
		})
		if err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx, `
			UPDATE users SET num_tasks_done = num_tasks_done + 1 WHERE id = $1`, userID); err != nil {
			return fmt.Errorf("failed to count task completion: %w", err)
		}

		result = &TaskCompletion{TaskID: taskID, Reward: reward, Transaction: txn}
		return nil
	})

	metrics.SettlementOutcomes.WithLabelValues("task", settlementOutcome(err)).Inc()
	if err != nil {
		if granted != nil {
			// fn succeeded but the commit did not
			s.limiter.Release(ctx, *granted)
		}
		if settlementOutcome(err) == "error" {
			s.audit.LogError(taskID, userID, err)
		}
		return nil, err
	}

	s.ledger.Committed(ctx, result.Transaction)
	log.Printf("[SETTLEMENT] User %s completed task %s for %d", userID, taskID, result.Reward)
	return result, nil
}

// diagnoseTask explains why the completion compare-and-set matched no row.
func (s *SettlementService) diagnoseTask(ctx context.Context, tx *sql.Tx, userID, taskID string) error {
	var active, done bool
	err := tx.QueryRowContext(ctx, `
		SELECT active, $1 = ANY(completed_by) FROM tasks WHERE id = $2`, userID, taskID).Scan(&active, &done)
	if err == sql.ErrNoRows {
		return models.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read task: %w", err)
	}
	if done {
		return models.ErrAlreadyCompleted
	}
	if !active {
		return models.ErrTaskInactive
	}
	// The row changed between the two statements; report it as a duplicate
	// rather than guessing.
	return models.ErrAlreadyCompleted
}

// GrantSignupBonusTx credits the one-time signup bonus. A unique index on
// signup_bonus transactions makes a second grant fail with ErrAlreadyCompleted.
func (s *SettlementService) GrantSignupBonusTx(ctx context.Context, tx *sql.Tx, userID string) (*models.Transaction, error) {
	bonus := s.settings.Current().Rewards.SignupBonus
	if bonus <= 0 {
		return nil, nil
	}
	return s.ledger.CreditTx(ctx, tx, Entry{UserID: userID, Amount: bonus, Type: models.TxSignupBonus})
}

// ApplyReferralTx links newUserID to the owner of code and credits the
// referrer. Unknown, expired and self-referencing codes are ignored: the
// signup itself still succeeds.
func (s *SettlementService) ApplyReferralTx(ctx context.Context, tx *sql.Tx, newUserID, code string) (*models.Referral, *models.Transaction, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil, nil
	}

	var referrerID string
	var referrerVIP bool
	var expiresAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT id, is_vip, referral_code_expires_at
		FROM users
		WHERE referral_code = $1
		FOR UPDATE`, code).Scan(&referrerID, &referrerVIP, &expiresAt)
	if err == sql.ErrNoRows {
		log.Printf("[SETTLEMENT] Ignoring unknown referral code %q for user %s", code, newUserID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up referral code: %w", err)
	}
	if referrerID == newUserID {
		return nil, nil, nil
	}
	if expiresAt.Valid && !time.Now().Before(expiresAt.Time) {
		log.Printf("[SETTLEMENT] Ignoring expired referral code %q for user %s", code, newUserID)
		return nil, nil, nil
	}

	rewards := s.settings.Current().Rewards
	reward := rewards.ReferralBonus
	if referrerVIP {
		reward = rewards.VIPReferralBonus
	}

	ref := &models.Referral{ID: s.newID(), ReferrerID: referrerID, ReferredID: newUserID, Reward: reward}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_id, reward)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (referred_id) DO NOTHING
		RETURNING created_at`, ref.ID, ref.ReferrerID, ref.ReferredID, ref.Reward).Scan(&ref.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, models.ErrAlreadyCompleted
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record referral: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET num_referrals = num_referrals + 1 WHERE id = $1`, referrerID); err != nil {
		return nil, nil, fmt.Errorf("failed to count referral: %w", err)
	}

	if reward <= 0 {
		return ref, nil, nil
	}
	txn, err := s.ledger.CreditTx(ctx, tx, Entry{
		UserID:          referrerID,
		Amount:          reward,
		Type:            models.TxReferral,
		Bucket:          models.BucketReferral,
		RelatedRecordID: &ref.ID,
	})
	if err != nil {
		return nil, nil, err
	}
	return ref, txn, nil
}

// ConfirmVIPPayment verifies paymentRef with the payment provider against
// the user's e-mail and upgrades the user. Delivering the same reference
// again is a no-op.
func (s *SettlementService) ConfirmVIPPayment(ctx context.Context, userID, paymentRef string, amountPaid int64) (*VIPUpgrade, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	price := s.settings.Current().Rewards.VIPPrice
	if amountPaid < price {
		return nil, fmt.Errorf("%w: VIP costs %d, got %d", models.ErrInvalidAmount, price, amountPaid)
	}

	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	payment := Payment{Ref: paymentRef, Amount: amountPaid, CustomerEmail: email}
	if err := s.verifier.Verify(ctx, payment); err != nil {
		s.audit.LogError(paymentRef, userID, err)
		metrics.SettlementOutcomes.WithLabelValues("vip", "unverified").Inc()
		return nil, err
	}
	return s.upgradeVIP(ctx, userID, paymentRef, amountPaid)
}

// GrantVIP upgrades a user without a payment, on an admin's behalf. Each
// grant gets its own reference so a user can be granted again after a
// revocation; the NOT is_vip guard keeps a repeated grant a no-op.
func (s *SettlementService) GrantVIP(ctx context.Context, adminID, userID string) (*VIPUpgrade, error) {
	ref := fmt.Sprintf("admin:%s:%s:%s", adminID, userID, s.newID())
	up, err := s.upgradeVIP(ctx, userID, ref, 0)
	if err == nil {
		s.audit.LogOperation(up.PaymentRef, adminID, "VIP_GRANT", "granted VIP to "+userID)
	}
	return up, err
}

func (s *SettlementService) upgradeVIP(ctx context.Context, userID, paymentRef string, amount int64) (*VIPUpgrade, error) {
	rewards := s.settings.Current().Rewards
	var up *VIPUpgrade

	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		up = &VIPUpgrade{UserID: userID, PaymentRef: paymentRef}

		paymentID := s.newID()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO vip_payments (id, user_id, payment_ref, amount)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (payment_ref) DO NOTHING`, paymentID, userID, paymentRef, amount)
		if err != nil {
			return fmt.Errorf("failed to record VIP payment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			up.Duplicate = true
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE users SET is_vip = TRUE, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND NOT is_vip`, userID)
		if err != nil {
			return fmt.Errorf("failed to set VIP status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check user: %w", err)
			}
			if !exists {
				return models.ErrUserNotFound
			}
			up.AlreadyVIP = true
			return nil
		}

		// The VIP bonus is paid once per user; an upgrade after a revocation
		// restores the flag only.
		bonusPaid := false
		if rewards.VIPSignupBonus > 0 {
			err = tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM transactions
				WHERE user_id = $1 AND type = 'vip_bonus' AND bucket = '')`, userID).Scan(&bonusPaid)
			if err != nil {
				return fmt.Errorf("failed to check VIP bonus: %w", err)
			}
		}
		if rewards.VIPSignupBonus > 0 && !bonusPaid {
			txn, err := s.ledger.CreditTx(ctx, tx, Entry{
				UserID:          userID,
				Amount:          rewards.VIPSignupBonus,
				Type:            models.TxVIPBonus,
				RelatedRecordID: &paymentID,
			})
			if err != nil {
				return err
			}
			up.Transactions = append(up.Transactions, txn)
		}

		// The flag flip is the at-most-once guard for the referrer's bonus.
		var referralID, referrerID string
		err = tx.QueryRowContext(ctx, `
			UPDATE referrals SET vip_bonus_paid = TRUE
			WHERE referred_id = $1 AND NOT vip_bonus_paid
			RETURNING id, referrer_id`, userID).Scan(&referralID, &referrerID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim referrer VIP bonus: %w", err)
		}
		if rewards.ReferrerVIPBonus <= 0 {
			return nil
		}
		txn, err := s.ledger.CreditTx(ctx, tx, Entry{
			UserID:          referrerID,
			Amount:          rewards.ReferrerVIPBonus,
			Type:            models.TxVIPBonus,
			Bucket:          models.BucketReferral,
			RelatedRecordID: &referralID,
		})
		if err != nil {
			return err
		}
		up.Transactions = append(up.Transactions, txn)
		return nil
	})

	outcome := "settled"
	switch {
	case err != nil:
		outcome = settlementOutcome(err)
	case up.Duplicate, up.AlreadyVIP:
		outcome = "duplicate"
	}
	metrics.SettlementOutcomes.WithLabelValues("vip", outcome).Inc()
	if err != nil {
		s.audit.LogError(paymentRef, userID, err)
		return nil, err
	}

	s.ledger.Committed(ctx, up.Transactions...)
	s.ledger.users.Invalidate(ctx, userID)
	if up.Duplicate {
		log.Printf("[SETTLEMENT] VIP payment %s already applied for user %s", paymentRef, userID)
	} else {
		log.Printf("[SETTLEMENT] User %s upgraded to VIP with payment %s", userID, paymentRef)
	}
	return up, nil
}
