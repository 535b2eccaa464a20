package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/cache"
	"github.com/earnhub/backend/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestLedger(t *testing.T) (*LedgerService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ledger := NewLedgerService(db, audit.NewLoggerTo(io.Discard), cache.New[models.User](nil, "user:", time.Minute))
	ledger.now = func() time.Time { return testNow }
	ledger.newID = sequentialIDs("tx")
	return ledger, mock, db
}

func balanceRows(balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"balance"}).AddRow(balance)
}

func TestLedgerService_Credit(t *testing.T) {
	t.Run("task credit updates the task bucket", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE users SET balance = balance \+ \$1, task_balance = task_balance \+ \$1`).
			WithArgs(int64(250), "u1").
			WillReturnRows(balanceRows(1250))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs("tx-1", "u1", int64(250), "task", "completed", "task", sqlmock.AnyArg(), int64(1250), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := ledger.Credit(context.Background(), Entry{UserID: "u1", Amount: 250, Type: models.TxTask, Bucket: models.BucketTask})
		require.NoError(t, err)
		assert.Equal(t, "tx-1", txn.ID)
		assert.Equal(t, models.TxStatusCompleted, txn.Status)
		assert.Equal(t, int64(1250), *txn.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("referral credit updates the referral bucket", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`referral_balance = referral_balance \+ \$1`).
			WithArgs(int64(500), "u1").
			WillReturnRows(balanceRows(1500))
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := ledger.Credit(context.Background(), Entry{UserID: "u1", Amount: 500, Type: models.TxReferral, Bucket: models.BucketReferral})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE users SET balance = balance").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectRollback()

		_, err := ledger.Credit(context.Background(), Entry{UserID: "ghost", Amount: 10, Type: models.TxDeposit})
		assert.ErrorIs(t, err, models.ErrUserNotFound)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate one-time credit", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE users SET balance = balance").WillReturnRows(balanceRows(2000))
		mock.ExpectExec("INSERT INTO transactions").WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, err := ledger.Credit(context.Background(), Entry{UserID: "u1", Amount: 1000, Type: models.TxSignupBonus})
		assert.ErrorIs(t, err, models.ErrAlreadyCompleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := ledger.Credit(context.Background(), Entry{UserID: "u1", Amount: 0, Type: models.TxTask})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Debit(t *testing.T) {
	t.Run("sufficient balance", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE users SET balance = balance - \$1, version = version \+ 1, updated_at = NOW\(\) WHERE id = \$2 AND balance >= \$1`).
			WithArgs(int64(400), "u1").
			WillReturnRows(balanceRows(600))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs("tx-1", "u1", int64(-400), "withdrawal", "completed", "", sqlmock.AnyArg(), int64(600), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := ledger.Debit(context.Background(), Entry{UserID: "u1", Amount: 400, Type: models.TxWithdrawal})
		require.NoError(t, err)
		assert.Equal(t, int64(-400), txn.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE users SET balance = balance -").
			WithArgs(int64(6000), "u1").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE id = \$1\)`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := ledger.Debit(context.Background(), Entry{UserID: "u1", Amount: 6000, Type: models.TxWithdrawal})
		assert.ErrorIs(t, err, models.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE users SET balance = balance -").
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := ledger.Debit(context.Background(), Entry{UserID: "ghost", Amount: 10, Type: models.TxWithdrawal})
		assert.ErrorIs(t, err, models.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_InTxRetriesTransientConflictOnce(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE users SET balance = balance").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE users SET balance = balance").WillReturnRows(balanceRows(100))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := ledger.Credit(context.Background(), Entry{UserID: "u1", Amount: 100, Type: models.TxDeposit})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_InTxGivesUpAfterSecondConflict(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE users SET balance = balance").WillReturnError(&pq.Error{Code: "40P01"})
		mock.ExpectRollback()
	}

	_, err := ledger.Credit(context.Background(), Entry{UserID: "u1", Amount: 100, Type: models.TxDeposit})
	assert.True(t, isTransientConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_HoldTx(t *testing.T) {
	expectAvailable := func(mock sqlmock.Sqlmock, balance, held int64) {
		mock.ExpectQuery(`SELECT balance FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs("u1").
			WillReturnRows(balanceRows(balance))
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(-amount\), 0\) FROM transactions`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(held))
	}

	t.Run("within available balance", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		expectAvailable(mock, 5000, 3000)
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs("tx-1", "u1", int64(-2000), "withdrawal", "pending", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		var txn *models.Transaction
		err := ledger.InTx(context.Background(), func(tx *sql.Tx) error {
			var err error
			txn, err = ledger.HoldTx(context.Background(), tx, Entry{UserID: "u1", Amount: 2000, Type: models.TxWithdrawal})
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusPending, txn.Status)
		assert.Nil(t, txn.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("pending holds reduce what is available", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		expectAvailable(mock, 5000, 3000)
		mock.ExpectRollback()

		err := ledger.InTx(context.Background(), func(tx *sql.Tx) error {
			_, err := ledger.HoldTx(context.Background(), tx, Entry{UserID: "u1", Amount: 2500, Type: models.TxWithdrawal})
			return err
		})
		assert.ErrorIs(t, err, models.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func txnRow(id, userID string, amount int64, txType, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "amount", "type", "status", "bucket", "related_record_id", "created_at"}).
		AddRow(id, userID, amount, txType, status, "", "wd-1", testNow)
}

func TestLedgerService_SettleTx(t *testing.T) {
	t.Run("pending debit is applied", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, user_id, amount, type, status, bucket, related_record_id, created_at FROM transactions WHERE id = \$1 FOR UPDATE`).
			WithArgs("tx-9").
			WillReturnRows(txnRow("tx-9", "u1", -2000, "withdrawal", "pending"))
		mock.ExpectQuery("UPDATE users SET balance = balance -").
			WithArgs(int64(2000), "u1").
			WillReturnRows(balanceRows(3000))
		mock.ExpectExec(`UPDATE transactions SET status = \$1, balance_after = \$2 WHERE id = \$3`).
			WithArgs("completed", int64(3000), "tx-9").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		var txn *models.Transaction
		err := ledger.InTx(context.Background(), func(tx *sql.Tx) error {
			var err error
			txn, err = ledger.SettleTx(context.Background(), tx, "tx-9")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, models.TxStatusCompleted, txn.Status)
		assert.Equal(t, "wd-1", *txn.RelatedRecordID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already settled", func(t *testing.T) {
		ledger, mock, _ := newTestLedger(t)

		mock.ExpectBegin()
		mock.ExpectQuery("FROM transactions WHERE id").
			WillReturnRows(txnRow("tx-9", "u1", -2000, "withdrawal", "completed"))
		mock.ExpectRollback()

		err := ledger.InTx(context.Background(), func(tx *sql.Tx) error {
			_, err := ledger.SettleTx(context.Background(), tx, "tx-9")
			return err
		})
		assert.ErrorIs(t, err, models.ErrAlreadyResolved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_VoidTx(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE transactions SET status = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs("rejected", "tx-9", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := ledger.InTx(context.Background(), func(tx *sql.Tx) error {
		return ledger.VoidTx(context.Background(), tx, "tx-9")
	})
	assert.ErrorIs(t, err, models.ErrAlreadyResolved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerService_BalanceOf(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectQuery("SELECT balance, task_balance, referral_balance FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "task_balance", "referral_balance"}).AddRow(3500, 2000, 500))

	b, err := ledger.BalanceOf(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &models.Balance{UserID: "u1", Balance: 3500, TaskBalance: 2000, ReferralBalance: 500}, b)

	mock.ExpectQuery("SELECT balance, task_balance, referral_balance FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "task_balance", "referral_balance"}))
	_, err = ledger.BalanceOf(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestLedgerService_History(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectQuery("FROM transactions WHERE user_id = \\$1 ORDER BY created_at DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("u1", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "type", "status", "bucket", "related_record_id", "balance_after", "created_at"}).
			AddRow("tx-2", "u1", -500, "withdrawal", "pending", "", "wd-1", nil, testNow).
			AddRow("tx-1", "u1", 1000, "signup_bonus", "completed", "", nil, 1000, testNow))

	txns, err := ledger.History(context.Background(), "u1", 20, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Nil(t, txns[0].BalanceAfter)
	assert.Nil(t, txns[1].RelatedRecordID)
	assert.Equal(t, int64(1000), *txns[1].BalanceAfter)
}
