package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountService(t *testing.T) (*AccountService, sqlmock.Sqlmock) {
	t.Helper()
	ledger, mock, db := newTestLedger(t)
	svc := NewAccountService(db, ledger, ledger.users, NewBankService())
	svc.now = func() time.Time { return testNow }
	return svc, mock
}

var userCols = []string{"id", "email", "full_name", "role", "balance", "task_balance", "referral_balance", "is_vip",
	"num_referrals", "num_tasks_done", "referral_code", "referral_code_expires_at", "created_at", "updated_at"}

func TestAccountService_Profile(t *testing.T) {
	svc, mock := newTestAccountService(t)

	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "ada@example.com", "Ada Obi", "user", 1500, 1000, 500, false, 1, 4, "REFAB12CD", nil, testNow, testNow))

	u, err := svc.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), u.Balance)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Nil(t, u.ReferralCodeExpiresAt)

	mock.ExpectQuery("FROM users WHERE id").WillReturnRows(sqlmock.NewRows(userCols))
	_, err = svc.Profile(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Earnings(t *testing.T) {
	svc, mock := newTestAccountService(t)

	mock.ExpectQuery("SELECT balance, task_balance, referral_balance FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance", "task_balance", "referral_balance"}).AddRow(4700, 1200, 500))
	mock.ExpectQuery(`SELECT type, COALESCE\(SUM\(amount\), 0\) FROM transactions WHERE user_id = \$1 AND status = 'completed' GROUP BY type`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"type", "sum"}).
			AddRow("task", 1200).
			AddRow("referral", 500).
			AddRow("signup_bonus", 1000).
			AddRow("vip_bonus", 1000).
			AddRow("loan", 3000).
			AddRow("withdrawal", -2000))
	mock.ExpectQuery("FROM transactions WHERE user_id").
		WithArgs("u1", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "type", "status", "bucket", "related_record_id", "balance_after", "created_at"}))

	e, err := svc.Earnings(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4700), e.TotalBalance)
	assert.Equal(t, int64(1200), e.Tasks)
	assert.Equal(t, int64(500), e.Referrals)
	assert.Equal(t, int64(2000), e.Bonuses)
	assert.Equal(t, int64(3000), e.Loans)
	assert.Equal(t, int64(2000), e.Withdrawals)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_Leaderboard(t *testing.T) {
	svc, mock := newTestAccountService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE role = 'user'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`ORDER BY balance DESC, created_at ASC LIMIT \$1 OFFSET \$2`).
		WithArgs(10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "balance", "num_tasks_done", "num_referrals", "is_vip"}).
			AddRow("u11", "Ada", 900, 3, 0, false).
			AddRow("u12", "Bola", 800, 2, 1, true))

	page, err := svc.Leaderboard(context.Background(), 2, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, 11, page.Data[0].Rank)
	assert.Equal(t, 12, page.Data[1].Rank)
	assert.Equal(t, 2, page.TotalPages)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_ReferralStats(t *testing.T) {
	svc, mock := newTestAccountService(t)

	mock.ExpectQuery(`FROM users u WHERE u.id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"num_referrals", "referral_balance", "referral_code", "sum"}).AddRow(3, 1500, "REFAB12CD", 3500))

	stats, err := svc.ReferralStats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &models.ReferralStats{TotalReferrals: 3, ReferralBalance: 1500, ReferralCode: "REFAB12CD", TotalEarnings: 3500}, stats)
}

func TestAccountService_Referrals(t *testing.T) {
	svc, mock := newTestAccountService(t)

	mock.ExpectQuery(`FROM referrals r JOIN users u ON u.id = r.referred_id WHERE r.referrer_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "uid", "full_name", "is_vip", "reward", "vip_bonus_paid", "created_at"}).
			AddRow("ref-1", "u2", "Bola", true, 500, true, testNow))

	refs, err := svc.Referrals(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].VIPBonusPaid)
}

func TestQRService_ReferralQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	codeRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"referral_code"}).AddRow("REFAB12CD")
	}

	t.Run("renders a PNG", func(t *testing.T) {
		svc := NewQRService(db, nil, "https://earnhub.example/")
		mock.ExpectQuery(`SELECT referral_code FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(codeRows())

		link, png, err := svc.ReferralQR(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "https://earnhub.example/signup?ref=REFAB12CD", link)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	})

	t.Run("serves the cached image", func(t *testing.T) {
		rdb, rmock := redismock.NewClientMock()
		svc := NewQRService(db, rdb, "https://earnhub.example")
		mock.ExpectQuery("SELECT referral_code FROM users").WillReturnRows(codeRows())
		rmock.ExpectGet("qr:referral:REFAB12CD").SetVal("cached")

		_, png, err := svc.ReferralQR(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, []byte("cached"), png)
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountService_UpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("renames the user", func(t *testing.T) {
		svc, mock := newTestAccountService(t)

		mock.ExpectExec(`UPDATE users SET full_name = \$2, version = version \+ 1, updated_at = \$3 WHERE id = \$1`).
			WithArgs("u1", "Ada Obi-Eze", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow("u1", "ada@example.com", "Ada Obi-Eze", "user", 0, 0, 0, false, 0, 0, "REFAB12CD", nil, testNow, testNow))

		u, err := svc.UpdateProfile(ctx, "u1", "  Ada Obi-Eze ")
		require.NoError(t, err)
		assert.Equal(t, "Ada Obi-Eze", u.FullName)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blank name", func(t *testing.T) {
		svc, mock := newTestAccountService(t)

		_, err := svc.UpdateProfile(ctx, "u1", "   ")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, mock := newTestAccountService(t)

		mock.ExpectExec("UPDATE users SET full_name").WillReturnResult(sqlmock.NewResult(0, 0))

		_, err := svc.UpdateProfile(ctx, "ghost", "Nobody")
		assert.ErrorIs(t, err, models.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_BankDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("save normalizes the bank name and upserts", func(t *testing.T) {
		svc, mock := newTestAccountService(t)

		mock.ExpectExec(`INSERT INTO user_bank_accounts .* ON CONFLICT \(user_id\) DO UPDATE`).
			WithArgs("u1", "Access Bank", "044", "9876543210", "Ada Obi", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		b, err := svc.SaveBankDetails(ctx, "u1", models.BankDetails{
			BankName: "access", BankCode: " 044 ", AccountNumber: "9876543210", AccountName: " Ada Obi",
		})
		require.NoError(t, err)
		assert.Equal(t, "Access Bank", b.BankName)
		assert.Equal(t, "044", b.BankCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown bank code is not stored", func(t *testing.T) {
		svc, mock := newTestAccountService(t)

		_, err := svc.SaveBankDetails(ctx, "u1", models.BankDetails{
			BankName: "Mystery", BankCode: "999", AccountNumber: "9876543210", AccountName: "Ada Obi",
		})
		assert.ErrorIs(t, err, models.ErrUnknownBank)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("read back", func(t *testing.T) {
		svc, mock := newTestAccountService(t)

		expectSavedBank(mock, "u1", true)
		b, err := svc.BankDetails(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, models.BankDetails{BankName: "Access Bank", BankCode: "044", AccountNumber: "9876543210", AccountName: "Ada Obi"}, *b)

		expectSavedBank(mock, "u2", false)
		_, err = svc.BankDetails(ctx, "u2")
		assert.ErrorIs(t, err, models.ErrBankAccountNotFound)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
