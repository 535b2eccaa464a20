package services

import (
	"context"
	"database/sql"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArgon = config.Argon2Config{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32, SaltLength: 16}

var testJWT = config.JWTConfig{SecretKey: "test-secret", Expiry: 24 * time.Hour}

type authFixture struct {
	svc   *AuthService
	mock  sqlmock.Sqlmock
	redis redismock.ClientMock
}

func newAuthFixture(t *testing.T, withRedis bool) *authFixture {
	t.Helper()
	ledger, m, db := newTestLedger(t)
	settlement := NewSettlementService(db, ledger, &MockLimiter{}, testSettings(), &MockPaymentVerifier{}, audit.NewLoggerTo(io.Discard))
	settlement.newID = sequentialIDs("ref")

	var rdb *redis.Client
	var rmock redismock.ClientMock
	if withRedis {
		rdb, rmock = redismock.NewClientMock()
	}
	svc := NewAuthService(db, rdb, ledger, settlement, testJWT, testArgon)
	svc.now = func() time.Time { return testNow }
	svc.newID = sequentialIDs("user")
	return &authFixture{svc: svc, mock: m, redis: rmock}
}

const insertUserSQL = `INSERT INTO users \(id, email, full_name, password_hash, role, referral_code\)`

func createdRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(testNow, testNow)
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	req := RegisterRequest{Email: " New@Example.com", Password: "password123", FullName: "Ada Obi"}

	t.Run("credits the signup bonus", func(t *testing.T) {
		f := newAuthFixture(t, false)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(insertUserSQL).
			WithArgs("user-1", "new@example.com", "Ada Obi", sqlmock.AnyArg(), "user", sqlmock.AnyArg()).
			WillReturnRows(createdRows())
		f.mock.ExpectQuery("UPDATE users SET balance = balance").
			WithArgs(int64(1000), "user-1").
			WillReturnRows(balanceRows(1000))
		f.mock.ExpectExec("INSERT INTO transactions").
			WithArgs("tx-1", "user-1", int64(1000), "signup_bonus", "completed", "", sqlmock.AnyArg(), int64(1000), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectCommit()

		resp, err := f.svc.Register(ctx, req)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "new@example.com", resp.User.Email)
		assert.Equal(t, models.RoleUser, resp.User.Role)
		assert.Equal(t, int64(1000), resp.User.Balance)
		assert.Regexp(t, `^REF[A-Z2-9]{6}$`, resp.User.ReferralCode)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("retries a referral code collision", func(t *testing.T) {
		f := newAuthFixture(t, false)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(insertUserSQL).WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))
		f.mock.ExpectQuery(insertUserSQL).
			WithArgs("user-2", "new@example.com", "Ada Obi", sqlmock.AnyArg(), "user", sqlmock.AnyArg()).
			WillReturnRows(createdRows())
		f.mock.ExpectQuery("UPDATE users SET balance = balance").WillReturnRows(balanceRows(1000))
		f.mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectCommit()

		resp, err := f.svc.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "user-2", resp.User.ID)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("email already registered", func(t *testing.T) {
		f := newAuthFixture(t, false)

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(insertUserSQL).WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})
		f.mock.ExpectRollback()

		_, err := f.svc.Register(ctx, req)
		assert.ErrorIs(t, err, models.ErrEmailTaken)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("applies a referral code", func(t *testing.T) {
		f := newAuthFixture(t, false)
		withCode := req
		withCode.ReferralCode = "refab12cd"

		f.mock.ExpectBegin()
		f.mock.ExpectQuery(insertUserSQL).WillReturnRows(createdRows())
		f.mock.ExpectQuery("UPDATE users SET balance = balance").
			WithArgs(int64(1000), "user-1").
			WillReturnRows(balanceRows(1000))
		f.mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		expectReferrerLookup(f.mock, "REFAB12CD", "u1", false, nil)
		f.mock.ExpectQuery("INSERT INTO referrals").
			WithArgs("ref-1", "u1", "user-1", int64(500)).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(testNow))
		f.mock.ExpectExec("UPDATE users SET num_referrals = num_referrals").
			WithArgs("u1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectQuery(`referral_balance = referral_balance \+ \$1`).
			WithArgs(int64(500), "u1").
			WillReturnRows(balanceRows(2500))
		f.mock.ExpectExec("INSERT INTO transactions").
			WithArgs("tx-2", "u1", int64(500), "referral", "completed", "referral", "ref-1", int64(2500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectCommit()

		_, err := f.svc.Register(ctx, withCode)
		require.NoError(t, err)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestAuthService_CreateAdmin(t *testing.T) {
	f := newAuthFixture(t, false)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(insertUserSQL).
		WithArgs("user-1", "root@example.com", "Root", sqlmock.AnyArg(), "admin", sqlmock.AnyArg()).
		WillReturnRows(createdRows())
	f.mock.ExpectCommit()

	user, err := f.svc.CreateAdmin(context.Background(), "root@example.com", "password123", "Root")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

var loginCols = []string{"id", "email", "full_name", "role", "balance", "task_balance", "referral_balance", "is_vip",
	"num_referrals", "num_tasks_done", "referral_code", "referral_code_expires_at", "created_at", "updated_at", "password_hash"}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, false)
	hashed, err := f.svc.hashPassword("password123")
	require.NoError(t, err)

	loginRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(loginCols).
			AddRow("u1", "test@example.com", "Ada Obi", "admin", 1500, 1000, 500, true, 2, 4, "REFAB12CD", nil, testNow, testNow, hashed)
	}

	t.Run("successful login", func(t *testing.T) {
		f.mock.ExpectQuery(`FROM users WHERE email = \$1`).
			WithArgs("test@example.com").
			WillReturnRows(loginRow())

		resp, err := f.svc.Login(ctx, LoginRequest{Email: "Test@example.com", Password: "password123"})
		require.NoError(t, err)
		assert.Equal(t, int64(1500), resp.User.Balance)

		claims, err := f.svc.ParseToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
		assert.Equal(t, models.RoleAdmin, claims.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(loginRow())

		_, err := f.svc.Login(ctx, LoginRequest{Email: "test@example.com", Password: "wrongpassword"})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	})

	t.Run("user not found", func(t *testing.T) {
		f.mock.ExpectQuery("FROM users WHERE email").WillReturnError(sql.ErrNoRows)

		_, err := f.svc.Login(ctx, LoginRequest{Email: "nonexistent@example.com", Password: "password123"})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	})

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPasswordHashing(t *testing.T) {
	f := newAuthFixture(t, false)

	hashed, err := f.svc.hashPassword("testpassword")
	require.NoError(t, err)
	assert.NotEmpty(t, hashed)

	assert.True(t, f.svc.verifyPassword("testpassword", hashed))
	assert.False(t, f.svc.verifyPassword("wrongpassword", hashed))
	assert.False(t, f.svc.verifyPassword("testpassword", "not-a-hash"))
}

func TestParseToken(t *testing.T) {
	f := newAuthFixture(t, false)

	token, err := f.svc.generateJWT("u1", models.RoleUser)
	require.NoError(t, err)

	claims, err := f.svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)

	_, err = f.svc.ParseToken(token + "x")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	f.svc.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	_, err = f.svc.ParseToken(token)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestAuthService_LogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, true)

	token, err := f.svc.generateJWT("u1", models.RoleUser)
	require.NoError(t, err)

	f.redis.ExpectSet(blacklistKey(token), "1", 24*time.Hour).SetVal("OK")
	require.NoError(t, f.svc.Logout(ctx, token))

	f.redis.ExpectExists(blacklistKey(token)).SetVal(1)
	_, err = f.svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	assert.NoError(t, f.redis.ExpectationsWereMet())
}

func TestAuthService_Authenticate(t *testing.T) {
	f := newAuthFixture(t, false)

	token, err := f.svc.generateJWT("u1", models.RoleAdmin)
	require.NoError(t, err)

	id, err := f.svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: "u1", Role: models.RoleAdmin}, id)
}

func TestAuthService_ChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("rehashes and ends earlier sessions", func(t *testing.T) {
		f := newAuthFixture(t, true)
		current, err := f.svc.hashPassword("password123")
		require.NoError(t, err)

		f.svc.now = func() time.Time { return testNow.Add(-time.Hour) }
		oldToken, err := f.svc.generateJWT("u1", models.RoleUser)
		require.NoError(t, err)
		f.svc.now = func() time.Time { return testNow }

		f.mock.ExpectQuery(`SELECT password_hash FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(current))
		f.mock.ExpectExec(`UPDATE users SET password_hash = \$2, version = version \+ 1, updated_at = \$3 WHERE id = \$1`).
			WithArgs("u1", sqlmock.AnyArg(), testNow.UTC()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.redis.ExpectSet(sessionCutoffKey("u1"), testNow.Unix(), testJWT.Expiry).SetVal("OK")
		f.mock.ExpectQuery(`FROM users WHERE id = \$1`).
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow("u1", "ada@example.com", "Ada Obi", "user", 0, 0, 0, false, 0, 0, "REFAB12CD", nil, testNow, testNow))

		resp, err := f.svc.ChangePassword(ctx, "u1", ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "n3w-passw0rd"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "ada@example.com", resp.User.Email)
		require.NoError(t, f.mock.ExpectationsWereMet())

		cutoff := strconv.FormatInt(testNow.Unix(), 10)

		f.redis.ExpectExists(blacklistKey(oldToken)).SetVal(0)
		f.redis.ExpectGet(sessionCutoffKey("u1")).SetVal(cutoff)
		_, err = f.svc.Authenticate(ctx, oldToken)
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)

		f.redis.ExpectExists(blacklistKey(resp.Token)).SetVal(0)
		f.redis.ExpectGet(sessionCutoffKey("u1")).SetVal(cutoff)
		id, err := f.svc.Authenticate(ctx, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID)
		assert.NoError(t, f.redis.ExpectationsWereMet())
	})

	t.Run("wrong current password", func(t *testing.T) {
		f := newAuthFixture(t, true)
		current, err := f.svc.hashPassword("password123")
		require.NoError(t, err)

		f.mock.ExpectQuery("SELECT password_hash FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(current))

		_, err = f.svc.ChangePassword(ctx, "u1", ChangePasswordRequest{CurrentPassword: "guess", NewPassword: "n3w-passw0rd"})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
		assert.NoError(t, f.mock.ExpectationsWereMet())
		assert.NoError(t, f.redis.ExpectationsWereMet())
	})

	t.Run("unchanged password", func(t *testing.T) {
		f := newAuthFixture(t, false)
		current, err := f.svc.hashPassword("password123")
		require.NoError(t, err)

		f.mock.ExpectQuery("SELECT password_hash FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(current))

		_, err = f.svc.ChangePassword(ctx, "u1", ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "password123"})
		assert.ErrorIs(t, err, models.ErrSamePassword)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("short new password", func(t *testing.T) {
		f := newAuthFixture(t, false)

		_, err := f.svc.ChangePassword(ctx, "u1", ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "abc"})
		assert.ErrorIs(t, err, models.ErrWeakPassword)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newAuthFixture(t, false)

		f.mock.ExpectQuery("SELECT password_hash FROM users").WillReturnRows(sqlmock.NewRows([]string{"password_hash"}))

		_, err := f.svc.ChangePassword(ctx, "ghost", ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "n3w-passw0rd"})
		assert.ErrorIs(t, err, models.ErrUserNotFound)
	})
}
