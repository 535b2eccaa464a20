package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

const (
	referralCodePrefix   = "REF"
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength   = 6
	referralCodeAttempts = 5
)

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"user@example.com"`
	Password string `json:"password" validate:"required,min=6" example:"password123"`
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email,max=255" example:"user@example.com"`
	Password     string `json:"password" validate:"required,min=6,max=128" example:"password123"`
	FullName     string `json:"fullname" validate:"required,min=2,max=140" example:"Ada Obi"`
	ReferralCode string `json:"referral_code,omitempty" validate:"omitempty,max=16" example:"REFAB12CD"`
}

// ChangePasswordRequest represents the password change payload
// @Description Password change request structure
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required" example:"password123"`
	NewPassword     string `json:"new_password" validate:"required,min=6,max=128" example:"n3w-passw0rd"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	User  models.User `json:"user"`
}

// Claims are the JWT claims issued at login and registration.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	db         *sql.DB
	redis      *redis.Client
	ledger     *LedgerService
	settlement *SettlementService
	jwt        config.JWTConfig
	argon      config.Argon2Config
	now        func() time.Time
	newID      func() string
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, settlement *SettlementService, jwtCfg config.JWTConfig, argonCfg config.Argon2Config) *AuthService {
	return &AuthService{
		db:         db,
		redis:      redisClient,
		ledger:     ledger,
		settlement: settlement,
		jwt:        jwtCfg,
		argon:      argonCfg,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Register creates a user account, credits the signup bonus and applies
// the referral code in one transaction.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	log.Printf("[AUTH] Registration request for email: %s", email)

	hashedPassword, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user *models.User
	var credits []*models.Transaction
	err = s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		credits = credits[:0]
		var err error
		user, err = s.insertUser(ctx, tx, email, strings.TrimSpace(req.FullName), hashedPassword, models.RoleUser)
		if err != nil {
			return err
		}

		bonus, err := s.settlement.GrantSignupBonusTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if bonus != nil {
			credits = append(credits, bonus)
			user.Balance = bonus.Amount
		}

		_, referral, err := s.settlement.ApplyReferralTx(ctx, tx, user.ID, req.ReferralCode)
		if err != nil {
			return err
		}
		if referral != nil {
			credits = append(credits, referral)
		}
		return nil
	})
	if err != nil {
		log.Printf("[AUTH] Registration failed for %s: %v", email, err)
		return nil, err
	}

	s.ledger.Committed(ctx, credits...)
	log.Printf("[AUTH] User created successfully - ID: %s, Email: %s", user.ID, user.Email)

	token, err := s.generateJWT(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResponse{Token: token, User: *user}, nil
}

// CreateAdmin creates an account with the admin role. Admins receive no
// signup bonus.
func (s *AuthService) CreateAdmin(ctx context.Context, email, password, fullName string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hashedPassword, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user *models.User
	err = s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = s.insertUser(ctx, tx, email, strings.TrimSpace(fullName), hashedPassword, models.RoleAdmin)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[AUTH] Admin created - ID: %s, Email: %s", user.ID, user.Email)
	return user, nil
}

// insertUser retries with a fresh referral code when the generated one is
// already taken.
func (s *AuthService) insertUser(ctx context.Context, tx *sql.Tx, email, fullName, hashedPassword string, role models.Role) (*models.User, error) {
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return nil, err
		}

		user := &models.User{ID: s.newID(), Email: email, FullName: fullName, Role: role, ReferralCode: code}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (id, email, full_name, password_hash, role, referral_code)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (referral_code) DO NOTHING
			RETURNING created_at, updated_at`,
			user.ID, email, fullName, hashedPassword, string(role), code).Scan(&user.CreatedAt, &user.UpdatedAt)
		if err == sql.ErrNoRows {
			log.Printf("[AUTH] Referral code collision on %s, retrying", code)
			continue
		}
		if isUniqueViolation(err) {
			return nil, models.ErrEmailTaken
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return user, nil
	}
	return nil, errors.New("failed to allocate a unique referral code")
}

// Login verifies credentials and issues a token.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	log.Printf("[AUTH] Login request for email: %s", email)

	var user models.User
	var role, hashedPassword string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, balance, task_balance, referral_balance, is_vip,
		       num_referrals, num_tasks_done, referral_code, referral_code_expires_at,
		       created_at, updated_at, password_hash
		FROM users
		WHERE email = $1`, email).Scan(
		&user.ID, &user.Email, &user.FullName, &role, &user.Balance, &user.TaskBalance,
		&user.ReferralBalance, &user.IsVIP, &user.NumReferrals, &user.NumTasksDone,
		&user.ReferralCode, &expiresAt, &user.CreatedAt, &user.UpdatedAt, &hashedPassword)
	if err == sql.ErrNoRows {
		log.Printf("[AUTH] User not found for email: %s", email)
		return nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	user.Role = models.Role(role)
	if expiresAt.Valid {
		user.ReferralCodeExpiresAt = &expiresAt.Time
	}

	if !s.verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", email)
		return nil, models.ErrInvalidCredentials
	}

	token, err := s.generateJWT(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	log.Printf("[AUTH] Login successful for user %s", user.ID)
	return &AuthResponse{Token: token, User: user}, nil
}

// Logout blacklists the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if s.redis == nil || token == "" {
		return nil
	}

	ttl := s.jwt.Expiry
	if claims, err := s.ParseToken(token); err == nil && claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(s.now())
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistKey(token), "1", ttl).Err(); err != nil {
		log.Printf("[AUTH] Failed to blacklist token: %v", err)
		return err
	}
	return nil
}

// IsRevoked reports whether token was logged out. Without Redis nothing
// is ever revoked.
func (s *AuthService) IsRevoked(ctx context.Context, token string) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, blacklistKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Authenticate validates a bearer token and returns the identity it
// vouches for.
func (s *AuthService) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return models.Identity{}, err
	}
	revoked, err := s.IsRevoked(ctx, token)
	if err != nil {
		log.Printf("[AUTH] Blacklist lookup failed: %v", err)
	}
	if revoked || s.issuedBeforeCutoff(ctx, claims) {
		return models.Identity{}, models.ErrInvalidCredentials
	}
	return models.Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// ChangePassword replaces the password after checking the current one.
// Every token issued before the change stops authenticating and the
// caller gets a fresh one.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) (*AuthResponse, error) {
	if len(req.NewPassword) < 6 {
		return nil, models.ErrWeakPassword
	}

	var hashedPassword string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !s.verifyPassword(req.CurrentPassword, hashedPassword) {
		log.Printf("[AUTH] Password change refused for user %s: wrong current password", userID)
		return nil, models.ErrInvalidCredentials
	}
	if req.NewPassword == req.CurrentPassword {
		return nil, models.ErrSamePassword
	}

	rehashed, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, version = version + 1, updated_at = $3 WHERE id = $1`,
		userID, rehashed, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, sessionCutoffKey(userID), now.Unix(), s.jwt.Expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to revoke sessions for user %s: %v", userID, err)
			return nil, fmt.Errorf("password changed but earlier sessions are still valid: %w", err)
		}
	}
	log.Printf("[AUTH] Password changed for user %s", userID)

	user, err := loadUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	token, err := s.generateJWT(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &AuthResponse{Token: token, User: *user}, nil
}

// issuedBeforeCutoff reports whether the token predates the holder's last
// password change. Cutoffs expire with the longest-lived token.
func (s *AuthService) issuedBeforeCutoff(ctx context.Context, claims *Claims) bool {
	if s.redis == nil || claims.IssuedAt == nil {
		return false
	}
	cutoff, err := s.redis.Get(ctx, sessionCutoffKey(claims.UserID)).Int64()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Printf("[AUTH] Session cutoff lookup failed: %v", err)
		return false
	}
	return claims.IssuedAt.Unix() < cutoff
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

func sessionCutoffKey(userID string) string {
	return fmt.Sprintf("session_cutoff:%s", userID)
}

func (s *AuthService) generateJWT(userID string, role models.Role) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwt.Expiry)),
		},
	})
	return token.SignedString([]byte(s.jwt.SecretKey))
}

// ParseToken verifies the signature and expiry of token.
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.jwt.SecretKey), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, models.ErrInvalidCredentials
	}
	if claims.UserID == "" {
		return nil, models.ErrInvalidCredentials
	}
	return claims, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	salt := make([]byte, s.argon.SaltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, s.argon.Time, s.argon.Memory, s.argon.Threads, s.argon.KeyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func (s *AuthService) verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, s.argon.Time, s.argon.Memory, s.argon.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

func generateReferralCode() (string, error) {
	b := make([]byte, referralCodeLength)
	max := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := range b {
		n, err := cryptorand.Int(cryptorand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = referralCodeAlphabet[n.Int64()]
	}
	return referralCodePrefix + string(b), nil
}
