package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/models"
)

// AdminStats is the dashboard summary.
type AdminStats struct {
	TotalUsers         int     `json:"total_users"`
	VIPUsers           int     `json:"vip_users"`
	TasksCompleted     int64   `json:"tasks_completed"`
	TotalBalance       int64   `json:"total_balance"`
	AverageBalance     float64 `json:"average_balance"`
	AverageTasks       float64 `json:"average_tasks"`
	PendingWithdrawals int     `json:"pending_withdrawals"`
	PendingLoans       int     `json:"pending_loans"`
}

// AdminService holds the admin-only operations that are not request
// resolution or task management.
type AdminService struct {
	db         *sql.DB
	settlement *SettlementService
	settings   *config.Settings
	users      *UserCache
	audit      *audit.Logger
}

func NewAdminService(db *sql.DB, settlement *SettlementService, settings *config.Settings, users *UserCache, auditLogger *audit.Logger) *AdminService {
	return &AdminService{db: db, settlement: settlement, settings: settings, users: users, audit: auditLogger}
}

// SearchUsers pages through member accounts. An empty query matches all.
func (s *AdminService) SearchUsers(ctx context.Context, admin models.Identity, query string, page, pageSize int) (models.Page[models.User], error) {
	if !admin.IsAdmin() {
		return models.Page[models.User]{}, models.ErrAdminRequired
	}

	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users WHERE full_name ILIKE $1 OR email ILIKE $1`, pattern).Scan(&total)
	if err != nil {
		return models.Page[models.User]{}, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE full_name ILIKE $1 OR email ILIKE $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return models.Page[models.User]{}, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return models.Page[models.User]{}, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.User]{}, err
	}
	return models.NewPage(out, total, page, pageSize), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *AdminService) Stats(ctx context.Context, admin models.Identity) (*AdminStats, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}

	var st AdminStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_vip),
		       COALESCE(SUM(num_tasks_done), 0),
		       COALESCE(SUM(balance), 0),
		       COALESCE(AVG(balance), 0),
		       COALESCE(AVG(num_tasks_done), 0),
		       (SELECT COUNT(*) FROM withdrawals WHERE status = 'pending'),
		       (SELECT COUNT(*) FROM loans WHERE status = 'pending')
		FROM users
		WHERE role = 'user'`).Scan(&st.TotalUsers, &st.VIPUsers, &st.TasksCompleted, &st.TotalBalance,
		&st.AverageBalance, &st.AverageTasks, &st.PendingWithdrawals, &st.PendingLoans)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	return &st, nil
}

// GrantVIP upgrades a user without a payment. Bonuses are paid exactly as
// for a paid upgrade.
func (s *AdminService) GrantVIP(ctx context.Context, admin models.Identity, userID string) (*VIPUpgrade, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}
	return s.settlement.GrantVIP(ctx, admin.UserID, userID)
}

// RevokeVIP clears the VIP flag. Bonuses already paid stay paid.
func (s *AdminService) RevokeVIP(ctx context.Context, admin models.Identity, userID string) error {
	if !admin.IsAdmin() {
		return models.ErrAdminRequired
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_vip = FALSE, version = version + 1, updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke VIP: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}

	s.users.Invalidate(ctx, userID)
	s.audit.LogOperation("vip", admin.UserID, "VIP_REVOKE", "revoked VIP from "+userID)
	log.Printf("[ADMIN] Admin %s revoked VIP from user %s", admin.UserID, userID)
	return nil
}

// Setting is one runtime setting as shown to admins.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *AdminService) Settings(admin models.Identity) ([]Setting, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}
	values := s.settings.Values()
	out := make([]Setting, 0, len(values))
	for k, v := range values {
		out = append(out, Setting{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// UpdateSettings validates and persists a batch of settings. Nothing is
// written when any key or value is rejected.
func (s *AdminService) UpdateSettings(ctx context.Context, admin models.Identity, updates map[string]string) ([]Setting, error) {
	if !admin.IsAdmin() {
		return nil, models.ErrAdminRequired
	}
	if _, err := s.settings.Update(ctx, s.db, updates); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.audit.LogOperation("settings", admin.UserID, "SETTINGS_UPDATE", strings.Join(keys, ","))
	log.Printf("[ADMIN] Admin %s updated settings: %s", admin.UserID, strings.Join(keys, ", "))
	return s.Settings(admin)
}
