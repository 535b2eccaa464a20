package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/earnhub/backend/internal/middleware"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/services"
	"github.com/stretchr/testify/mock"
)

var (
	member = models.Identity{UserID: "u1", Role: models.RoleUser}
	admin  = models.Identity{UserID: "a1", Role: models.RoleAdmin}
)

// serve runs req through h with caller attached as the authenticated
// identity. A zero caller sends the request unauthenticated.
func serve(h http.Handler, method, target, body string, caller models.Identity) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if caller.UserID != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), caller))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type MockAccounts struct{ mock.Mock }

func (m *MockAccounts) Register(ctx context.Context, req services.RegisterRequest) (*services.AuthResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*services.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAccounts) Login(ctx context.Context, req services.LoginRequest) (*services.AuthResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*services.AuthResponse)
	return resp, args.Error(1)
}

func (m *MockAccounts) Logout(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockAccounts) ChangePassword(ctx context.Context, userID string, req services.ChangePasswordRequest) (*services.AuthResponse, error) {
	args := m.Called(ctx, userID, req)
	resp, _ := args.Get(0).(*services.AuthResponse)
	return resp, args.Error(1)
}

type MockTasks struct{ mock.Mock }

func (m *MockTasks) CreateTask(ctx context.Context, admin models.Identity, req services.CreateTaskRequest) (*models.Task, error) {
	args := m.Called(ctx, admin, req)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTasks) UpdateTask(ctx context.Context, admin models.Identity, taskID string, req services.UpdateTaskRequest) (*models.Task, error) {
	args := m.Called(ctx, admin, taskID, req)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTasks) SetActive(ctx context.Context, admin models.Identity, taskID string, active bool) (*models.Task, error) {
	args := m.Called(ctx, admin, taskID, active)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTasks) DeleteTask(ctx context.Context, admin models.Identity, taskID string) (bool, error) {
	args := m.Called(ctx, admin, taskID)
	return args.Bool(0), args.Error(1)
}

func (m *MockTasks) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	args := m.Called(ctx, taskID)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTasks) ListTasks(ctx context.Context, page, pageSize int) (models.Page[services.TaskSummary], error) {
	args := m.Called(ctx, page, pageSize)
	return args.Get(0).(models.Page[services.TaskSummary]), args.Error(1)
}

func (m *MockTasks) AvailableTasks(ctx context.Context, userID string, taskType models.TaskType) ([]models.Task, error) {
	args := m.Called(ctx, userID, taskType)
	tasks, _ := args.Get(0).([]models.Task)
	return tasks, args.Error(1)
}

func (m *MockTasks) CompletedTasks(ctx context.Context, userID string) ([]models.Task, error) {
	args := m.Called(ctx, userID)
	tasks, _ := args.Get(0).([]models.Task)
	return tasks, args.Error(1)
}

func (m *MockTasks) CompleteTask(ctx context.Context, userID, taskID string) (*services.TaskCompletion, error) {
	args := m.Called(ctx, userID, taskID)
	c, _ := args.Get(0).(*services.TaskCompletion)
	return c, args.Error(1)
}

type MockRequests struct{ mock.Mock }

func (m *MockRequests) RequestWithdrawal(ctx context.Context, userID string, amount int64, bank models.BankDetails) (*models.Withdrawal, error) {
	args := m.Called(ctx, userID, amount, bank)
	wd, _ := args.Get(0).(*models.Withdrawal)
	return wd, args.Error(1)
}

func (m *MockRequests) RequestLoan(ctx context.Context, userID string, amount int64, reason string, bank models.BankDetails) (*models.Loan, error) {
	args := m.Called(ctx, userID, amount, reason, bank)
	loan, _ := args.Get(0).(*models.Loan)
	return loan, args.Error(1)
}

func (m *MockRequests) ResolveWithdrawal(ctx context.Context, admin models.Identity, withdrawalID string, decision models.Decision) (*models.Withdrawal, error) {
	args := m.Called(ctx, admin, withdrawalID, decision)
	wd, _ := args.Get(0).(*models.Withdrawal)
	return wd, args.Error(1)
}

func (m *MockRequests) ResolveLoan(ctx context.Context, admin models.Identity, loanID string, decision models.Decision) (*models.Loan, error) {
	args := m.Called(ctx, admin, loanID, decision)
	loan, _ := args.Get(0).(*models.Loan)
	return loan, args.Error(1)
}

func (m *MockRequests) ListWithdrawals(ctx context.Context, status models.RequestStatus, userID string, page, pageSize int) (models.Page[models.Withdrawal], error) {
	args := m.Called(ctx, status, userID, page, pageSize)
	return args.Get(0).(models.Page[models.Withdrawal]), args.Error(1)
}

func (m *MockRequests) ListLoans(ctx context.Context, status models.RequestStatus, userID string, page, pageSize int) (models.Page[models.Loan], error) {
	args := m.Called(ctx, status, userID, page, pageSize)
	return args.Get(0).(models.Page[models.Loan]), args.Error(1)
}

type MockAdmin struct{ mock.Mock }

func (m *MockAdmin) SearchUsers(ctx context.Context, admin models.Identity, query string, page, pageSize int) (models.Page[models.User], error) {
	args := m.Called(ctx, admin, query, page, pageSize)
	return args.Get(0).(models.Page[models.User]), args.Error(1)
}

func (m *MockAdmin) Stats(ctx context.Context, admin models.Identity) (*services.AdminStats, error) {
	args := m.Called(ctx, admin)
	st, _ := args.Get(0).(*services.AdminStats)
	return st, args.Error(1)
}

func (m *MockAdmin) GrantVIP(ctx context.Context, admin models.Identity, userID string) (*services.VIPUpgrade, error) {
	args := m.Called(ctx, admin, userID)
	up, _ := args.Get(0).(*services.VIPUpgrade)
	return up, args.Error(1)
}

func (m *MockAdmin) RevokeVIP(ctx context.Context, admin models.Identity, userID string) error {
	return m.Called(ctx, admin, userID).Error(0)
}

func (m *MockAdmin) Settings(admin models.Identity) ([]services.Setting, error) {
	args := m.Called(admin)
	s, _ := args.Get(0).([]services.Setting)
	return s, args.Error(1)
}

func (m *MockAdmin) UpdateSettings(ctx context.Context, admin models.Identity, updates map[string]string) ([]services.Setting, error) {
	args := m.Called(ctx, admin, updates)
	s, _ := args.Get(0).([]services.Setting)
	return s, args.Error(1)
}

func (m *MockAdmin) Reconcile(ctx context.Context) ([]services.Mismatch, error) {
	args := m.Called(ctx)
	mm, _ := args.Get(0).([]services.Mismatch)
	return mm, args.Error(1)
}

func (m *MockAdmin) ExportTransactions(ctx context.Context, from, to time.Time) (string, error) {
	args := m.Called(ctx, from, to)
	return args.String(0), args.Error(1)
}

type MockPayments struct{ mock.Mock }

func (m *MockPayments) ConfirmVIPPayment(ctx context.Context, userID, paymentRef string, amountPaid int64) (*services.VIPUpgrade, error) {
	args := m.Called(ctx, userID, paymentRef, amountPaid)
	up, _ := args.Get(0).(*services.VIPUpgrade)
	return up, args.Error(1)
}

type MockAccountViews struct{ mock.Mock }

func (m *MockAccountViews) Profile(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *MockAccountViews) Transactions(ctx context.Context, userID string, page, pageSize int) ([]models.Transaction, error) {
	args := m.Called(ctx, userID, page, pageSize)
	txns, _ := args.Get(0).([]models.Transaction)
	return txns, args.Error(1)
}

func (m *MockAccountViews) Earnings(ctx context.Context, userID string) (*models.EarningsBreakdown, error) {
	args := m.Called(ctx, userID)
	e, _ := args.Get(0).(*models.EarningsBreakdown)
	return e, args.Error(1)
}

func (m *MockAccountViews) Leaderboard(ctx context.Context, page, pageSize int) (models.Page[models.LeaderboardEntry], error) {
	args := m.Called(ctx, page, pageSize)
	return args.Get(0).(models.Page[models.LeaderboardEntry]), args.Error(1)
}

func (m *MockAccountViews) Referrals(ctx context.Context, userID string) ([]models.ReferredUser, error) {
	args := m.Called(ctx, userID)
	r, _ := args.Get(0).([]models.ReferredUser)
	return r, args.Error(1)
}

func (m *MockAccountViews) ReferralStats(ctx context.Context, userID string) (*models.ReferralStats, error) {
	args := m.Called(ctx, userID)
	s, _ := args.Get(0).(*models.ReferralStats)
	return s, args.Error(1)
}

func (m *MockAccountViews) ReferralQR(ctx context.Context, userID string) (string, []byte, error) {
	args := m.Called(ctx, userID)
	png, _ := args.Get(1).([]byte)
	return args.String(0), png, args.Error(2)
}

type MockAccountSettings struct{ mock.Mock }

func (m *MockAccountSettings) UpdateProfile(ctx context.Context, userID, fullName string) (*models.User, error) {
	args := m.Called(ctx, userID, fullName)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *MockAccountSettings) BankDetails(ctx context.Context, userID string) (*models.BankDetails, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*models.BankDetails)
	return b, args.Error(1)
}

func (m *MockAccountSettings) SaveBankDetails(ctx context.Context, userID string, bank models.BankDetails) (*models.BankDetails, error) {
	args := m.Called(ctx, userID, bank)
	b, _ := args.Get(0).(*models.BankDetails)
	return b, args.Error(1)
}
