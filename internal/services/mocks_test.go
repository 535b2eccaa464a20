package services

import (
	"context"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/ratelimit"
	"github.com/stretchr/testify/mock"
)

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) TryAcquire(ctx context.Context, action, actor string, p ratelimit.Policy) (ratelimit.Decision, error) {
	args := m.Called(action, actor, p)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

func (m *MockLimiter) Release(ctx context.Context, d ratelimit.Decision) error {
	args := m.Called(d)
	return args.Error(0)
}

type MockPaymentVerifier struct {
	mock.Mock
}

func (m *MockPaymentVerifier) Verify(ctx context.Context, p Payment) error {
	args := m.Called(p)
	return args.Error(0)
}

type MockPayoutSink struct {
	mock.Mock
}

func (m *MockPayoutSink) Deliver(ctx context.Context, p *PayoutInstruction) error {
	args := m.Called(p)
	return args.Error(0)
}

func testRuntimeConfig() *config.Config {
	return &config.Config{
		Rewards: config.Rewards{
			SignupBonus:      1000,
			ReferralBonus:    500,
			VIPReferralBonus: 800,
			VIPSignupBonus:   1000,
			ReferrerVIPBonus: 2000,
			VIPPrice:         5000,
		},
		Limits: config.Limits{
			TaskCooldown:       3 * time.Second,
			TaskHourlyQuota:    50,
			WithdrawalsEnabled: true,
			WithdrawalMin:      1000,
			WithdrawalMax:      100000,
			WithdrawalsPerDay:  3,
			WithdrawalCooldown: 8 * time.Hour,
			LoanMin:            1000,
			LoanMax:            100000,
		},
	}
}

func testSettings() *config.Settings {
	return config.NewSettings(testRuntimeConfig())
}

var taskPolicy = ratelimit.Policy{Cooldown: 3 * time.Second, Quota: 50, Window: time.Hour}
