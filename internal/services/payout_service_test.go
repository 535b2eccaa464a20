package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testPayoutConfig = config.PayoutConfig{
	DebtorName: "EarnHub Payouts",
	DebtorBIC:  "EARNNGLA",
	Currency:   "NGN",
	QueueKey:   "payout_queue",
}

var testBank = models.BankDetails{BankName: "Guaranty Trust Bank", BankCode: "058", AccountNumber: "0123456789", AccountName: "Ada Obi"}

func newTestPayoutService(t *testing.T, withRedis bool) (*PayoutService, redismock.ClientMock, *MockPayoutSink) {
	t.Helper()
	sink := &MockPayoutSink{}
	var svc *PayoutService
	var rmock redismock.ClientMock
	if withRedis {
		rdb, m := redismock.NewClientMock()
		rmock = m
		svc = NewPayoutService(rdb, testPayoutConfig, sink)
	} else {
		svc = NewPayoutService(nil, testPayoutConfig, sink)
	}
	svc.now = func() time.Time { return testNow }
	svc.newID = sequentialIDs("payout")
	return svc, rmock, sink
}

func TestPayoutService_BuildsPacs008(t *testing.T) {
	svc, _, _ := newTestPayoutService(t, false)

	p, err := svc.build(PayoutWithdrawal, "wd-1", "u1", 2500, testBank)
	require.NoError(t, err)
	assert.Contains(t, p.Document, "<?xml")
	assert.Contains(t, p.Document, "payout-1")
	assert.Contains(t, p.Document, "wd-1")
	assert.Contains(t, p.Document, "058")
	assert.Contains(t, p.Document, "Ada Obi")
	assert.Contains(t, p.Document, "EARNNGLA")

	doc := svc.CreatePacs008(p)
	assert.Equal(t, float64(2500), doc.CdtTrfTxInf[0].IntrBkSttlmAmt.Value)
	assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
}

func TestPayoutService_EnqueuePushesToRedis(t *testing.T) {
	svc, rmock, _ := newTestPayoutService(t, true)

	expected, err := svc.build(PayoutLoan, "loan-1", "u1", 5000, testBank)
	require.NoError(t, err)
	data, _ := json.Marshal(expected)
	svc.newID = sequentialIDs("payout")

	rmock.ExpectRPush("payout_queue", data).SetVal(1)

	p, err := svc.Enqueue(context.Background(), PayoutLoan, "loan-1", "u1", 5000, testBank)
	require.NoError(t, err)
	assert.Equal(t, "payout-1", p.ID)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestPayoutService_EnqueueWithoutRedisDeliversNow(t *testing.T) {
	svc, _, sink := newTestPayoutService(t, false)
	sink.On("Deliver", mock.AnythingOfType("*services.PayoutInstruction")).Return(nil).Once()

	_, err := svc.Enqueue(context.Background(), PayoutWithdrawal, "wd-1", "u1", 2500, testBank)
	require.NoError(t, err)
	sink.AssertExpectations(t)
}

func expectDrainStart(rmock redismock.ClientMock) {
	rmock.ExpectSetNX("payout_queue:lock", 1, drainLockTTL).SetVal(true)
	rmock.ExpectLMove("payout_queue:processing", "payout_queue", "RIGHT", "LEFT").RedisNil()
}

func TestPayoutService_Drain(t *testing.T) {
	t.Run("delivers until the queue is empty", func(t *testing.T) {
		svc, rmock, sink := newTestPayoutService(t, true)
		p, _ := svc.build(PayoutWithdrawal, "wd-1", "u1", 2500, testBank)
		data, _ := json.Marshal(p)

		expectDrainStart(rmock)
		rmock.ExpectLMove("payout_queue", "payout_queue:processing", "LEFT", "RIGHT").SetVal(string(data))
		rmock.ExpectLRem("payout_queue:processing", 1, string(data)).SetVal(1)
		rmock.ExpectLMove("payout_queue", "payout_queue:processing", "LEFT", "RIGHT").RedisNil()
		rmock.ExpectDel("payout_queue:lock").SetVal(1)
		sink.On("Deliver", mock.MatchedBy(func(got *PayoutInstruction) bool {
			return got.RequestID == "wd-1" && got.Amount == 2500
		})).Return(nil).Once()

		n, err := svc.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, rmock.ExpectationsWereMet())
		sink.AssertExpectations(t)
	})

	t.Run("failed delivery goes back to the head", func(t *testing.T) {
		svc, rmock, sink := newTestPayoutService(t, true)
		p, _ := svc.build(PayoutWithdrawal, "wd-1", "u1", 2500, testBank)
		data, _ := json.Marshal(p)

		expectDrainStart(rmock)
		rmock.ExpectLMove("payout_queue", "payout_queue:processing", "LEFT", "RIGHT").SetVal(string(data))
		rmock.ExpectLMove("payout_queue:processing", "payout_queue", "RIGHT", "LEFT").SetVal(string(data))
		rmock.ExpectDel("payout_queue:lock").SetVal(1)
		sink.On("Deliver", mock.Anything).Return(errors.New("bank offline"))

		n, err := svc.Drain(context.Background(), 10)
		assert.ErrorContains(t, err, "bank offline")
		assert.Equal(t, 0, n)
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("payouts left by an interrupted run are delivered first", func(t *testing.T) {
		svc, rmock, sink := newTestPayoutService(t, true)
		p, _ := svc.build(PayoutLoan, "ln-1", "u1", 5000, testBank)
		data, _ := json.Marshal(p)

		rmock.ExpectSetNX("payout_queue:lock", 1, drainLockTTL).SetVal(true)
		rmock.ExpectLMove("payout_queue:processing", "payout_queue", "RIGHT", "LEFT").SetVal(string(data))
		rmock.ExpectLMove("payout_queue:processing", "payout_queue", "RIGHT", "LEFT").RedisNil()
		rmock.ExpectLMove("payout_queue", "payout_queue:processing", "LEFT", "RIGHT").SetVal(string(data))
		rmock.ExpectLRem("payout_queue:processing", 1, string(data)).SetVal(1)
		rmock.ExpectDel("payout_queue:lock").SetVal(1)
		sink.On("Deliver", mock.Anything).Return(nil).Once()

		n, err := svc.Drain(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("another instance holds the queue", func(t *testing.T) {
		svc, rmock, sink := newTestPayoutService(t, true)

		rmock.ExpectSetNX("payout_queue:lock", 1, drainLockTTL).SetVal(false)

		n, err := svc.Drain(context.Background(), 10)
		require.NoError(t, err)
		assert.Zero(t, n)
		sink.AssertNotCalled(t, "Deliver", mock.Anything)
		assert.NoError(t, rmock.ExpectationsWereMet())
	})
}
