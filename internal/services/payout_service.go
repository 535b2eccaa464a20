package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/metrics"
	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

const (
	PayoutWithdrawal = "withdrawal"
	PayoutLoan       = "loan"
)

// PayoutInstruction is one approved disbursement waiting for the bank
// transfer. Document holds the pacs.008 credit transfer as XML.
type PayoutInstruction struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	RequestID string             `json:"request_id"`
	UserID    string             `json:"user_id"`
	Amount    int64              `json:"amount"`
	Currency  string             `json:"currency"`
	Bank      models.BankDetails `json:"bank"`
	Document  string             `json:"document"`
	CreatedAt time.Time          `json:"created_at"`
}

// PayoutSink hands a payout to whatever moves the money.
type PayoutSink interface {
	Deliver(ctx context.Context, p *PayoutInstruction) error
}

// LogSink only records payouts. It is the default until a bank
// integration is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, p *PayoutInstruction) error {
	log.Printf("[PAYOUT] %s %s: %d %s to %s %s (%s)", p.Kind, p.RequestID, p.Amount, p.Currency, p.Bank.BankName, p.Bank.AccountNumber, p.Bank.AccountName)
	return nil
}

// PayoutService queues approved withdrawals and loans on a Redis list
// and drains them to a PayoutSink.
type PayoutService struct {
	redis *redis.Client
	cfg   config.PayoutConfig
	sink  PayoutSink
	now   func() time.Time
	newID func() string
}

func NewPayoutService(rdb *redis.Client, cfg config.PayoutConfig, sink PayoutSink) *PayoutService {
	if sink == nil {
		sink = LogSink{}
	}
	return &PayoutService{redis: rdb, cfg: cfg, sink: sink, now: time.Now, newID: uuid.NewString}
}

func (s *PayoutService) build(kind, requestID, userID string, amount int64, bank models.BankDetails) (*PayoutInstruction, error) {
	p := &PayoutInstruction{
		ID:        s.newID(),
		Kind:      kind,
		RequestID: requestID,
		UserID:    userID,
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Bank:      bank,
		CreatedAt: s.now().UTC(),
	}
	doc := s.CreatePacs008(p)
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pacs.008: %w", err)
	}
	p.Document = xml.Header + string(xmlData)
	return p, nil
}

// CreatePacs008 builds the FI-to-FI credit transfer for a payout.
func (s *PayoutService) CreatePacs008(p *PayoutInstruction) *pacs_v08.FIToFICustomerCreditTransferV08 {
	creDtTm := p.CreatedAt
	settlementDate := p.CreatedAt
	amount := pacs_v08.ActiveCurrencyAndAmount{
		Ccy:   common.ActiveCurrencyCode(p.Currency),
		Value: float64(p.Amount),
	}
	memberID := p.Bank.BankCode
	if memberID == "" {
		memberID = "NOTPROVIDED"
	}

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:             common.Max35Text(p.ID),
			CreDtTm:           common.ISODateTime(creDtTm),
			NbOfTxs:           "1",
			TtlIntrBkSttlmAmt: &amount,
			IntrBkSttlmDt:     (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(p.ID)}[0],
					EndToEndId: common.Max35Text(p.RequestID),
					TxId:       &[]common.Max35Text{common.Max35Text(p.RequestID)}[0],
				},
				IntrBkSttlmAmt: amount,
				IntrBkSttlmDt:  (*common.ISODate)(&settlementDate),
				ChrgBr:         "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.cfg.DebtorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(s.cfg.DebtorName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(memberID),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(p.Bank.AccountName)}[0],
				},
			},
		},
	}
}

// Enqueue records an approved disbursement. Without Redis the payout is
// delivered immediately.
func (s *PayoutService) Enqueue(ctx context.Context, kind, requestID, userID string, amount int64, bank models.BankDetails) (*PayoutInstruction, error) {
	p, err := s.build(kind, requestID, userID, amount, bank)
	if err != nil {
		return nil, err
	}

	if s.redis == nil {
		if err := s.sink.Deliver(ctx, p); err != nil {
			metrics.PayoutsDispatched.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("failed to deliver payout: %w", err)
		}
		metrics.PayoutsDispatched.WithLabelValues("delivered").Inc()
		return p, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if err := s.redis.RPush(ctx, s.cfg.QueueKey, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to queue payout: %w", err)
	}
	metrics.PayoutsQueued.Inc()
	log.Printf("[PAYOUT] Queued %s payout %s for request %s", kind, p.ID, requestID)
	return p, nil
}

const drainLockTTL = 5 * time.Minute

func (s *PayoutService) processingKey() string { return s.cfg.QueueKey + ":processing" }
func (s *PayoutService) lockKey() string       { return s.cfg.QueueKey + ":lock" }

// Drain delivers up to max queued payouts in order. A payout sits on a
// processing list while the sink handles it and is removed only once
// delivered, so a crash mid-delivery leaves it to be retried. Only one
// instance drains at a time.
func (s *PayoutService) Drain(ctx context.Context, max int) (int, error) {
	if s.redis == nil {
		return 0, nil
	}

	locked, err := s.redis.SetNX(ctx, s.lockKey(), 1, drainLockTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to lock payout queue: %w", err)
	}
	if !locked {
		return 0, nil
	}
	defer func() {
		if err := s.redis.Del(ctx, s.lockKey()).Err(); err != nil {
			log.Printf("[PAYOUT] Failed to unlock payout queue: %v", err)
		}
	}()

	if err := s.requeueInterrupted(ctx); err != nil {
		return 0, err
	}

	processing := s.processingKey()
	delivered := 0
	for delivered < max {
		data, err := s.redis.LMove(ctx, s.cfg.QueueKey, processing, "LEFT", "RIGHT").Result()
		if err == redis.Nil {
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("failed to read payout queue: %w", err)
		}

		var p PayoutInstruction
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			log.Printf("[PAYOUT] Dropping undecodable payout: %v", err)
			metrics.PayoutsDispatched.WithLabelValues("dropped").Inc()
			if err := s.redis.LRem(ctx, processing, 1, data).Err(); err != nil {
				return delivered, fmt.Errorf("failed to drop payout: %w", err)
			}
			continue
		}

		if err := s.sink.Deliver(ctx, &p); err != nil {
			metrics.PayoutsDispatched.WithLabelValues("failed").Inc()
			if perr := s.redis.LMove(ctx, processing, s.cfg.QueueKey, "RIGHT", "LEFT").Err(); perr != nil {
				log.Printf("[PAYOUT] Failed to requeue payout %s: %v", p.ID, perr)
			}
			return delivered, fmt.Errorf("failed to deliver payout %s: %w", p.ID, err)
		}
		metrics.PayoutsDispatched.WithLabelValues("delivered").Inc()
		delivered++

		if err := s.redis.LRem(ctx, processing, 1, data).Err(); err != nil {
			// the payout will be delivered again on the next run
			return delivered, fmt.Errorf("failed to ack payout %s: %w", p.ID, err)
		}
	}
	return delivered, nil
}

// requeueInterrupted puts payouts left on the processing list by an
// interrupted run back at the head of the queue, keeping their order.
func (s *PayoutService) requeueInterrupted(ctx context.Context) error {
	for {
		data, err := s.redis.LMove(ctx, s.processingKey(), s.cfg.QueueKey, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to recover interrupted payouts: %w", err)
		}
		log.Printf("[PAYOUT] Requeued interrupted payout (%d bytes)", len(data))
	}
}
