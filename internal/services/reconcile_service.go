package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/metrics"
)

// Mismatch is a user whose stored balance differs from the sum of their
// completed transactions.
type Mismatch struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledger_sum"`
	Difference int64  `json:"difference"`
}

// ReconcileService checks the materialised balances against the ledger.
type ReconcileService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewReconcileService(db *sql.DB, auditLogger *audit.Logger) *ReconcileService {
	return &ReconcileService{db: db, audit: auditLogger}
}

// Reconcile returns every user whose balance is not the sum of their
// completed transactions. It never modifies balances.
func (s *ReconcileService) Reconcile(ctx context.Context) ([]Mismatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.balance, COALESCE(SUM(t.amount) FILTER (WHERE t.status = 'completed'), 0) AS ledger_sum
		FROM users u
		LEFT JOIN transactions t ON t.user_id = u.id
		GROUP BY u.id, u.balance
		HAVING u.balance <> COALESCE(SUM(t.amount) FILTER (WHERE t.status = 'completed'), 0)
		ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile balances: %w", err)
	}
	defer rows.Close()

	mismatches := []Mismatch{}
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.UserID, &m.Balance, &m.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation row: %w", err)
		}
		m.Difference = m.Balance - m.LedgerSum
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics.ReconcileMismatches.Set(float64(len(mismatches)))
	for _, m := range mismatches {
		log.Printf("[RECONCILE] User %s balance %d != ledger %d", m.UserID, m.Balance, m.LedgerSum)
		s.audit.LogOperation("reconcile", m.UserID, "BALANCE_MISMATCH",
			fmt.Sprintf("balance=%d ledger=%d", m.Balance, m.LedgerSum))
	}
	log.Printf("[RECONCILE] Completed with %d mismatches", len(mismatches))
	return mismatches, nil
}
