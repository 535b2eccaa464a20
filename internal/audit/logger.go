package audit

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// Logger writes one JSON line per balance mutation, admin decision or
// settlement failure.
type Logger struct {
	out *log.Logger
	now func() time.Time
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stderr)
}

func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), now: time.Now}
}

func (a *Logger) LogLedger(transactionID, userID, txType string, amount int64, status string) {
	a.log(Event{
		EventType:     "LEDGER",
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		Status:        status,
		Details:       map[string]string{"type": txType},
	})
}

func (a *Logger) LogDecision(requestKind, requestID, adminID, decision string, amount int64) {
	a.log(Event{
		EventType: "DECISION",
		UserID:    adminID,
		Amount:    amount,
		Status:    decision,
		Details: map[string]string{
			"request_kind": requestKind,
			"request_id":   requestID,
		},
	})
}

func (a *Logger) LogError(reference, userID string, err error) {
	a.log(Event{
		EventType:     "ERROR",
		TransactionID: reference,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(reference, userID, operation, details string) {
	a.log(Event{
		EventType:     operation,
		TransactionID: reference,
		UserID:        userID,
		Status:        "SUCCESS",
		Details:       map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	if a == nil {
		return
	}
	event.Timestamp = a.now()
	data, _ := json.Marshal(event)
	a.out.Printf("AUDIT: %s", string(data))
}
