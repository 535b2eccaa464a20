package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/models"
)

// Payment is what a caller claims to have paid.
type Payment struct {
	Ref           string
	Amount        int64
	CustomerEmail string
}

// PaymentVerifier confirms that a payment reference settled for at least
// the claimed amount and was paid by the claiming customer.
type PaymentVerifier interface {
	Verify(ctx context.Context, p Payment) error
}

// NewPaymentVerifier returns the Flutterwave verifier, or a no-op one
// when no secret key is configured.
func NewPaymentVerifier(cfg config.PaymentConfig) PaymentVerifier {
	if cfg.SecretKey == "" {
		log.Println("[PAYMENT] No Flutterwave secret configured, payment references are not verified")
		return NoopVerifier{}
	}
	return &FlutterwaveVerifier{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		currency:  cfg.Currency,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type NoopVerifier struct{}

func (NoopVerifier) Verify(context.Context, Payment) error { return nil }

type FlutterwaveVerifier struct {
	baseURL   string
	secretKey string
	currency  string
	client    *http.Client
}

type flutterwaveVerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TxRef    string  `json:"tx_ref"`
		Status   string  `json:"status"`
		Amount   float64 `json:"amount"`
		Currency string  `json:"currency"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

func (v *FlutterwaveVerifier) Verify(ctx context.Context, p Payment) error {
	upstream := func(err error) error {
		return &models.UpstreamError{Service: "flutterwave", Err: err}
	}

	endpoint := v.baseURL + "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(p.Ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return upstream(err)
	}
	req.Header.Set("Authorization", "Bearer "+v.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return upstream(err)
	}
	defer resp.Body.Close()

	var body flutterwaveVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return upstream(fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK || body.Status != "success" {
		return upstream(fmt.Errorf("verification failed (HTTP %d): %s", resp.StatusCode, body.Message))
	}
	if body.Data.TxRef != p.Ref {
		return upstream(fmt.Errorf("asked for payment %s, got %s", p.Ref, body.Data.TxRef))
	}
	if body.Data.Status != "successful" {
		return upstream(fmt.Errorf("payment %s is %q", p.Ref, body.Data.Status))
	}
	if !strings.EqualFold(strings.TrimSpace(body.Data.Customer.Email), p.CustomerEmail) {
		return models.ErrPaymentOwner
	}
	if v.currency != "" && !strings.EqualFold(body.Data.Currency, v.currency) {
		return upstream(fmt.Errorf("payment currency %s, expected %s", body.Data.Currency, v.currency))
	}
	if int64(body.Data.Amount) < p.Amount {
		return fmt.Errorf("%w: payment %s settled %.2f, expected %d", models.ErrInvalidAmount, p.Ref, body.Data.Amount, p.Amount)
	}
	return nil
}

var _ PaymentVerifier = (*FlutterwaveVerifier)(nil)
