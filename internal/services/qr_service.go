package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/earnhub/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

const (
	qrImageSize = 256
	qrCacheTTL  = 24 * time.Hour
)

// QRService renders referral invite links as PNG QR codes.
type QRService struct {
	db      *sql.DB
	redis   *redis.Client
	baseURL string
}

func NewQRService(db *sql.DB, redis *redis.Client, publicBaseURL string) *QRService {
	return &QRService{
		db:      db,
		redis:   redis,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// InviteLink is the signup URL carrying the referral code.
func (s *QRService) InviteLink(code string) string {
	return fmt.Sprintf("%s/signup?ref=%s", s.baseURL, url.QueryEscape(code))
}

// ReferralQR returns the invite link of userID and its QR code as PNG.
func (s *QRService) ReferralQR(ctx context.Context, userID string) (string, []byte, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT referral_code FROM users WHERE id = $1`, userID).Scan(&code)
	if err == sql.ErrNoRows {
		return "", nil, models.ErrUserNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load referral code: %w", err)
	}

	link := s.InviteLink(code)
	key := fmt.Sprintf("qr:referral:%s", code)

	if s.redis != nil {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err == nil {
			return link, data, nil
		}
		if err != redis.Nil {
			log.Printf("[QR] Cache read failed for %s: %v", key, err)
		}
	}

	png, err := qrcode.Encode(link, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, png, qrCacheTTL).Err(); err != nil {
			log.Printf("[QR] Cache write failed for %s: %v", key, err)
		}
	}
	return link, png, nil
}
