package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/models"
)

// ObjectStore is the part of the S3 client the exporter needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewObjectStore builds an S3 client for cfg. Cloudflare R2 is used when
// an account id is set and no explicit endpoint is.
func NewObjectStore(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountID != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ExportService writes ledger extracts as CSV to object storage.
type ExportService struct {
	db     *sql.DB
	store  ObjectStore
	bucket string
	now    func() time.Time
}

// NewExportService returns an exporter. A nil store disables exports.
func NewExportService(db *sql.DB, store ObjectStore, bucket string) *ExportService {
	return &ExportService{db: db, store: store, bucket: bucket, now: time.Now}
}

var exportHeader = []string{"id", "user_id", "amount", "type", "status", "bucket", "related_record_id", "balance_after", "created_at"}

// ExportTransactions uploads every transaction created in [from, to) and
// returns the object key.
func (s *ExportService) ExportTransactions(ctx context.Context, from, to time.Time) (string, error) {
	if s.store == nil {
		return "", models.ErrExportsDisabled
	}
	if !from.Before(to) {
		return "", fmt.Errorf("export window start must be before its end")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, type, status, bucket, related_record_id, balance_after, created_at
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`, from, to)
	if err != nil {
		return "", fmt.Errorf("failed to read transactions: %w", err)
	}
	defer rows.Close()
	txns, err := scanTransactions(rows)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return "", err
	}
	for _, t := range txns {
		related, balanceAfter := "", ""
		if t.RelatedRecordID != nil {
			related = *t.RelatedRecordID
		}
		if t.BalanceAfter != nil {
			balanceAfter = strconv.FormatInt(*t.BalanceAfter, 10)
		}
		record := []string{
			t.ID, t.UserID, strconv.FormatInt(t.Amount, 10), string(t.Type), string(t.Status),
			string(t.Bucket), related, balanceAfter, t.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}

	key := fmt.Sprintf("exports/transactions/%s_%s_%d.csv",
		from.UTC().Format("20060102T150405Z"), to.UTC().Format("20060102T150405Z"), s.now().Unix())
	_, err = s.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", &models.UpstreamError{Service: "object storage", Err: err}
	}

	log.Printf("[EXPORT] Uploaded %d transactions to %s/%s", len(txns), s.bucket, key)
	return key, nil
}
