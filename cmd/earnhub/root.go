package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/earnhub/backend/internal/audit"
	"github.com/earnhub/backend/internal/cache"
	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/database"
	"github.com/earnhub/backend/internal/models"
	"github.com/earnhub/backend/internal/ratelimit"
	"github.com/earnhub/backend/internal/services"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "earnhub",
	Short:        "EarnHub rewards backend",
	SilenceUsage: true,
}

// app is the wired service graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	redis    *redis.Client
	settings *config.Settings
	audit    *audit.Logger

	ledger     *services.LedgerService
	settlement *services.SettlementService
	auth       *services.AuthService
	requests   *services.RequestService
	payouts    *services.PayoutService
	reconcile  *services.ReconcileService
	exports    *services.ExportService
	banks      *services.BankService
	users      *services.UserCache
}

// openDatabase loads configuration and connects to Postgres.
func openDatabase() (*config.Config, *sql.DB, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// bootstrap loads configuration, connects to Postgres and Redis, applies
// migrations and stored settings, then builds the services.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, db, err := openDatabase()
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		redis:    database.OpenRedis(cfg.Redis),
		settings: config.NewSettings(cfg),
		audit:    audit.NewLogger(),
		banks:    services.NewBankService(),
	}
	if _, err := a.settings.Load(ctx, db); err != nil {
		a.Close()
		return nil, err
	}

	var limiter ratelimit.Limiter
	if a.redis != nil {
		limiter = ratelimit.NewRedisLimiter(a.redis)
	} else {
		log.Println("[RATELIMIT] Redis unavailable, using the in-process limiter")
		limiter = ratelimit.NewMemoryLimiter()
	}

	a.users = cache.New[models.User](a.redis, "user:", cfg.Redis.CacheTTL)
	a.ledger = services.NewLedgerService(db, a.audit, a.users)
	a.settlement = services.NewSettlementService(db, a.ledger, limiter, a.settings, services.NewPaymentVerifier(cfg.Payment), a.audit)
	a.auth = services.NewAuthService(db, a.redis, a.ledger, a.settlement, cfg.JWT, cfg.Argon2)
	a.payouts = services.NewPayoutService(a.redis, cfg.Payout, services.LogSink{})
	a.requests = services.NewRequestService(db, a.ledger, a.settings, a.banks, a.payouts, a.audit)
	a.reconcile = services.NewReconcileService(db, a.audit)

	if cfg.Storage.Enabled() {
		store, err := services.NewObjectStore(ctx, cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.exports = services.NewExportService(db, store, cfg.Storage.Bucket)
	} else {
		log.Println("[EXPORT] No storage bucket configured, ledger exports are disabled")
		a.exports = services.NewExportService(db, nil, "")
	}

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}
