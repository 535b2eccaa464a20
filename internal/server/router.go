package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/earnhub/backend/internal/handlers"
	mW "github.com/earnhub/backend/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/earnhub/backend/docs"
)

// Handlers bundles every HTTP handler the router mounts.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Accounts *handlers.AccountHandler
	Tasks    *handlers.TaskHandler
	Requests *handlers.RequestHandler
	Payments *handlers.PaymentHandler
	Admin    *handlers.AdminHandler
	Banks    *handlers.BankHandler
}

type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	DB             *sql.DB
	Redis          *redis.Client
	Authenticator  mW.Authenticator
}

// NewRouter mounts the public, member and admin routes under /api/v1.
func NewRouter(opts Options, h Handlers) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", healthCheck(opts.DB, opts.Redis))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)
		r.Get("/banks", h.Banks.List)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware(opts.Authenticator))

			r.Post("/auth/logout", h.Auth.Logout)
			r.Post("/auth/password", h.Auth.ChangePassword)

			r.Get("/account", h.Accounts.Profile)
			r.Patch("/account", h.Accounts.UpdateProfile)
			r.Get("/account/bank", h.Accounts.BankDetails)
			r.Put("/account/bank", h.Accounts.SaveBankDetails)
			r.Get("/account/transactions", h.Accounts.Transactions)
			r.Get("/account/earnings", h.Accounts.Earnings)
			r.Get("/leaderboard", h.Accounts.Leaderboard)

			r.Get("/referrals", h.Accounts.Referrals)
			r.Get("/referrals/stats", h.Accounts.ReferralStats)
			r.Get("/referrals/qr", h.Accounts.ReferralQR)

			r.Get("/tasks", h.Tasks.Available)
			r.Get("/tasks/completed", h.Tasks.Completed)
			r.Post("/tasks/{taskId}/complete", h.Tasks.Complete)

			r.Post("/payments/vip", h.Payments.ConfirmVIP)

			r.Get("/withdrawals", h.Requests.MyWithdrawals)
			r.Post("/withdrawals", h.Requests.Withdraw)
			r.Get("/loans", h.Requests.MyLoans)
			r.Post("/loans", h.Requests.Borrow)

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Get("/users", h.Admin.Users)
				r.Get("/stats", h.Admin.Stats)
				r.Put("/users/{userId}/vip", h.Admin.GrantVIP)
				r.Delete("/users/{userId}/vip", h.Admin.RevokeVIP)
				r.Get("/settings", h.Admin.Settings)
				r.Put("/settings", h.Admin.UpdateSettings)
				r.Post("/reconcile", h.Admin.Reconcile)
				r.Post("/exports/transactions", h.Admin.Export)

				r.Get("/withdrawals", h.Requests.Withdrawals)
				r.Post("/withdrawals/{withdrawalId}/resolve", h.Requests.ResolveWithdrawal)
				r.Get("/loans", h.Requests.Loans)
				r.Post("/loans/{loanId}/resolve", h.Requests.ResolveLoan)

				r.Get("/tasks", h.Tasks.List)
				r.Post("/tasks", h.Tasks.Create)
				r.Get("/tasks/{taskId}", h.Tasks.Get)
				r.Patch("/tasks/{taskId}", h.Tasks.Update)
				r.Delete("/tasks/{taskId}", h.Tasks.Delete)
				r.Put("/tasks/{taskId}/activate", h.Tasks.Activate)
				r.Put("/tasks/{taskId}/deactivate", h.Tasks.Deactivate)
			})
		})
	})

	return r
}

// healthCheck reports unhealthy only when Postgres is unreachable. A
// missing Redis degrades the service but does not take it down.
func healthCheck(db *sql.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up", "redis": "disabled"}
		code := http.StatusOK
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status["status"], status["database"] = "unhealthy", "down"
				code = http.StatusServiceUnavailable
			}
		}
		if rdb != nil {
			status["redis"] = "up"
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["redis"] = "down"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
