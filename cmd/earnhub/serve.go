package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/earnhub/backend/docs"
	"github.com/earnhub/backend/internal/handlers"
	"github.com/earnhub/backend/internal/server"
	"github.com/earnhub/backend/internal/services"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("no-jobs", false, "Do not run the reconciliation and payout jobs in this process")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Swagger UI resolves requests against whichever host served it.
	docs.SwaggerInfo.Host = ""

	tasks := services.NewTaskService(a.db)
	accounts := services.NewAccountService(a.db, a.ledger, a.users, a.banks)
	qr := services.NewQRService(a.db, a.redis, a.cfg.Server.PublicBaseURL)
	admin := services.NewAdminService(a.db, a.settlement, a.settings, a.users, a.audit)

	router := server.NewRouter(server.Options{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		DB:             a.db,
		Redis:          a.redis,
		Authenticator:  a.auth,
	}, server.Handlers{
		Auth:     handlers.NewAuthHandler(a.auth),
		Accounts: handlers.NewAccountHandler(accounts, accounts, qr),
		Tasks:    handlers.NewTaskHandler(tasks, a.settlement),
		Requests: handlers.NewRequestHandler(a.requests),
		Payments: handlers.NewPaymentHandler(a.settlement),
		Admin:    handlers.NewAdminHandler(admin, a.reconcile, a.exports),
		Banks:    handlers.NewBankHandler(a.banks),
	})

	noJobs, _ := cmd.Flags().GetBool("no-jobs")
	if !noJobs {
		scheduler, err := services.NewScheduler(a.cfg.Jobs, services.Jobs{
			Reconcile: a.reconcile,
			Payouts:   a.payouts,
			Settings:  a.settings,
			DB:        a.db,
		})
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				log.Printf("[SCHEDULER] Shutdown failed: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on :%s", a.cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Println("Server stopped")
	return nil
}
