package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/go-co-op/gocron/v2"
)

const payoutDrainBatch = 100

// Jobs holds what the background jobs operate on. A nil member skips its
// job.
type Jobs struct {
	Reconcile *ReconcileService
	Payouts   *PayoutService
	Settings  *config.Settings
	DB        *sql.DB
}

// Scheduler runs the periodic background jobs: ledger reconciliation,
// payout queue draining and admin settings reloads.
type Scheduler struct {
	sched gocron.Scheduler
}

func NewScheduler(cfg config.JobsConfig, jobs Jobs) (*Scheduler, error) {
	reconcile, payouts := jobs.Reconcile, jobs.Payouts
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	if cfg.ReconcileInterval > 0 && reconcile != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.ReconcileInterval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ReconcileInterval)
				defer cancel()
				if _, err := reconcile.Reconcile(ctx); err != nil {
					log.Printf("[SCHEDULER] Reconciliation failed: %v", err)
				}
			}),
			gocron.WithName("reconcile"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule reconciliation: %w", err)
		}
	}

	if cfg.PayoutInterval > 0 && payouts != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.PayoutInterval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				n, err := payouts.Drain(ctx, payoutDrainBatch)
				if err != nil {
					log.Printf("[SCHEDULER] Payout drain stopped after %d: %v", n, err)
				} else if n > 0 {
					log.Printf("[SCHEDULER] Delivered %d payouts", n)
				}
			}),
			gocron.WithName("payout-drain"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule payout drain: %w", err)
		}
	}

	if cfg.SettingsInterval > 0 && jobs.Settings != nil && jobs.DB != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.SettingsInterval),
			gocron.NewTask(reloadSettings, jobs.Settings, jobs.DB, cfg.SettingsInterval),
			gocron.WithName("settings-reload"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule settings reload: %w", err)
		}
	}

	return &Scheduler{sched: sched}, nil
}

func reloadSettings(settings *config.Settings, db *sql.DB, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	changed, err := settings.Load(ctx, db)
	if err != nil {
		log.Printf("[SCHEDULER] Settings reload failed, keeping current values: %v", err)
		return
	}
	if changed {
		log.Println("[SCHEDULER] Admin settings changed, reloaded")
	}
}

func (s *Scheduler) Start() {
	s.sched.Start()
	log.Printf("[SCHEDULER] Started %d jobs", len(s.sched.Jobs()))
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
