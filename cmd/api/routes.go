package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/applications"
	"github.com/haulhub/backend/internal/auth"
	"github.com/haulhub/backend/internal/bookings"
	"github.com/haulhub/backend/internal/chat"
	"github.com/haulhub/backend/internal/dashboard"
	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/events"
	"github.com/haulhub/backend/internal/jobs"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/router"
	"github.com/haulhub/backend/internal/validator"
)

// app holds the wired services the HTTP layer and the sweep workers share.
type app struct {
	handler  http.Handler
	ledger   ledger.Service
	bookings bookings.Service
}

// buildApp wires repositories, services and handlers. enqueue is late-bound to the River client.
func buildApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, enqueue events.EnqueueTxFunc, logger *slog.Logger) (*app, error) {
	v, err := validator.New()
	if err != nil {
		return nil, err
	}

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret, cfg.StrikeMultiplier, logger)

	ledgerSvc := ledger.NewService(ledger.NewRepository(pool), pool, ledger.Options{
		DepositHold:         cfg.DepositHold,
		ReservePctBPS:       cfg.ReservePctBPS,
		ReserveReleaseAfter: cfg.ReserveReleaseAfter,
	}, logger)
	checkout := ledger.NewCheckout(cfg.CheckoutBaseURL, cfg.CheckoutSecret, cfg.CheckoutWebhookSecret, cfg.CheckoutTTL)
	if cfg.CheckoutWebhookSecret == "" {
		logger.WarnContext(ctx, "CHECKOUT_WEBHOOK_SECRET is unset; deposit callbacks will be rejected")
	}
	policy := ledger.DefaultPolicy()
	policy.MinDeposit = cfg.MinDeposit
	policy.MinWithdrawal = cfg.MinWithdrawal
	policy.RequireKYCForPayout = cfg.RequireKYCForPayout
	policy.DepositVelocity = cfg.DepositVelocity

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, pool, authSvc, logger)

	bookingsSvc := bookings.NewService(bookings.Deps{
		Store:   bookings.NewRepository(pool),
		Jobs:    jobsRepo,
		Escrow:  ledgerSvc,
		Strikes: authSvc,
		Enqueue: enqueue,
		DB:      pool,
	}, bookings.Options{
		AutoReleaseGrace:      cfg.AutoReleaseGrace,
		NoShowWindow:          cfg.NoShowWindow,
		NoShowAutoCancelAfter: cfg.NoShowAutoCancelAfter,
		PickupMaxAttempts:     cfg.PickupMaxAttempts,
		PickupLockout:         cfg.PickupLockout,
	}, logger)

	appsSvc := applications.NewService(applications.Deps{
		Store:    applications.NewRepository(pool),
		Jobs:     jobsRepo,
		Users:    authSvc,
		Escrow:   ledgerSvc,
		Bookings: bookingsSvc,
		Rooms:    chat.DerivedRooms{},
		Enqueue:  enqueue,
		DB:       pool,
	}, logger)

	var throttles *middleware.Throttles
	if cfg.RateLimitingEnabled {
		throttles = middleware.NewThrottles()
	}

	h := router.New(router.Handlers{
		Auth:         auth.NewHandler(authSvc, v, logger),
		Jobs:         jobs.NewHandler(jobsSvc, v, logger),
		Applications: applications.NewHandler(appsSvc, v, logger),
		Bookings:     bookings.NewHandler(bookingsSvc, v, logger),
		Wallet:       ledger.NewHandler(ledgerSvc, checkout, authSvc, policy, v, logger),
		Dashboard: dashboard.NewHandler(dashboard.Deps{
			Users:        authSvc,
			Wallets:      ledgerSvc,
			Jobs:         jobsSvc,
			Applications: appsSvc,
			Bookings:     bookingsSvc,
		}, logger),
	}, router.Guards{
		Tokens:     authSvc,
		ArbiterKey: cfg.ArbiterKey,
		Throttles:  throttles,
	})

	logger.InfoContext(ctx, "services wired", "rate_limiting", cfg.RateLimitingEnabled, "kyc_for_payout", cfg.RequireKYCForPayout, "deposit_velocity", cfg.DepositVelocity)
	return &app{handler: h, ledger: ledgerSvc, bookings: bookingsSvc}, nil
}
