package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/db"
	"github.com/haulhub/backend/internal/events"
	"github.com/haulhub/backend/internal/metrics"
	"github.com/haulhub/backend/internal/scheduler"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Event inserts are bound after the River client exists; services need them first.
	var insertMu sync.Mutex
	var insertFn events.EnqueueTxFunc
	enqueue := func(ctx context.Context, tx pgx.Tx, e events.Event) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, e)
	}

	a, err := buildApp(ctx, cfg, pool, enqueue, logger)
	if err != nil {
		slog.Error("Failed to wire services", "error", err)
		os.Exit(1)
	}

	publisher := events.Publisher(events.LogPublisher{Log: logger})
	if cfg.RabbitMQURL != "" {
		rp, err := events.DialRabbit(cfg.RabbitMQURL, 5, logger)
		if err != nil {
			slog.Error("RabbitMQ unavailable", "error", err)
			os.Exit(1)
		}
		defer rp.Close()
		publisher = rp
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, events.NewPublishWorker(publisher))
	scheduler.Register(workers, a.bookings, a.ledger, logger)

	periodic, err := scheduler.PeriodicJobs(cfg.AutoReleaseCron, cfg.MaturityCron)
	if err != nil {
		slog.Error("Invalid sweep schedule", "error", err)
		os.Exit(1)
	}

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, e events.Event) error {
		_, err := riverClient.InsertTx(ctx, tx, events.PublishArgs{Event: e}, nil)
		return err
	}
	insertMu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/api/", a.handler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(metrics.InstrumentHandler(mux))

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
