package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-crm/meridian/internal/app"
	"github.com/meridian-crm/meridian/internal/bonus"
	"github.com/meridian-crm/meridian/internal/donations"
	"github.com/meridian-crm/meridian/internal/fx"
	"github.com/meridian-crm/meridian/internal/observability"
	"github.com/meridian-crm/meridian/internal/payments"
	"github.com/meridian-crm/meridian/internal/plans"
	"github.com/meridian-crm/meridian/internal/platform/cache"
	"github.com/meridian-crm/meridian/internal/platform/db"
	"github.com/meridian-crm/meridian/internal/shared"
	"github.com/meridian-crm/meridian/jobs"
)

// paymentBonus adapts the bonus service to the payment-kind evaluation the
// payments service expects.
type paymentBonus struct {
	service *bonus.Service
}

func (a paymentBonus) Evaluate(ctx context.Context, solicitorID int64, amount float64, date time.Time) (*payments.BonusEvaluation, error) {
	eval, err := a.service.EvaluateForAmount(ctx, solicitorID, amount, date, bonus.KindPayment)
	if err != nil || eval == nil {
		return nil, err
	}
	return &payments.BonusEvaluation{RuleID: eval.RuleID, Percentage: eval.Percentage, Amount: eval.Amount}, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	locker := shared.NewPledgeLocker(redisClient).WithTTL(cfg.PledgeLockTTL)

	rateRepo := fx.NewRepository(pool)
	resolver := fx.NewResolver(rateRepo, redisClient, logger, metrics).WithCacheTTL(cfg.RateCacheTTL)

	plansRepo := plans.NewRepository(pool)
	plansService := plans.NewService(pool, plansRepo, locker, logger, metrics)

	bonusRepo := bonus.NewRepository(pool)
	bonusService := bonus.NewService(bonusRepo, logger, metrics)
	bonusHandler := bonus.NewHandler(logger, bonusService)

	paymentsRepo := payments.NewRepository(pool, locker, plansService)
	paymentsService := payments.NewService(paymentsRepo, resolver, paymentBonus{service: bonusService}, logger)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	donationsRepo := donations.NewRepository(pool)
	donationsService := donations.NewService(donationsRepo, resolver, bonusService, logger)
	donationsHandler := donations.NewHandler(logger, donationsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PaymentsHandler:  paymentsHandler,
		BonusHandler:     bonusHandler,
		DonationsHandler: donationsHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
