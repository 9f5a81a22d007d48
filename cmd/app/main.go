package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matjar-bot/internal/ads"
	"matjar-bot/internal/cache"
	"matjar-bot/internal/config"
	"matjar-bot/internal/convo"
	"matjar-bot/internal/discount"
	"matjar-bot/internal/housekeeper"
	"matjar-bot/internal/httpserver"
	"matjar-bot/internal/ledger"
	"matjar-bot/internal/logging"
	"matjar-bot/internal/metrics"
	"matjar-bot/internal/orders"
	"matjar-bot/internal/outbox"
	"matjar-bot/internal/referral"
	"matjar-bot/internal/repo"
	"matjar-bot/internal/state"
	"matjar-bot/internal/statefile"
	"matjar-bot/internal/tg"
	"matjar-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting matjar-bot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	system, err := statefile.Open(cfg.StateFilePath, cfg.AdminActionLog)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}

	loc, err := time.LoadLocation("Asia/Damascus")
	if err != nil {
		logger.Warn("timezone unavailable, using local time", "error", err)
		loc = time.Local
	}

	tgClient := tg.New(tg.Config{
		BaseURL:     cfg.APIBaseURL,
		Token:       cfg.BotToken,
		PollTimeout: cfg.PollTimeout,
		Metrics:     metricRegistry,
	}, logger)

	states := state.New(redisClient, cfg.StateTTL)
	ledgerService := ledger.New(repository, metricRegistry, logger)
	discounts := discount.New(repository, logger)
	notifier := outbox.NewProducer(repository)

	referrals := referral.New(repository, discounts, tgClient, notifier, metricRegistry, logger, referral.Config{
		Channel:       cfg.ForceSubChannelUsername,
		RequiredCount: cfg.ReferralRequired,
		GoalLifetime:  cfg.ReferralLifetime,
	})

	coordinator := orders.New(repository, ledgerService, discounts, notifier, redisClient, metricRegistry, logger, orders.Config{
		Cooldown:           cfg.QueueCooldown,
		PurchaseVisibility: time.Duration(cfg.RetentionHours) * time.Hour,
	})
	queueProcessor := orders.NewProcessor(coordinator, repository, tgClient, cfg.OperatorChat, logger)

	keeper := housekeeper.New(repository, notifier, referrals, metricRegistry, logger, housekeeper.Config{
		RetentionHours: cfg.RetentionHours,
		DeleteDays:     cfg.DeleteDays,
		Location:       loc,
	})

	adScheduler := ads.New(repository, tgClient, metricRegistry, logger, ads.Config{
		Channel:  cfg.BroadcastChannel,
		Location: loc,
	})

	outboxWorker := outbox.NewWorker(repository, tgClient, outbox.DefaultRegistry(), cfg.OutboxInterval, cfg.OutboxBatchSize, metricRegistry, logger)

	engine := convo.New(cfg, repository, ledgerService, coordinator, referrals, system, notifier, states, tgClient, metricRegistry, logger)
	tgClient.SetUpdateProcessor(engine)

	go outboxWorker.Run(ctx)
	go keeper.Run(ctx)
	go queueProcessor.Run(ctx)
	if cfg.BroadcastChannel != "" {
		go adScheduler.Run(ctx)
	} else {
		logger.Info("broadcast channel not configured, ad scheduler disabled")
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, system, cfg.HTTPBasePath)
	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := tgClient.Poll(ctx); err != nil {
			if errors.Is(err, tg.ErrConflict) {
				errCh <- fmt.Errorf("poll: %w", err)
				return
			}
			logger.Error("poll loop stopped", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
