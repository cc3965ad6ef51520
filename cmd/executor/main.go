package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wallet-service/internal/config"
	"wallet-service/internal/provider/bank"
	"wallet-service/internal/pub"
	"wallet-service/internal/ratelimit"
	"wallet-service/internal/repository"
	"wallet-service/internal/usecase"
	"wallet-service/internal/worker"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run a single settle-and-reconcile pass, then exit")
	flag.Parse()

	// Load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("Executor: No .env file found, relying on system env vars")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("failed to connect DB: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})
	defer rdb.Close()

	walletRepo := repository.NewWalletRepo(db)
	txnRepo := repository.NewTransactionRepo(db)
	reconRepo := repository.NewReconciliationRepo(db)
	ledgerRepo := repository.NewLedgerRepo(db, walletRepo, txnRepo, reconRepo)

	limiter, err := ratelimit.Build(rdb, cfg.BankRateLimitKey, cfg.BankMaxRPS)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}

	gateway := bank.NewBankClient(bank.Config{
		BaseURL:                 cfg.BankBaseURL,
		StatusURLTemplate:       cfg.BankStatusURLTemplate,
		Timeout:                 cfg.BankTimeout,
		RetryMaxAttempts:        cfg.BankRetryMaxAttempts,
		RetryBaseDelay:          cfg.BankRetryBaseDelay,
		RetryMaxDelay:           cfg.BankRetryMaxDelay,
		DefiniteFailureStatuses: cfg.BankDefiniteFailureStatuses,
	}, limiter, logger)

	publisher := pub.NewPublisher(rdb)

	executorUC := usecase.NewExecutorUsecase(ledgerRepo, gateway, publisher, usecase.ExecutorConfig{
		StaleAfter:               cfg.WithdrawalProcessingStale,
		BankHonorsIdempotency:    cfg.BankHonorsIdempotency,
		LockContentionMaxRetries: cfg.ExecutorLockContentionMaxRetries,
		LockContentionBackoff:    cfg.ExecutorLockContentionBackoff,
	}, logger)

	reconUC := usecase.NewReconciliationUsecase(ledgerRepo, gateway, publisher, cfg.WithdrawalProcessingTimeout, logger)

	w := worker.NewExecutor(executorUC, reconUC, worker.Config{
		Interval:         cfg.WorkerLoopInterval,
		StartupJitterMax: cfg.WorkerStartupJitterMax,
		LoopJitterMax:    cfg.WorkerLoopJitterMax,
		BatchLimit:       cfg.ExecutorBatchLimit,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := w.RunOnce(ctx); err != nil {
			log.Fatalf("executor run failed: %v", err)
		}
		return
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("executor loop failed: %v", err)
	}
	logger.Info("executor shut down")
}
