package server

import (
	"log"
	"net/http"

	"wallet-service/internal/config"
	"wallet-service/internal/handler"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"
	"wallet-service/internal/router"
	"wallet-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func NewServer(cfg config.AppConfig, logger *zap.Logger) *http.Server {
	// --- Connect Postgres ---
	db, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("failed to connect DB: %v", err)
	}

	// --- Init Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	// --- Repositories ---
	walletRepo := repository.NewWalletRepo(db)
	txnRepo := repository.NewTransactionRepo(db)
	reconRepo := repository.NewReconciliationRepo(db)
	ledgerRepo := repository.NewLedgerRepo(db, walletRepo, txnRepo, reconRepo)

	// --- Eventing ---
	publisher := pub.NewPublisher(rdb)

	// --- Usecases ---
	walletUC := usecase.NewWalletUsecase(ledgerRepo, walletRepo, txnRepo, publisher, logger)
	withdrawalUC := usecase.NewWithdrawalUsecase(ledgerRepo, walletRepo, logger)

	// --- Handlers ---
	walletHandler := handler.NewWalletHandler(walletUC, withdrawalUC, logger)

	// --- Router ---
	r := chi.NewRouter()
	router.SetupRoutes(r, walletHandler)

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
}
