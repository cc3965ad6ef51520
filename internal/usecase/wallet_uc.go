package usecase

import (
	"context"

	"wallet-service/internal/domain"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WalletUsecase struct {
	ledger    repository.LedgerRepository
	wallets   repository.WalletRepository
	txns      repository.TransactionRepository
	publisher pub.Publisher
	logger    *zap.Logger
}

func NewWalletUsecase(
	ledger repository.LedgerRepository,
	wallets repository.WalletRepository,
	txns repository.TransactionRepository,
	publisher pub.Publisher,
	logger *zap.Logger,
) *WalletUsecase {
	return &WalletUsecase{
		ledger:    ledger,
		wallets:   wallets,
		txns:      txns,
		publisher: publisher,
		logger:    logger,
	}
}

// Deposit credits the wallet and records a SUCCEEDED transaction in one unit
// of work. Replays of the same idempotency key return the original row with
// created=false; a reused key with a different payload is a conflict.
func (uc *WalletUsecase) Deposit(ctx context.Context, walletRef uuid.UUID, amount int64, idempotencyKey string) (*domain.Transaction, bool, error) {
	if err := domain.ValidateDeposit(amount); err != nil {
		return nil, false, err
	}

	wallet, err := uc.wallets.GetByExternalID(ctx, walletRef)
	if err != nil {
		return nil, false, err
	}

	fingerprint := domain.DepositFingerprint(amount)
	txn, created, err := uc.ledger.Deposit(ctx, wallet.ID, amount, idempotencyKey, fingerprint)
	if err != nil {
		return nil, false, err
	}

	if created {
		uc.logger.Info("deposit completed",
			zap.Int64("tx_id", txn.ID),
			zap.String("wallet_ref", walletRef.String()),
			zap.Int64("amount", amount))
		if perr := uc.publisher.Publish(ctx, &pub.WalletEvent{
			EventType:     pub.EventDepositCompleted,
			TransactionID: txn.ID,
			WalletRef:     walletRef.String(),
			Amount:        amount,
			Status:        string(txn.Status),
		}); perr != nil {
			uc.logger.Warn("failed to publish deposit event", zap.Error(perr))
		}
	}
	return txn, created, nil
}

func (uc *WalletUsecase) GetWallet(ctx context.Context, walletRef uuid.UUID) (*domain.Wallet, error) {
	return uc.wallets.GetByExternalID(ctx, walletRef)
}

func (uc *WalletUsecase) ListTransactions(ctx context.Context, walletRef uuid.UUID, filter repository.TransactionFilter) ([]*domain.Transaction, error) {
	wallet, err := uc.wallets.GetByExternalID(ctx, walletRef)
	if err != nil {
		return nil, err
	}
	return uc.txns.ListByWallet(ctx, wallet.ID, filter)
}
