package usecase

import (
	"context"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type WithdrawalUsecase struct {
	ledger  repository.LedgerRepository
	wallets repository.WalletRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewWithdrawalUsecase(
	ledger repository.LedgerRepository,
	wallets repository.WalletRepository,
	logger *zap.Logger,
) *WithdrawalUsecase {
	return &WithdrawalUsecase{
		ledger:  ledger,
		wallets: wallets,
		logger:  logger,
		now:     time.Now,
	}
}

// Schedule creates a SCHEDULED withdrawal to be executed at executeAt, which
// must be strictly in the future. No funds move until the executor claims the
// row. Same replay/conflict semantics as deposits.
func (uc *WithdrawalUsecase) Schedule(ctx context.Context, walletRef uuid.UUID, amount int64, executeAt time.Time, idempotencyKey string) (*domain.Transaction, bool, error) {
	if err := domain.ValidateWithdrawal(amount, executeAt, uc.now()); err != nil {
		return nil, false, err
	}

	wallet, err := uc.wallets.GetByExternalID(ctx, walletRef)
	if err != nil {
		return nil, false, err
	}

	fingerprint := domain.WithdrawalFingerprint(amount, executeAt)
	txn, created, err := uc.ledger.ScheduleWithdrawal(ctx, wallet.ID, amount, executeAt, idempotencyKey, fingerprint)
	if err != nil {
		return nil, false, err
	}

	if created {
		uc.logger.Info("withdrawal scheduled",
			zap.Int64("tx_id", txn.ID),
			zap.String("wallet_ref", walletRef.String()),
			zap.Int64("amount", amount),
			zap.Time("execute_at", executeAt))
	}
	return txn, created, nil
}
