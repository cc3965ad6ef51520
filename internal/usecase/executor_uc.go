package usecase

import (
	"context"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"
	"wallet-service/pkg/xerrors"

	"go.uber.org/zap"
)

// ExecutorConfig carries the claim-loop knobs.
type ExecutorConfig struct {
	// StaleAfter bounds how long a row may sit in PROCESSING before another
	// worker treats its owner as crashed.
	StaleAfter time.Duration
	// BankHonorsIdempotency selects the stale path: trusted gateways get a
	// direct re-send of the same idempotency key with the debit kept in
	// place (the bank dedupes the replay); untrusted gateways get UNKNOWN
	// + reconciliation, never a blind re-send.
	BankHonorsIdempotency    bool
	LockContentionMaxRetries int
	LockContentionBackoff    time.Duration
}

// ExecutorSummary reports one batch run.
type ExecutorSummary struct {
	Processed            int
	Succeeded            int
	Failed               int
	InsufficientFunds    int
	Unknown              int
	ReconciliationQueued int
	StaleRetried         int
}

type ExecutorUsecase struct {
	ledger    repository.LedgerRepository
	gateway   domain.BankGateway
	publisher pub.Publisher
	logger    *zap.Logger
	cfg       ExecutorConfig

	now   func() time.Time
	sleep func(d time.Duration)
}

func NewExecutorUsecase(
	ledger repository.LedgerRepository,
	gateway domain.BankGateway,
	publisher pub.Publisher,
	cfg ExecutorConfig,
	logger *zap.Logger,
) *ExecutorUsecase {
	return &ExecutorUsecase{
		ledger:    ledger,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// ExecuteDue claims and settles due withdrawals, up to limit per run. Each
// claim commits debit + PROCESSING atomically before the bank is called, so a
// crash mid-settlement leaves a stale PROCESSING row for a later sweep, never
// a half-applied ledger.
func (uc *ExecutorUsecase) ExecuteDue(ctx context.Context, limit int) (ExecutorSummary, error) {
	var summary ExecutorSummary
	if limit <= 0 {
		return summary, nil
	}

	now := uc.now()
	staleBefore := now.Add(-uc.cfg.StaleAfter)
	lockRetries := 0

	for summary.Processed < limit {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		claim, progressed, err := uc.claimNext(ctx, now, staleBefore, &summary)
		if err != nil {
			if xerrors.IsLockContention(err) {
				lockRetries++
				uc.logger.Warn("claim lock contention",
					zap.Int("retry", lockRetries),
					zap.Int("max_retries", uc.cfg.LockContentionMaxRetries))
				if lockRetries > uc.cfg.LockContentionMaxRetries {
					uc.logger.Warn("claim lock contention exhausted, ending batch",
						zap.Int("retries", lockRetries))
					break
				}
				if uc.cfg.LockContentionBackoff > 0 {
					uc.sleep(uc.cfg.LockContentionBackoff)
				}
				continue
			}
			return summary, err
		}
		lockRetries = 0

		if claim == nil {
			if !progressed {
				break
			}
			continue
		}

		uc.settle(ctx, claim, &summary)
	}

	uc.logger.Info("executor batch done",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("insufficient_funds", summary.InsufficientFunds),
		zap.Int("unknown", summary.Unknown),
		zap.Int("reconciliation_queued", summary.ReconciliationQueued),
		zap.Int("stale_retried", summary.StaleRetried))
	return summary, nil
}

// claimNext claims one unit of work: the oldest due SCHEDULED withdrawal, or
// a stale PROCESSING row handled per the trust flag. Returns a claim when a
// gateway call is needed; progressed=false means the due and stale sets are
// both drained and the batch can end.
func (uc *ExecutorUsecase) claimNext(ctx context.Context, now, staleBefore time.Time, summary *ExecutorSummary) (*repository.ClaimedWithdrawal, bool, error) {
	result, err := uc.ledger.ClaimNextDue(ctx, now)
	if err != nil {
		return nil, false, err
	}

	if result == nil {
		return uc.handleStale(ctx, now, staleBefore, summary)
	}

	switch result.Outcome {
	case repository.ClaimOutcomeInsufficientFunds:
		summary.Processed++
		summary.Failed++
		summary.InsufficientFunds++
		uc.logger.Info("withdrawal failed on insufficient funds",
			zap.Int64("tx_id", result.TransactionID))
		uc.publishEvent(ctx, pub.EventWithdrawalFailed, result.TransactionID, "", 0, "insufficient_funds", "")
		return nil, true, nil
	default:
		return result.Claim, true, nil
	}
}

// handleStale deals with one row whose owner crashed or hung mid-settlement.
// Trusted gateways get the row re-sent with its original idempotency key and
// the debit left intact. A stale row must never be failed or refunded without
// the bank being consulted, since the first attempt may already have paid out.
func (uc *ExecutorUsecase) handleStale(ctx context.Context, now, staleBefore time.Time, summary *ExecutorSummary) (*repository.ClaimedWithdrawal, bool, error) {
	if uc.cfg.BankHonorsIdempotency {
		claim, err := uc.ledger.ClaimNextStale(ctx, now, staleBefore)
		if err != nil {
			return nil, false, err
		}
		if claim != nil {
			summary.StaleRetried++
			uc.logger.Warn("stale processing withdrawal re-dispatched",
				zap.Int64("tx_id", claim.TransactionID),
				zap.String("idempotency_key", claim.IdempotencyKey))
			return claim, true, nil
		}
		return nil, false, nil
	}

	marked, err := uc.ledger.MarkStaleUnknown(ctx, staleBefore, 1)
	if err != nil {
		return nil, false, err
	}
	if marked > 0 {
		summary.Processed += marked
		summary.ReconciliationQueued += marked
		uc.logger.Warn("stale processing withdrawal queued for reconciliation",
			zap.Time("stale_before", staleBefore))
		return nil, true, nil
	}
	return nil, false, nil
}

// settle calls the bank and records the classified outcome.
func (uc *ExecutorUsecase) settle(ctx context.Context, claim *repository.ClaimedWithdrawal, summary *ExecutorSummary) {
	uc.logger.Info("withdrawal execution start",
		zap.Int64("tx_id", claim.TransactionID),
		zap.String("idempotency_key", claim.IdempotencyKey),
		zap.Int64("amount", claim.Amount))

	result := uc.gateway.Transfer(ctx, claim.IdempotencyKey, claim.WalletRef, claim.Amount)

	switch result.Outcome {
	case domain.OutcomeSuccess:
		status, err := uc.ledger.FinalizeSuccess(ctx, claim.TransactionID, result.Reference)
		if err != nil {
			uc.logger.Error("failed to finalize successful withdrawal",
				zap.Int64("tx_id", claim.TransactionID), zap.Error(err))
			return
		}
		summary.Processed++
		if status == repository.FinalizeApplied {
			summary.Succeeded++
			uc.publishEvent(ctx, pub.EventWithdrawalSucceeded, claim.TransactionID, claim.WalletRef, claim.Amount, "", result.Reference)
		}

	case domain.OutcomeFailure:
		status, err := uc.ledger.FinalizeFailure(ctx, claim.TransactionID, result.Reason)
		if err != nil {
			uc.logger.Error("failed to finalize rejected withdrawal",
				zap.Int64("tx_id", claim.TransactionID), zap.Error(err))
			return
		}
		summary.Processed++
		if status == repository.FinalizeApplied {
			summary.Failed++
			uc.logger.Warn("withdrawal failed and refunded",
				zap.Int64("tx_id", claim.TransactionID),
				zap.String("reason", result.Reason))
			uc.publishEvent(ctx, pub.EventWithdrawalFailed, claim.TransactionID, claim.WalletRef, claim.Amount, result.Reason, "")
		}

	default:
		status, err := uc.ledger.MarkUnknown(ctx, claim.TransactionID, result.Reason)
		if err != nil {
			uc.logger.Error("failed to mark withdrawal unknown",
				zap.Int64("tx_id", claim.TransactionID), zap.Error(err))
			return
		}
		summary.Processed++
		if status == repository.FinalizeApplied {
			summary.Unknown++
			summary.ReconciliationQueued++
			uc.logger.Warn("withdrawal outcome unknown, queued for reconciliation",
				zap.Int64("tx_id", claim.TransactionID),
				zap.String("reason", result.Reason))
			uc.publishEvent(ctx, pub.EventWithdrawalUnknown, claim.TransactionID, claim.WalletRef, claim.Amount, result.Reason, "")
		}
	}
}

func (uc *ExecutorUsecase) publishEvent(ctx context.Context, eventType string, txID int64, walletRef string, amount int64, reason, bankRef string) {
	if err := uc.publisher.Publish(ctx, &pub.WalletEvent{
		EventType:     eventType,
		TransactionID: txID,
		WalletRef:     walletRef,
		Amount:        amount,
		Reason:        reason,
		BankReference: bankRef,
	}); err != nil {
		uc.logger.Warn("failed to publish settlement event",
			zap.String("event_type", eventType),
			zap.Int64("tx_id", txID),
			zap.Error(err))
	}
}
