package usecase

import (
	"context"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"

	"go.uber.org/zap"
)

// ReconciliationSummary reports one sweep run.
type ReconciliationSummary struct {
	StaleMarkedUnknown int
	ResolvedSuccess    int
	ResolvedFailure    int
	Resolved           int
	Pending            int
}

type ReconciliationUsecase struct {
	ledger    repository.LedgerRepository
	gateway   domain.BankGateway
	publisher pub.Publisher
	logger    *zap.Logger

	// processingTimeout is the hard bound after which a PROCESSING row is
	// moved to UNKNOWN regardless of the trust flag; a safety net behind
	// the executor's own stale handling.
	processingTimeout time.Duration
	now               func() time.Time
}

func NewReconciliationUsecase(
	ledger repository.LedgerRepository,
	gateway domain.BankGateway,
	publisher pub.Publisher,
	processingTimeout time.Duration,
	logger *zap.Logger,
) *ReconciliationUsecase {
	return &ReconciliationUsecase{
		ledger:            ledger,
		gateway:           gateway,
		publisher:         publisher,
		processingTimeout: processingTimeout,
		logger:            logger,
		now:               time.Now,
	}
}

// Run re-examines UNKNOWN and long-stale PROCESSING transactions and resolves
// what it can without re-executing any transfer. Rows that stay inconclusive
// remain queued for the next sweep; that is an accepted steady-state.
func (uc *ReconciliationUsecase) Run(ctx context.Context, limit int) (ReconciliationSummary, error) {
	var summary ReconciliationSummary
	if limit <= 0 {
		return summary, nil
	}

	timedOutBefore := uc.now().Add(-uc.processingTimeout)
	marked, err := uc.ledger.MarkStaleUnknown(ctx, timedOutBefore, limit)
	if err != nil {
		return summary, err
	}
	summary.StaleMarkedUnknown = marked

	tasks, err := uc.ledger.ListPendingReconciliations(ctx, limit)
	if err != nil {
		return summary, err
	}

	canQuery := uc.gateway.CanQueryStatus()
	for _, task := range tasks {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		// Another path may have settled the transaction already; the
		// task just needs closing.
		if task.TxStatus == domain.StatusSucceeded || task.TxStatus == domain.StatusFailed {
			if _, err := uc.ledger.ResolveReconciliationTerminal(ctx, task.TaskID); err != nil {
				return summary, err
			}
			summary.Resolved++
			continue
		}

		if !canQuery {
			summary.Pending++
			continue
		}

		result := uc.gateway.QueryStatus(ctx, task.IdempotencyKey, task.Reference)
		switch result.Outcome {
		case domain.OutcomeSuccess:
			status, err := uc.ledger.ResolveReconciliationSuccess(ctx, task.TaskID, result.Reference)
			if err != nil {
				return summary, err
			}
			if status == repository.ReconcileApplied {
				summary.ResolvedSuccess++
				uc.logger.Info("reconciliation confirmed success",
					zap.Int64("tx_id", task.TransactionID),
					zap.String("reference", result.Reference))
				uc.publish(ctx, task, string(domain.StatusSucceeded), "", result.Reference)
			}
		case domain.OutcomeFailure:
			status, err := uc.ledger.ResolveReconciliationFailure(ctx, task.TaskID, result.Reason)
			if err != nil {
				return summary, err
			}
			if status == repository.ReconcileApplied {
				summary.ResolvedFailure++
				uc.logger.Warn("reconciliation confirmed failure, refunded",
					zap.Int64("tx_id", task.TransactionID),
					zap.String("reason", result.Reason))
				uc.publish(ctx, task, string(domain.StatusFailed), result.Reason, "")
			}
		default:
			summary.Pending++
			uc.logger.Warn("reconciliation still inconclusive",
				zap.Int64("tx_id", task.TransactionID),
				zap.String("reason", result.Reason))
		}
	}

	if !canQuery && summary.Pending > 0 {
		uc.logger.Warn("bank status lookup not configured, leaving tasks pending",
			zap.Int("pending", summary.Pending))
	}

	uc.logger.Info("reconciliation sweep done",
		zap.Int("stale_marked_unknown", summary.StaleMarkedUnknown),
		zap.Int("resolved_success", summary.ResolvedSuccess),
		zap.Int("resolved_failure", summary.ResolvedFailure),
		zap.Int("resolved", summary.Resolved),
		zap.Int("pending", summary.Pending))
	return summary, nil
}

func (uc *ReconciliationUsecase) publish(ctx context.Context, task *repository.PendingReconciliation, status, reason, bankRef string) {
	if err := uc.publisher.Publish(ctx, &pub.WalletEvent{
		EventType:     pub.EventWithdrawalReconciled,
		TransactionID: task.TransactionID,
		Amount:        task.Amount,
		Status:        status,
		Reason:        reason,
		BankReference: bankRef,
	}); err != nil {
		uc.logger.Warn("failed to publish reconciliation event",
			zap.Int64("tx_id", task.TransactionID),
			zap.Error(err))
	}
}
