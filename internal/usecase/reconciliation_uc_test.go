package usecase

import (
	"context"
	"testing"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRecon(ledger repository.LedgerRepository, gateway domain.BankGateway, publisher pub.Publisher) *ReconciliationUsecase {
	uc := NewReconciliationUsecase(ledger, gateway, publisher, 5*time.Minute, zap.NewNop())
	uc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return uc
}

func pendingTask(taskID, txID int64, status domain.TransactionStatus) *repository.PendingReconciliation {
	return &repository.PendingReconciliation{
		TaskID:         taskID,
		TransactionID:  txID,
		WalletID:       1,
		Amount:         500,
		IdempotencyKey: "key-1",
		Reference:      "bank-ref-1",
		TxStatus:       status,
	}
}

func TestReconMarksTimedOutProcessing(t *testing.T) {
	var gotStaleBefore time.Time
	ledger := &fakeLedger{
		markStaleUnknownFn: func(ctx context.Context, staleBefore time.Time, limit int) (int, error) {
			gotStaleBefore = staleBefore
			return 2, nil
		},
	}
	uc := newTestRecon(ledger, &fakeGateway{}, &capturingPublisher{})

	summary, err := uc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.StaleMarkedUnknown)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 55, 0, 0, time.UTC), gotStaleBefore)
}

func TestReconTerminalTransactionClosesTask(t *testing.T) {
	var resolvedTask int64
	ledger := &fakeLedger{
		listPendingFn: func(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error) {
			return []*repository.PendingReconciliation{pendingTask(1, 100, domain.StatusSucceeded)}, nil
		},
		resolveTerminalFn: func(ctx context.Context, taskID int64) (repository.ReconcileStatus, error) {
			resolvedTask = taskID
			return repository.ReconcileApplied, nil
		},
	}
	gateway := &fakeGateway{canQuery: true}
	uc := newTestRecon(ledger, gateway, &capturingPublisher{})

	summary, err := uc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, int64(1), resolvedTask)
	assert.Zero(t, gateway.statusCalls)
}

func TestReconConfirmedSuccessNoRefund(t *testing.T) {
	var successTask int64
	ledger := &fakeLedger{
		listPendingFn: func(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error) {
			return []*repository.PendingReconciliation{pendingTask(2, 101, domain.StatusUnknown)}, nil
		},
		resolveSuccessFn: func(ctx context.Context, taskID int64, bankRef string) (repository.ReconcileStatus, error) {
			successTask = taskID
			assert.Equal(t, "bank-ref-final", bankRef)
			return repository.ReconcileApplied, nil
		},
		resolveFailureFn: func(ctx context.Context, taskID int64, reason string) (repository.ReconcileStatus, error) {
			t.Fatal("confirmed success must never refund")
			return repository.ReconcileSkipped, nil
		},
	}
	gateway := &fakeGateway{
		canQuery:  true,
		statusOut: domain.TransferResult{Outcome: domain.OutcomeSuccess, Reference: "bank-ref-final"},
	}
	publisher := &capturingPublisher{}
	uc := newTestRecon(ledger, gateway, publisher)

	summary, err := uc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.ResolvedSuccess)
	assert.Equal(t, int64(2), successTask)
	require.Len(t, publisher.byType(pub.EventWithdrawalReconciled), 1)
	assert.Equal(t, string(domain.StatusSucceeded), publisher.events[0].Status)
}

func TestReconConfirmedFailureRefunds(t *testing.T) {
	var failureReason string
	ledger := &fakeLedger{
		listPendingFn: func(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error) {
			return []*repository.PendingReconciliation{pendingTask(3, 102, domain.StatusUnknown)}, nil
		},
		resolveFailureFn: func(ctx context.Context, taskID int64, reason string) (repository.ReconcileStatus, error) {
			failureReason = reason
			return repository.ReconcileApplied, nil
		},
	}
	gateway := &fakeGateway{
		canQuery:  true,
		statusOut: domain.TransferResult{Outcome: domain.OutcomeFailure, Reason: "transfer_not_found"},
	}
	publisher := &capturingPublisher{}
	uc := newTestRecon(ledger, gateway, publisher)

	summary, err := uc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.ResolvedFailure)
	assert.Equal(t, "transfer_not_found", failureReason)
	assert.Len(t, publisher.byType(pub.EventWithdrawalReconciled), 1)
}

func TestReconInconclusiveStaysPending(t *testing.T) {
	ledger := &fakeLedger{
		listPendingFn: func(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error) {
			return []*repository.PendingReconciliation{pendingTask(4, 103, domain.StatusUnknown)}, nil
		},
		resolveSuccessFn: func(ctx context.Context, taskID int64, bankRef string) (repository.ReconcileStatus, error) {
			t.Fatal("inconclusive status must not resolve")
			return repository.ReconcileSkipped, nil
		},
	}
	gateway := &fakeGateway{
		canQuery:  true,
		statusOut: domain.UnknownResult("status_still_pending"),
	}
	uc := newTestRecon(ledger, gateway, &capturingPublisher{})

	summary, err := uc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 0, summary.ResolvedSuccess+summary.ResolvedFailure)
}

func TestReconWithoutStatusEndpoint(t *testing.T) {
	ledger := &fakeLedger{
		listPendingFn: func(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error) {
			return []*repository.PendingReconciliation{
				pendingTask(5, 104, domain.StatusUnknown),
				pendingTask(6, 105, domain.StatusUnknown),
			}, nil
		},
	}
	gateway := &fakeGateway{canQuery: false}
	uc := newTestRecon(ledger, gateway, &capturingPublisher{})

	summary, err := uc.Run(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pending)
	assert.Zero(t, gateway.statusCalls)
}

func TestReconZeroLimitIsNoop(t *testing.T) {
	ledger := &fakeLedger{
		markStaleUnknownFn: func(ctx context.Context, staleBefore time.Time, limit int) (int, error) {
			t.Fatal("zero limit must not touch the store")
			return 0, nil
		},
	}
	uc := newTestRecon(ledger, &fakeGateway{}, &capturingPublisher{})

	summary, err := uc.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, summary)
}
