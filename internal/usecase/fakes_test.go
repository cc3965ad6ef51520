package usecase

import (
	"context"
	"sync"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/internal/pub"
	"wallet-service/internal/repository"
	"wallet-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fakeLedger implements repository.LedgerRepository with overridable
// function fields. Unset methods return zero values.
type fakeLedger struct {
	depositFn            func(ctx context.Context, walletID, amount int64, key, fingerprint string) (*domain.Transaction, bool, error)
	scheduleWithdrawalFn func(ctx context.Context, walletID, amount int64, executeAt time.Time, key, fingerprint string) (*domain.Transaction, bool, error)
	claimNextDueFn       func(ctx context.Context, now time.Time) (*repository.ClaimResult, error)
	claimNextStaleFn     func(ctx context.Context, now, staleBefore time.Time) (*repository.ClaimedWithdrawal, error)
	markStaleUnknownFn   func(ctx context.Context, staleBefore time.Time, limit int) (int, error)
	finalizeSuccessFn    func(ctx context.Context, transactionID int64, bankRef string) (repository.FinalizeStatus, error)
	finalizeFailureFn    func(ctx context.Context, transactionID int64, reason string) (repository.FinalizeStatus, error)
	markUnknownFn        func(ctx context.Context, transactionID int64, reason string) (repository.FinalizeStatus, error)
	listPendingFn        func(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error)
	resolveTerminalFn    func(ctx context.Context, taskID int64) (repository.ReconcileStatus, error)
	resolveSuccessFn     func(ctx context.Context, taskID int64, bankRef string) (repository.ReconcileStatus, error)
	resolveFailureFn     func(ctx context.Context, taskID int64, reason string) (repository.ReconcileStatus, error)
}

func (f *fakeLedger) Deposit(ctx context.Context, walletID, amount int64, key, fingerprint string) (*domain.Transaction, bool, error) {
	if f.depositFn != nil {
		return f.depositFn(ctx, walletID, amount, key, fingerprint)
	}
	return nil, false, nil
}

func (f *fakeLedger) ScheduleWithdrawal(ctx context.Context, walletID, amount int64, executeAt time.Time, key, fingerprint string) (*domain.Transaction, bool, error) {
	if f.scheduleWithdrawalFn != nil {
		return f.scheduleWithdrawalFn(ctx, walletID, amount, executeAt, key, fingerprint)
	}
	return nil, false, nil
}

func (f *fakeLedger) ClaimNextDue(ctx context.Context, now time.Time) (*repository.ClaimResult, error) {
	if f.claimNextDueFn != nil {
		return f.claimNextDueFn(ctx, now)
	}
	return nil, nil
}

func (f *fakeLedger) ClaimNextStale(ctx context.Context, now, staleBefore time.Time) (*repository.ClaimedWithdrawal, error) {
	if f.claimNextStaleFn != nil {
		return f.claimNextStaleFn(ctx, now, staleBefore)
	}
	return nil, nil
}

func (f *fakeLedger) MarkStaleUnknown(ctx context.Context, staleBefore time.Time, limit int) (int, error) {
	if f.markStaleUnknownFn != nil {
		return f.markStaleUnknownFn(ctx, staleBefore, limit)
	}
	return 0, nil
}

func (f *fakeLedger) FinalizeSuccess(ctx context.Context, transactionID int64, bankRef string) (repository.FinalizeStatus, error) {
	if f.finalizeSuccessFn != nil {
		return f.finalizeSuccessFn(ctx, transactionID, bankRef)
	}
	return repository.FinalizeApplied, nil
}

func (f *fakeLedger) FinalizeFailure(ctx context.Context, transactionID int64, reason string) (repository.FinalizeStatus, error) {
	if f.finalizeFailureFn != nil {
		return f.finalizeFailureFn(ctx, transactionID, reason)
	}
	return repository.FinalizeApplied, nil
}

func (f *fakeLedger) MarkUnknown(ctx context.Context, transactionID int64, reason string) (repository.FinalizeStatus, error) {
	if f.markUnknownFn != nil {
		return f.markUnknownFn(ctx, transactionID, reason)
	}
	return repository.FinalizeApplied, nil
}

func (f *fakeLedger) ListPendingReconciliations(ctx context.Context, limit int) ([]*repository.PendingReconciliation, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeLedger) ResolveReconciliationTerminal(ctx context.Context, taskID int64) (repository.ReconcileStatus, error) {
	if f.resolveTerminalFn != nil {
		return f.resolveTerminalFn(ctx, taskID)
	}
	return repository.ReconcileApplied, nil
}

func (f *fakeLedger) ResolveReconciliationSuccess(ctx context.Context, taskID int64, bankRef string) (repository.ReconcileStatus, error) {
	if f.resolveSuccessFn != nil {
		return f.resolveSuccessFn(ctx, taskID, bankRef)
	}
	return repository.ReconcileApplied, nil
}

func (f *fakeLedger) ResolveReconciliationFailure(ctx context.Context, taskID int64, reason string) (repository.ReconcileStatus, error) {
	if f.resolveFailureFn != nil {
		return f.resolveFailureFn(ctx, taskID, reason)
	}
	return repository.ReconcileApplied, nil
}

// fakeWallets resolves external refs against a fixed map.
type fakeWallets struct {
	byExternal map[uuid.UUID]*domain.Wallet
	byID       map[int64]*domain.Wallet
	err        error
}

func (f *fakeWallets) GetByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	if f.err != nil {
		return nil, f.err
	}
	w, ok := f.byID[id]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return w, nil
}

func (f *fakeWallets) GetByExternalID(ctx context.Context, externalID uuid.UUID) (*domain.Wallet, error) {
	if f.err != nil {
		return nil, f.err
	}
	w, ok := f.byExternal[externalID]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	return w, nil
}

func (f *fakeWallets) GetByIDWithLock(ctx context.Context, tx pgx.Tx, id int64) (*domain.Wallet, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeWallets) Debit(ctx context.Context, tx pgx.Tx, walletID, amount int64) error {
	return nil
}

func (f *fakeWallets) Credit(ctx context.Context, tx pgx.Tx, walletID, amount int64) error {
	return nil
}

// fakeTxns covers the read paths the usecases exercise; the locked write
// paths belong to the ledger and are never called here.
type fakeTxns struct {
	getFn  func(ctx context.Context, id int64) (*domain.Transaction, error)
	listFn func(ctx context.Context, walletID int64, filter repository.TransactionFilter) ([]*domain.Transaction, error)
}

func (f *fakeTxns) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return nil, xerrors.ErrTransactionNotFound
}

func (f *fakeTxns) GetByIdempotencyKey(ctx context.Context, walletID int64, kind domain.TransactionKind, key string) (*domain.Transaction, error) {
	return nil, xerrors.ErrTransactionNotFound
}

func (f *fakeTxns) ListByWallet(ctx context.Context, walletID int64, filter repository.TransactionFilter) ([]*domain.Transaction, error) {
	if f.listFn != nil {
		return f.listFn(ctx, walletID, filter)
	}
	return nil, nil
}

func (f *fakeTxns) Insert(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error { return nil }

func (f *fakeTxns) LockNextDue(ctx context.Context, tx pgx.Tx, now time.Time) (*domain.Transaction, error) {
	return nil, nil
}

func (f *fakeTxns) LockNextStale(ctx context.Context, tx pgx.Tx, staleBefore time.Time) (*domain.Transaction, error) {
	return nil, nil
}

func (f *fakeTxns) GetByIDWithLock(ctx context.Context, tx pgx.Tx, id int64) (*domain.Transaction, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeTxns) MarkProcessing(ctx context.Context, tx pgx.Tx, id int64, startedAt time.Time) error {
	return nil
}

func (f *fakeTxns) MarkSucceeded(ctx context.Context, tx pgx.Tx, id int64, bankRef string) error {
	return nil
}

func (f *fakeTxns) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	return nil
}

func (f *fakeTxns) MarkUnknown(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	return nil
}

// fakeGateway returns scripted transfer results in order.
type fakeGateway struct {
	mu            sync.Mutex
	transferOut   []domain.TransferResult
	transferCalls []string
	statusOut     domain.TransferResult
	statusCalls   int
	canQuery      bool
}

func (g *fakeGateway) Transfer(ctx context.Context, idempotencyKey, walletRef string, amount int64) domain.TransferResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls = append(g.transferCalls, idempotencyKey)
	if len(g.transferOut) == 0 {
		return domain.UnknownResult("unscripted")
	}
	out := g.transferOut[0]
	g.transferOut = g.transferOut[1:]
	return out
}

func (g *fakeGateway) CanQueryStatus() bool { return g.canQuery }

func (g *fakeGateway) QueryStatus(ctx context.Context, idempotencyKey, reference string) domain.TransferResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	return g.statusOut
}

// capturingPublisher records published events.
type capturingPublisher struct {
	mu     sync.Mutex
	events []*pub.WalletEvent
}

func (p *capturingPublisher) Publish(ctx context.Context, event *pub.WalletEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) byType(eventType string) []*pub.WalletEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*pub.WalletEvent
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
