package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-service/internal/domain"
	"wallet-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ClaimOutcome string

const (
	ClaimOutcomeClaimed           ClaimOutcome = "claimed"
	ClaimOutcomeInsufficientFunds ClaimOutcome = "insufficient_funds"
)

// ClaimedWithdrawal carries everything the executor needs to call the bank
// without touching the database again.
type ClaimedWithdrawal struct {
	TransactionID  int64
	WalletID       int64
	WalletRef      string
	Amount         int64
	IdempotencyKey string
}

type ClaimResult struct {
	Outcome       ClaimOutcome
	TransactionID int64
	Claim         *ClaimedWithdrawal
}

type FinalizeStatus string

const (
	// FinalizeApplied: the row was still PROCESSING and the outcome was
	// recorded.
	FinalizeApplied FinalizeStatus = "applied"
	// FinalizeSkipped: another worker already finalized the row.
	FinalizeSkipped FinalizeStatus = "skipped"
)

type ReconcileStatus string

const (
	ReconcileApplied ReconcileStatus = "applied"
	ReconcileSkipped ReconcileStatus = "skipped"
)

// LedgerRepository groups the all-or-nothing operations of the settlement
// engine. Every method runs in a single database transaction; the wallet row
// lock is always held before the associated transaction row is mutated.
type LedgerRepository interface {
	Deposit(ctx context.Context, walletID, amount int64, key, fingerprint string) (*domain.Transaction, bool, error)
	ScheduleWithdrawal(ctx context.Context, walletID, amount int64, executeAt time.Time, key, fingerprint string) (*domain.Transaction, bool, error)

	// ClaimNextDue claims the oldest due SCHEDULED withdrawal: debit +
	// PROCESSING commit together. Returns nil when nothing could be
	// claimed.
	ClaimNextDue(ctx context.Context, now time.Time) (*ClaimResult, error)
	// ClaimNextStale claims the oldest stale PROCESSING withdrawal for a
	// re-send with its original idempotency key. The row keeps its debit
	// and stays PROCESSING; only processing_started_at moves forward so
	// other workers skip it. Returns nil when nothing is stale. Only safe
	// when the bank honors idempotency keys on retry.
	ClaimNextStale(ctx context.Context, now, staleBefore time.Time) (*ClaimedWithdrawal, error)
	// MarkStaleUnknown moves stale PROCESSING rows to UNKNOWN and queues
	// reconciliation, for deployments that must never replay blindly.
	MarkStaleUnknown(ctx context.Context, staleBefore time.Time, limit int) (int, error)

	FinalizeSuccess(ctx context.Context, transactionID int64, bankRef string) (FinalizeStatus, error)
	// FinalizeFailure records a definite rejection and refunds the debit.
	FinalizeFailure(ctx context.Context, transactionID int64, reason string) (FinalizeStatus, error)
	// MarkUnknown records an ambiguous outcome without refunding and queues
	// the transaction for reconciliation.
	MarkUnknown(ctx context.Context, transactionID int64, reason string) (FinalizeStatus, error)

	ListPendingReconciliations(ctx context.Context, limit int) ([]*PendingReconciliation, error)
	ResolveReconciliationTerminal(ctx context.Context, taskID int64) (ReconcileStatus, error)
	ResolveReconciliationSuccess(ctx context.Context, taskID int64, bankRef string) (ReconcileStatus, error)
	ResolveReconciliationFailure(ctx context.Context, taskID int64, reason string) (ReconcileStatus, error)
}

type ledgerRepo struct {
	db      *pgxpool.Pool
	wallets WalletRepository
	txns    TransactionRepository
	recons  ReconciliationRepository
}

func NewLedgerRepo(db *pgxpool.Pool, wallets WalletRepository, txns TransactionRepository, recons ReconciliationRepository) LedgerRepository {
	return &ledgerRepo{db: db, wallets: wallets, txns: txns, recons: recons}
}

func (r *ledgerRepo) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resolveReplay decides REPLAY vs CONFLICT against the row that won the
// unique-index race.
func (r *ledgerRepo) resolveReplay(ctx context.Context, walletID int64, kind domain.TransactionKind, key, fingerprint string) (*domain.Transaction, error) {
	existing, err := r.txns.GetByIdempotencyKey(ctx, walletID, kind, key)
	if err != nil {
		return nil, err
	}
	if existing.PayloadFingerprint != fingerprint {
		return nil, xerrors.ErrIdempotencyConflict
	}
	return existing, nil
}

func (r *ledgerRepo) Deposit(ctx context.Context, walletID, amount int64, key, fingerprint string) (*domain.Transaction, bool, error) {
	txn := &domain.Transaction{
		WalletID:           walletID,
		Kind:               domain.KindDeposit,
		Status:             domain.StatusSucceeded,
		Amount:             amount,
		IdempotencyKey:     key,
		PayloadFingerprint: fingerprint,
	}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := r.wallets.GetByIDWithLock(ctx, tx, walletID); err != nil {
			return err
		}
		if err := r.txns.Insert(ctx, tx, txn); err != nil {
			return err
		}
		return r.wallets.Credit(ctx, tx, walletID, amount)
	})
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			existing, rerr := r.resolveReplay(ctx, walletID, domain.KindDeposit, key, fingerprint)
			if rerr != nil {
				return nil, false, rerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return txn, true, nil
}

func (r *ledgerRepo) ScheduleWithdrawal(ctx context.Context, walletID, amount int64, executeAt time.Time, key, fingerprint string) (*domain.Transaction, bool, error) {
	txn := &domain.Transaction{
		WalletID:           walletID,
		Kind:               domain.KindWithdrawal,
		Status:             domain.StatusScheduled,
		Amount:             amount,
		ExecuteAt:          &executeAt,
		IdempotencyKey:     key,
		PayloadFingerprint: fingerprint,
	}

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		return r.txns.Insert(ctx, tx, txn)
	})
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			existing, rerr := r.resolveReplay(ctx, walletID, domain.KindWithdrawal, key, fingerprint)
			if rerr != nil {
				return nil, false, rerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return txn, true, nil
}

func (r *ledgerRepo) ClaimNextDue(ctx context.Context, now time.Time) (*ClaimResult, error) {
	var result *ClaimResult

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		txn, err := r.txns.LockNextDue(ctx, tx, now)
		if err != nil {
			return err
		}
		if txn == nil {
			return nil
		}

		wallet, err := r.wallets.GetByIDWithLock(ctx, tx, txn.WalletID)
		if err != nil {
			return err
		}

		if err := r.wallets.Debit(ctx, tx, wallet.ID, txn.Amount); err != nil {
			if errors.Is(err, xerrors.ErrInsufficientFunds) {
				if merr := r.txns.MarkFailed(ctx, tx, txn.ID, "insufficient_funds"); merr != nil {
					return merr
				}
				result = &ClaimResult{
					Outcome:       ClaimOutcomeInsufficientFunds,
					TransactionID: txn.ID,
				}
				return nil
			}
			return err
		}

		if err := r.txns.MarkProcessing(ctx, tx, txn.ID, now); err != nil {
			return err
		}
		result = &ClaimResult{
			Outcome:       ClaimOutcomeClaimed,
			TransactionID: txn.ID,
			Claim: &ClaimedWithdrawal{
				TransactionID:  txn.ID,
				WalletID:       wallet.ID,
				WalletRef:      wallet.ExternalID.String(),
				Amount:         txn.Amount,
				IdempotencyKey: txn.IdempotencyKey,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *ledgerRepo) ClaimNextStale(ctx context.Context, now, staleBefore time.Time) (*ClaimedWithdrawal, error) {
	var claim *ClaimedWithdrawal

	err := r.withTx(ctx, func(tx pgx.Tx) error {
		txn, err := r.txns.LockNextStale(ctx, tx, staleBefore)
		if err != nil {
			return err
		}
		if txn == nil {
			return nil
		}

		wallet, err := r.wallets.GetByIDWithLock(ctx, tx, txn.WalletID)
		if err != nil {
			return err
		}

		// The debit from the original attempt stands. Refreshing the
		// ownership timestamp is enough; refunding here would let the
		// funds be spent elsewhere while the first transfer may
		// already have cleared at the bank.
		if err := r.txns.MarkProcessing(ctx, tx, txn.ID, now); err != nil {
			return err
		}
		claim = &ClaimedWithdrawal{
			TransactionID:  txn.ID,
			WalletID:       wallet.ID,
			WalletRef:      wallet.ExternalID.String(),
			Amount:         txn.Amount,
			IdempotencyKey: txn.IdempotencyKey,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (r *ledgerRepo) MarkStaleUnknown(ctx context.Context, staleBefore time.Time, limit int) (int, error) {
	marked := 0
	for marked < limit {
		done := false
		err := r.withTx(ctx, func(tx pgx.Tx) error {
			txn, err := r.txns.LockNextStale(ctx, tx, staleBefore)
			if err != nil {
				return err
			}
			if txn == nil {
				done = true
				return nil
			}
			if err := r.txns.MarkUnknown(ctx, tx, txn.ID, domain.ReasonStaleWithoutIdempotency); err != nil {
				return err
			}
			_, err = r.recons.EnsurePending(ctx, tx, txn.ID, domain.ReasonStaleWithoutIdempotency)
			return err
		})
		if err != nil {
			return marked, err
		}
		if done {
			break
		}
		marked++
	}
	return marked, nil
}

func (r *ledgerRepo) FinalizeSuccess(ctx context.Context, transactionID int64, bankRef string) (FinalizeStatus, error) {
	status := FinalizeSkipped
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		txn, err := r.txns.GetByIDWithLock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(txn.Status, domain.StatusSucceeded) {
			return nil
		}
		if _, err := r.wallets.GetByIDWithLock(ctx, tx, txn.WalletID); err != nil {
			return err
		}
		if err := r.txns.MarkSucceeded(ctx, tx, txn.ID, bankRef); err != nil {
			return err
		}
		status = FinalizeApplied
		return nil
	})
	return status, err
}

func (r *ledgerRepo) FinalizeFailure(ctx context.Context, transactionID int64, reason string) (FinalizeStatus, error) {
	status := FinalizeSkipped
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		txn, err := r.txns.GetByIDWithLock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(txn.Status, domain.StatusFailed) {
			return nil
		}
		if _, err := r.wallets.GetByIDWithLock(ctx, tx, txn.WalletID); err != nil {
			return err
		}
		if err := r.wallets.Credit(ctx, tx, txn.WalletID, txn.Amount); err != nil {
			return err
		}
		if err := r.txns.MarkFailed(ctx, tx, txn.ID, reason); err != nil {
			return err
		}
		status = FinalizeApplied
		return nil
	})
	return status, err
}

func (r *ledgerRepo) MarkUnknown(ctx context.Context, transactionID int64, reason string) (FinalizeStatus, error) {
	status := FinalizeSkipped
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		txn, err := r.txns.GetByIDWithLock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(txn.Status, domain.StatusUnknown) {
			return nil
		}
		if err := r.txns.MarkUnknown(ctx, tx, txn.ID, reason); err != nil {
			return err
		}
		if _, err := r.recons.EnsurePending(ctx, tx, txn.ID, domain.ReasonUnknownTransferOutcome); err != nil {
			return err
		}
		status = FinalizeApplied
		return nil
	})
	return status, err
}

func (r *ledgerRepo) ListPendingReconciliations(ctx context.Context, limit int) ([]*PendingReconciliation, error) {
	return r.recons.ListPending(ctx, limit)
}

func (r *ledgerRepo) ResolveReconciliationTerminal(ctx context.Context, taskID int64) (ReconcileStatus, error) {
	status := ReconcileSkipped
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		task, err := r.recons.GetByIDWithLock(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.ReconciliationPending {
			return nil
		}
		if err := r.recons.Resolve(ctx, tx, taskID, domain.ReasonAlreadyTerminal); err != nil {
			return err
		}
		status = ReconcileApplied
		return nil
	})
	return status, err
}

func (r *ledgerRepo) ResolveReconciliationSuccess(ctx context.Context, taskID int64, bankRef string) (ReconcileStatus, error) {
	status := ReconcileSkipped
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		task, err := r.recons.GetByIDWithLock(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.ReconciliationPending {
			return nil
		}
		txn, err := r.txns.GetByIDWithLock(ctx, tx, task.TransactionID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(txn.Status, domain.StatusSucceeded) {
			return r.recons.Resolve(ctx, tx, taskID, domain.ReasonAlreadyTerminal)
		}
		if _, err := r.wallets.GetByIDWithLock(ctx, tx, txn.WalletID); err != nil {
			return err
		}
		// Money already moved on the bank side; no refund.
		if err := r.txns.MarkSucceeded(ctx, tx, txn.ID, bankRef); err != nil {
			return err
		}
		if err := r.recons.Resolve(ctx, tx, taskID, domain.ReasonReconciledSuccess); err != nil {
			return err
		}
		status = ReconcileApplied
		return nil
	})
	return status, err
}

func (r *ledgerRepo) ResolveReconciliationFailure(ctx context.Context, taskID int64, reason string) (ReconcileStatus, error) {
	status := ReconcileSkipped
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		task, err := r.recons.GetByIDWithLock(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.ReconciliationPending {
			return nil
		}
		txn, err := r.txns.GetByIDWithLock(ctx, tx, task.TransactionID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(txn.Status, domain.StatusFailed) {
			return r.recons.Resolve(ctx, tx, taskID, domain.ReasonAlreadyTerminal)
		}
		if _, err := r.wallets.GetByIDWithLock(ctx, tx, txn.WalletID); err != nil {
			return err
		}
		if err := r.wallets.Credit(ctx, tx, txn.WalletID, txn.Amount); err != nil {
			return err
		}
		if err := r.txns.MarkFailed(ctx, tx, txn.ID, reason); err != nil {
			return err
		}
		if err := r.recons.Resolve(ctx, tx, taskID, domain.ReasonReconciledFailure); err != nil {
			return err
		}
		status = ReconcileApplied
		return nil
	})
	return status, err
}
