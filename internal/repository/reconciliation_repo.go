package repository

import (
	"context"
	"errors"
	"fmt"

	"wallet-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PendingReconciliation is a queued task joined with the fields the sweep
// needs to query the bank.
type PendingReconciliation struct {
	TaskID         int64
	TransactionID  int64
	WalletID       int64
	Amount         int64
	IdempotencyKey string
	Reference      string
	TxStatus       domain.TransactionStatus
}

type ReconciliationRepository interface {
	// EnsurePending creates the task if none exists for the transaction;
	// an existing task (any status) is left untouched. Returns whether a
	// row was created.
	EnsurePending(ctx context.Context, tx pgx.Tx, transactionID int64, reason string) (bool, error)
	ListPending(ctx context.Context, limit int) ([]*PendingReconciliation, error)
	GetByIDWithLock(ctx context.Context, tx pgx.Tx, taskID int64) (*domain.ReconciliationTask, error)
	Resolve(ctx context.Context, tx pgx.Tx, taskID int64, reason string) error
}

type reconciliationRepo struct {
	db *pgxpool.Pool
}

func NewReconciliationRepo(db *pgxpool.Pool) ReconciliationRepository {
	return &reconciliationRepo{db: db}
}

func (r *reconciliationRepo) EnsurePending(ctx context.Context, tx pgx.Tx, transactionID int64, reason string) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction cannot be nil")
	}
	query := `
		INSERT INTO reconciliation_tasks (transaction_id, reason, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id) DO NOTHING
	`
	cmdTag, err := tx.Exec(ctx, query, transactionID, reason, domain.ReconciliationPending)
	if err != nil {
		return false, fmt.Errorf("failed to queue reconciliation task: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

func (r *reconciliationRepo) ListPending(ctx context.Context, limit int) ([]*PendingReconciliation, error) {
	query := `
		SELECT rt.id, t.id, t.wallet_id, t.amount, t.idempotency_key,
		       COALESCE(t.external_reference, t.bank_reference, ''), t.status
		FROM reconciliation_tasks rt
		JOIN transactions t ON t.id = rt.transaction_id
		WHERE rt.status = $1
		ORDER BY rt.created_at, rt.id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, domain.ReconciliationPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reconciliations: %w", err)
	}
	defer rows.Close()

	var result []*PendingReconciliation
	for rows.Next() {
		var p PendingReconciliation
		err := rows.Scan(
			&p.TaskID,
			&p.TransactionID,
			&p.WalletID,
			&p.Amount,
			&p.IdempotencyKey,
			&p.Reference,
			&p.TxStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation row: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation rows: %w", err)
	}
	return result, nil
}

func (r *reconciliationRepo) GetByIDWithLock(ctx context.Context, tx pgx.Tx, taskID int64) (*domain.ReconciliationTask, error) {
	query := `
		SELECT id, transaction_id, reason, status, created_at, updated_at
		FROM reconciliation_tasks
		WHERE id = $1
		FOR UPDATE
	`
	var task domain.ReconciliationTask
	err := tx.QueryRow(ctx, query, taskID).Scan(
		&task.ID, &task.TransactionID, &task.Reason, &task.Status,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reconciliation task %d not found", taskID)
		}
		return nil, fmt.Errorf("failed to get reconciliation task: %w", err)
	}
	return &task, nil
}

func (r *reconciliationRepo) Resolve(ctx context.Context, tx pgx.Tx, taskID int64, reason string) error {
	query := `
		UPDATE reconciliation_tasks
		SET status = $2, reason = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, taskID, domain.ReconciliationResolved, reason)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation task: %w", err)
	}
	return nil
}
