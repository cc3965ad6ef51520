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

// TransactionFilter narrows ListByWallet. Zero values mean "no filter".
type TransactionFilter struct {
	Kind   domain.TransactionKind
	Status domain.TransactionStatus
	Limit  int
}

type TransactionRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, walletID int64, kind domain.TransactionKind, key string) (*domain.Transaction, error)
	ListByWallet(ctx context.Context, walletID int64, filter TransactionFilter) ([]*domain.Transaction, error)

	// Insert creates the row inside the caller's unit of work. A unique
	// violation on (wallet_id, kind, idempotency_key) is returned as-is so
	// the caller can resolve replay vs conflict against the winning row.
	Insert(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error

	// LockNextDue selects the oldest due SCHEDULED withdrawal with FOR
	// UPDATE SKIP LOCKED. Returns nil when nothing is due or everything due
	// is locked by a concurrent claimer.
	LockNextDue(ctx context.Context, tx pgx.Tx, now time.Time) (*domain.Transaction, error)
	// LockNextStale does the same for PROCESSING rows whose
	// processing_started_at is at or before staleBefore.
	LockNextStale(ctx context.Context, tx pgx.Tx, staleBefore time.Time) (*domain.Transaction, error)
	// GetByIDWithLock locks one row by id (plain FOR UPDATE).
	GetByIDWithLock(ctx context.Context, tx pgx.Tx, id int64) (*domain.Transaction, error)

	// MarkProcessing also refreshes processing_started_at on a row that is
	// already PROCESSING, which is how a stale re-claim takes ownership.
	MarkProcessing(ctx context.Context, tx pgx.Tx, id int64, startedAt time.Time) error
	MarkSucceeded(ctx context.Context, tx pgx.Tx, id int64, bankRef string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error
	MarkUnknown(ctx context.Context, tx pgx.Tx, id int64, reason string) error
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, wallet_id, kind, status, amount, execute_at, idempotency_key,
	payload_fingerprint, external_reference, bank_reference, failure_reason,
	processing_started_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.WalletID,
		&t.Kind,
		&t.Status,
		&t.Amount,
		&t.ExecuteAt,
		&t.IdempotencyKey,
		&t.PayloadFingerprint,
		&t.ExternalReference,
		&t.BankReference,
		&t.FailureReason,
		&t.ProcessingStartedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &t, nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, id))
}

func (r *transactionRepo) GetByIdempotencyKey(ctx context.Context, walletID int64, kind domain.TransactionKind, key string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE wallet_id = $1 AND kind = $2 AND idempotency_key = $3
	`
	return scanTransaction(r.db.QueryRow(ctx, query, walletID, kind, key))
}

func (r *transactionRepo) ListByWallet(ctx context.Context, walletID int64, filter TransactionFilter) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE wallet_id = $1`
	args := []interface{}{walletID}

	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return result, nil
}

func (r *transactionRepo) Insert(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	query := `
		INSERT INTO transactions
			(wallet_id, kind, status, amount, execute_at, idempotency_key,
			 payload_fingerprint, failure_reason, processing_started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	return tx.QueryRow(ctx, query,
		txn.WalletID, txn.Kind, txn.Status, txn.Amount, txn.ExecuteAt,
		txn.IdempotencyKey, txn.PayloadFingerprint, txn.FailureReason,
		txn.ProcessingStartedAt,
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
}

func (r *transactionRepo) LockNextDue(ctx context.Context, tx pgx.Tx, now time.Time) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE kind = $1 AND status = $2 AND execute_at <= $3
		ORDER BY execute_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	t, err := scanTransaction(tx.QueryRow(ctx, query, domain.KindWithdrawal, domain.StatusScheduled, now))
	if errors.Is(err, xerrors.ErrTransactionNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *transactionRepo) LockNextStale(ctx context.Context, tx pgx.Tx, staleBefore time.Time) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE kind = $1 AND status = $2 AND processing_started_at <= $3
		ORDER BY processing_started_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	t, err := scanTransaction(tx.QueryRow(ctx, query, domain.KindWithdrawal, domain.StatusProcessing, staleBefore))
	if errors.Is(err, xerrors.ErrTransactionNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *transactionRepo) GetByIDWithLock(ctx context.Context, tx pgx.Tx, id int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

func (r *transactionRepo) MarkProcessing(ctx context.Context, tx pgx.Tx, id int64, startedAt time.Time) error {
	query := `
		UPDATE transactions
		SET status = $2, processing_started_at = $3, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, id, domain.StatusProcessing, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark transaction processing: %w", err)
	}
	return nil
}

func (r *transactionRepo) MarkSucceeded(ctx context.Context, tx pgx.Tx, id int64, bankRef string) error {
	query := `
		UPDATE transactions
		SET status = $2, external_reference = $3, bank_reference = $3,
		    failure_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, id, domain.StatusSucceeded, bankRef)
	if err != nil {
		return fmt.Errorf("failed to mark transaction succeeded: %w", err)
	}
	return nil
}

func (r *transactionRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	query := `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, id, domain.StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	return nil
}

func (r *transactionRepo) MarkUnknown(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	query := `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := tx.Exec(ctx, query, id, domain.StatusUnknown, reason)
	if err != nil {
		return fmt.Errorf("failed to mark transaction unknown: %w", err)
	}
	return nil
}
