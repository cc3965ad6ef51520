package repository

import (
	"context"
	"errors"
	"fmt"

	"wallet-service/internal/domain"
	"wallet-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WalletRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Wallet, error)
	GetByExternalID(ctx context.Context, externalID uuid.UUID) (*domain.Wallet, error)
	GetByIDWithLock(ctx context.Context, tx pgx.Tx, id int64) (*domain.Wallet, error)

	// Debit applies the decrement only if balance >= amount, in one
	// conditional update. Returns xerrors.ErrInsufficientFunds otherwise
	// without mutating.
	Debit(ctx context.Context, tx pgx.Tx, id int64, amount int64) error
	// Credit increments unconditionally (deposits and refunds).
	Credit(ctx context.Context, tx pgx.Tx, id int64, amount int64) error
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `id, external_id, balance, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.ExternalID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}

func (r *walletRepo) GetByID(ctx context.Context, id int64) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, id))
}

func (r *walletRepo) GetByExternalID(ctx context.Context, externalID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE external_id = $1`
	return scanWallet(r.db.QueryRow(ctx, query, externalID))
}

// GetByIDWithLock fetches the wallet with a pessimistic lock (SELECT FOR
// UPDATE). The wallet row is always locked before any dependent transaction
// row is mutated, keeping one lock order across all workers.
func (r *walletRepo) GetByIDWithLock(ctx context.Context, tx pgx.Tx, id int64) (*domain.Wallet, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil for locked query")
	}
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return scanWallet(tx.QueryRow(ctx, query, id))
}

func (r *walletRepo) Debit(ctx context.Context, tx pgx.Tx, id int64, amount int64) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	query := `
		UPDATE wallets
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
	`
	cmdTag, err := tx.Exec(ctx, query, amount, id)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrInsufficientFunds
	}
	return nil
}

func (r *walletRepo) Credit(ctx context.Context, tx pgx.Tx, id int64, amount int64) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	query := `
		UPDATE wallets
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
	`
	cmdTag, err := tx.Exec(ctx, query, amount, id)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return xerrors.ErrWalletNotFound
	}
	return nil
}
