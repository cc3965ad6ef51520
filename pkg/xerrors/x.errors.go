package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
)

// Wallet / transaction domain
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("amount must be a positive integer in minor units")
	ErrInvalidExecuteAt    = errors.New("execute_at must be in the future")
	ErrIdempotencyConflict = errors.New("idempotency key already used with a different payload")
	ErrIdempotencyMismatch = errors.New("idempotency key mismatch between header and body")
	ErrIdempotencyMissing  = errors.New("idempotency key is required")
	ErrLockContention      = errors.New("row lock contention")
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation (23505), the race-loser signal for idempotent inserts.
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}

// IsLockContention reports whether err is a serialization failure (40001) or
// deadlock (40P01). Claim attempts hitting these are retried, not surfaced.
func IsLockContention(err error) bool {
	if errors.Is(err, ErrLockContention) {
		return true
	}
	code := ParsePGErrorCode(err)
	return code == "40001" || code == "40P01"
}
