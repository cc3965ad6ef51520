package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"wallet-service/pkg/xerrors"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "DEPOSIT"
	KindWithdrawal TransactionKind = "WITHDRAWAL"
)

type TransactionStatus string

const (
	StatusScheduled  TransactionStatus = "SCHEDULED"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusSucceeded  TransactionStatus = "SUCCEEDED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusUnknown    TransactionStatus = "UNKNOWN"
)

func (k TransactionKind) Valid() bool {
	return k == KindDeposit || k == KindWithdrawal
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusProcessing, StatusSucceeded, StatusFailed, StatusUnknown:
		return true
	}
	return false
}

// Transaction is the ledger row for one deposit or withdrawal. Rows are never
// deleted; status moves forward through the settlement state machine only.
type Transaction struct {
	ID                  int64             `json:"id"`
	WalletID            int64             `json:"-"`
	Kind                TransactionKind   `json:"kind"`
	Status              TransactionStatus `json:"status"`
	Amount              int64             `json:"amount"`
	ExecuteAt           *time.Time        `json:"execute_at,omitempty"`
	IdempotencyKey      string            `json:"idempotency_key"`
	PayloadFingerprint  string            `json:"-"`
	ExternalReference   *string           `json:"external_reference,omitempty"`
	BankReference       *string           `json:"bank_reference,omitempty"`
	FailureReason       *string           `json:"failure_reason,omitempty"`
	ProcessingStartedAt *time.Time        `json:"-"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// allowed transitions of the settlement state machine
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusScheduled:  {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusSucceeded, StatusFailed, StatusUnknown},
	StatusUnknown:    {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether moving from one status to another is allowed.
// SCHEDULED -> FAILED is the insufficient-funds short circuit at claim time;
// terminal states have no outgoing edges. A stale PROCESSING withdrawal is
// re-dispatched in place rather than moved back, so PROCESSING has no edge to
// SCHEDULED.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return xerrors.ErrInvalidAmount
	}
	return nil
}

// ValidateDeposit checks the deposit request fields before any row is created.
func ValidateDeposit(amount int64) error {
	return validateAmount(amount)
}

// ValidateWithdrawal checks the scheduling request fields. executeAt must be
// strictly in the future at creation time.
func ValidateWithdrawal(amount int64, executeAt, now time.Time) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if executeAt.IsZero() || !executeAt.After(now) {
		return xerrors.ErrInvalidExecuteAt
	}
	return nil
}

// DepositFingerprint hashes the semantically relevant deposit fields so a
// reused idempotency key with a different payload is detected as a conflict.
func DepositFingerprint(amount int64) string {
	return fingerprint(fmt.Sprintf("%s|%d", KindDeposit, amount))
}

// WithdrawalFingerprint covers amount and execute_at truncated to seconds, so
// sub-second serialization noise does not break replays.
func WithdrawalFingerprint(amount int64, executeAt time.Time) string {
	return fingerprint(fmt.Sprintf("%s|%d|%d", KindWithdrawal, amount, executeAt.UTC().Unix()))
}

func fingerprint(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}
