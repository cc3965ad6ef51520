package domain

import "time"

type ReconciliationStatus string

const (
	ReconciliationPending  ReconciliationStatus = "PENDING"
	ReconciliationResolved ReconciliationStatus = "RESOLVED"
)

// Reconciliation queue reasons.
const (
	ReasonUnknownTransferOutcome  = "UNKNOWN_TRANSFER_OUTCOME"
	ReasonProcessingTimeout       = "PROCESSING_TIMEOUT_RECONCILIATION_REQUIRED"
	ReasonStaleWithoutIdempotency = "STALE_PROCESSING_WITHOUT_BANK_IDEMPOTENCY"
	ReasonReconciledSuccess       = "RECONCILED_SUCCESS"
	ReasonReconciledFailure       = "RECONCILED_FINAL_FAILURE"
	ReasonAlreadyTerminal         = "ALREADY_TERMINAL"
)

// ReconciliationTask queues one UNKNOWN transaction for the sweep. At most one
// task exists per transaction.
type ReconciliationTask struct {
	ID            int64                `json:"id"`
	TransactionID int64                `json:"transaction_id"`
	Reason        string               `json:"reason"`
	Status        ReconciliationStatus `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}
