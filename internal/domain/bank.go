package domain

import "context"

type TransferOutcome string

const (
	// OutcomeSuccess: the bank confirmed the transfer.
	OutcomeSuccess TransferOutcome = "SUCCESS"
	// OutcomeFailure: the bank explicitly rejected the transfer. Safe to
	// refund the debit.
	OutcomeFailure TransferOutcome = "FAILURE"
	// OutcomeUnknown: the result could not be confidently classified. The
	// money may have moved; refunding would risk a double payout, so the
	// transaction goes to reconciliation instead.
	OutcomeUnknown TransferOutcome = "UNKNOWN"
)

type TransferResult struct {
	Outcome   TransferOutcome
	Reference string
	Reason    string
}

func UnknownResult(reason string) TransferResult {
	return TransferResult{Outcome: OutcomeUnknown, Reason: reason}
}

// BankGateway is the outbound surface to the external bank. Implementations
// own timeouts, retries and rate limiting; callers only branch on the
// classified outcome.
type BankGateway interface {
	Transfer(ctx context.Context, idempotencyKey, walletRef string, amount int64) TransferResult
	// CanQueryStatus reports whether a status-lookup endpoint is configured.
	CanQueryStatus() bool
	// QueryStatus resolves an earlier ambiguous transfer by idempotency key
	// or bank reference. Used only by the reconciliation sweep.
	QueryStatus(ctx context.Context, idempotencyKey, reference string) TransferResult
}
