package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const WalletEventsChannel = "wallet_events"

// Event types emitted by the settlement engine.
const (
	EventDepositCompleted     = "deposit.completed"
	EventWithdrawalSucceeded  = "withdrawal.succeeded"
	EventWithdrawalFailed     = "withdrawal.failed"
	EventWithdrawalUnknown    = "withdrawal.unknown"
	EventWithdrawalReconciled = "withdrawal.reconciled"
)

type WalletEvent struct {
	EventType     string    `json:"event_type"`
	TransactionID int64     `json:"transaction_id"`
	WalletRef     string    `json:"wallet_ref,omitempty"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	BankReference string    `json:"bank_reference,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher pushes settlement events onto redis pub/sub. Publishing is
// best-effort: a failed publish never fails a settlement.
type Publisher interface {
	Publish(ctx context.Context, event *WalletEvent) error
}

type redisPublisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) Publisher {
	return &redisPublisher{rdb: rdb}
}

func (p *redisPublisher) Publish(ctx context.Context, event *WalletEvent) error {
	event.Timestamp = time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, WalletEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopPublisher is used where eventing is not wired (tests, one-shot runs).
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event *WalletEvent) error { return nil }
