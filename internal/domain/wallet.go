package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a single balance in minor currency units. The balance is only
// ever mutated through conditional updates under a row lock; it can never go
// negative.
type Wallet struct {
	ID         int64     `json:"-"`
	ExternalID uuid.UUID `json:"id"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
