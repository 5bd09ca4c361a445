package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger scopes. A person and a team each hold an independent balance.
const (
	CreditScopePerson = "person"
	CreditScopeTeam   = "team"
)

// Transaction types. The ledger is append-only; balances are a fold over
// signed amounts, never a mutable counter.
const (
	CreditTxReserve  = "reserve"
	CreditTxRefund   = "refund"
	CreditTxAllocate = "allocate"
	CreditTxTransfer = "transfer"
)

// CreditTransaction is an immutable ledger entry. Negative amounts are
// debits, positive amounts are credits/refunds.
type CreditTransaction struct {
	ID                  uuid.UUID  `json:"id"`
	Scope               string     `json:"scope"`
	ScopeID             uuid.UUID  `json:"scope_id"`
	Amount              int        `json:"amount"`
	Type                string     `json:"type"`
	RelatedGenerationID *uuid.UUID `json:"related_generation_id,omitempty"`
	Description         string     `json:"description"`
	CreatedAt           time.Time  `json:"created_at"`
}
