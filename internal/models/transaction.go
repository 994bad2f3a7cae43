package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types — the direction of money flow. Amounts are always
// positive; the type carries the sign.
const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
)

// Transaction statuses. Declined rows are kept forever — they are the
// audit trail for refused debits and transfers, excluded from balance
// computation and statement totals.
const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusPending  = "pending"
)

// Transaction is one immutable ledger entry. A plain credit sets only
// ToAccountID, a plain debit sets only FromAccountID. The two legs of
// a transfer share a TransferPairID, each leg scoped to its own
// account so a leg never shows up twice in one account's view.
type Transaction struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	Type           string        `json:"type" db:"type"`
	AmountCents    int64         `json:"amount_cents" db:"amount_cents"`
	FromAccountID  uuid.NullUUID `json:"from_account_id" db:"from_account_id"`
	ToAccountID    uuid.NullUUID `json:"to_account_id" db:"to_account_id"`
	Status         string        `json:"status" db:"status"`
	Description    string        `json:"description" db:"description"`
	TransferPairID uuid.NullUUID `json:"transfer_pair_id" db:"transfer_pair_id"`
	CardID         uuid.NullUUID `json:"card_id" db:"card_id"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// TransactionOutcome is the result of authorizing a single credit or
// debit. A declined outcome is a committed business result, not an
// error — the transaction row it carries has status "declined".
type TransactionOutcome struct {
	Approved    bool         `json:"approved"`
	Transaction *Transaction `json:"transaction"`
}

// TransferOutcome is the result of a two-leg transfer. Credit is nil
// when the transfer was declined: the credit side never existed.
type TransferOutcome struct {
	Approved       bool         `json:"approved"`
	TransferPairID uuid.UUID    `json:"transfer_pair_id"`
	Debit          *Transaction `json:"debit_transaction"`
	Credit         *Transaction `json:"credit_transaction,omitempty"`
}
