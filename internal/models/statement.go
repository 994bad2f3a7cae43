package models

import (
	"github.com/google/uuid"
)

// Statement is a derived monthly view over an account's transaction
// history. It is never persisted — opening and closing balances are
// recomputed from the ledger so the statement can't drift from the
// records. Declined transactions appear in Transactions but are
// excluded from the totals.
type Statement struct {
	AccountID           uuid.UUID      `json:"account_id"`
	Year                int            `json:"year"`
	Month               int            `json:"month"`
	OpeningBalanceCents int64          `json:"opening_balance_cents"`
	ClosingBalanceCents int64          `json:"closing_balance_cents"`
	TotalCreditsCents   int64          `json:"total_credits_cents"`
	TotalDebitsCents    int64          `json:"total_debits_cents"`
	TransactionCount    int            `json:"transaction_count"`
	Transactions        []*Transaction `json:"transactions"`
}
