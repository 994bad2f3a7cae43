package models

import (
	"time"

	"github.com/google/uuid"
)

// Account types
const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"
)

// Account represents a bank account owned by an account holder.
// CachedBalanceCents is an advisory cache — the sum of approved
// transactions is the source of truth. The two are updated together
// under the account's row lock, but a mismatch is a diagnostic
// signal, not an error.
type Account struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	AccountHolderID    uuid.UUID `json:"account_holder_id" db:"account_holder_id"`
	AccountType        string    `json:"account_type" db:"account_type"`
	AccountNumber      string    `json:"account_number" db:"account_number"`
	CachedBalanceCents int64     `json:"cached_balance_cents" db:"cached_balance_cents"`
	Currency           string    `json:"currency" db:"currency"`
	IsActive           bool      `json:"is_active" db:"is_active"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// AccountHolder is the banking identity behind one or more accounts.
// Authentication lives on the User; the holder is what the ledger
// scopes ownership by.
type AccountHolder struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	FullName  string    `json:"full_name" db:"full_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BalanceCheck is the result of comparing the cached balance against
// the balance computed from the transaction log.
type BalanceCheck struct {
	AccountID            uuid.UUID `json:"account_id"`
	CachedBalanceCents   int64     `json:"cached_balance_cents"`
	ComputedBalanceCents int64     `json:"computed_balance_cents"`
	Match                bool      `json:"match"`
	Currency             string    `json:"currency"`
}
