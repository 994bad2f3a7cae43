package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Domain errors returned by the service layer. Business declines
// (insufficient funds) are NOT errors — they come back as committed
// declined outcomes. Everything here either rejects a request before
// any store mutation or rolls the unit of work back entirely.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCardNotFound        = errors.New("card not found")
	ErrUnauthorizedAccess  = errors.New("you do not have access to this resource")
	ErrSameAccountTransfer = errors.New("cannot transfer to the same account")
	ErrInvalidAmount       = errors.New("amount must be a positive integer in cents")
	ErrCardOnCredit        = errors.New("cards cannot be used for credit transactions")
	ErrCardWrongAccount    = errors.New("card does not belong to this account")
	ErrCardInactive        = errors.New("card is not active")
	ErrDuplicateCard       = errors.New("account already has a card")
	ErrInvalidMonth        = errors.New("month must be between 1 and 12")
	ErrInvalidYear         = errors.New("year must be between 2000 and 2100")

	// ErrLockTimeout means the unit of work could not acquire its row
	// locks within the configured bound. Nothing was applied; the
	// caller may retry.
	ErrLockTimeout = errors.New("account lock contention, retry the operation")
)

// Postgres error codes the ledger cares about.
const (
	pqLockNotAvailable = "55P03"
	pqCheckViolation   = "23514"
)

// classifyStoreError maps low-level store failures onto the ledger's
// error taxonomy. Lock timeouts become a retryable contention error;
// a balance CHECK violation means the application-level guard was
// bypassed somehow and is surfaced loudly.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqLockNotAvailable:
			return ErrLockTimeout
		case pqCheckViolation:
			return fmt.Errorf("ledger constraint violation (%s): %w", pqErr.Constraint, err)
		}
	}
	return err
}

func accountNotFound(accountID uuid.UUID) error {
	return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
}
