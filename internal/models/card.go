package models

import (
	"time"

	"github.com/google/uuid"
)

// Card is a debit card linked to exactly one account. The PAN and CVV
// are AES-GCM encrypted at rest; only the last four digits are stored
// in plaintext for display.
type Card struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	AccountID           uuid.UUID `json:"account_id" db:"account_id"`
	CardNumberEncrypted string    `json:"-" db:"card_number_encrypted"`
	CVVEncrypted        string    `json:"-" db:"cvv_encrypted"`
	LastFour            string    `json:"last_four" db:"card_number_last_four"`
	IsActive            bool      `json:"is_active" db:"is_active"`
	ExpiresAt           time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}
