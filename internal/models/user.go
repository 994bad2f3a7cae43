package models

import (
	"time"

	"github.com/google/uuid"
)

// User roles. Role gating happens entirely in the middleware layer —
// the ledger services never branch on role.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type User struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Email          string    `json:"email" db:"email"`
	HashedPassword string    `json:"-" db:"hashed_password"`
	Role           string    `json:"role" db:"role"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
