package models

import (
	"time"

	"github.com/google/uuid"
)

// Operator is an administrative account allowed to change pricing and
// safety-filter configuration. Operators are not callers; tracked
// requests never reference them.
type Operator struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
