package models

import (
	"time"

	"github.com/google/uuid"
)

// ManualOverride is an append-only audit record of a human decision on a
// payment. The current binding is derived from the latest override plus the
// payment row; overrides are never updated or deleted.
type ManualOverride struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	PaymentID  uuid.UUID `gorm:"index"`
	Action     string
	Fullnumber *string
	Comment    string
	Actor      string
	CreatedAt  time.Time
}
