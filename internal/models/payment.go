package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentSource string

const (
	SourceBank      PaymentSource = "bank"
	SourceProcessor PaymentSource = "processor"
	SourceCash      PaymentSource = "cash"
	SourceReceipt   PaymentSource = "receipt"
)

type PaymentDirection string

const (
	DirectionIn  PaymentDirection = "in"
	DirectionOut PaymentDirection = "out"
)

type MatchOrigin string

const (
	OriginAuto   MatchOrigin = "auto"
	OriginManual MatchOrigin = "manual"
)

// Payment is a single financial movement to reconcile. Created once by
// ingestion; afterwards only the match/status fields are mutated.
type Payment struct {
	ID                     uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Source                 PaymentSource    `gorm:"index" json:"source"`
	Direction              PaymentDirection `gorm:"index" json:"direction"`
	Amount                 decimal.Decimal  `gorm:"type:numeric(14,2)" json:"amount"`
	Currency               string           `json:"currency"`
	Payer                  string           `json:"payer"`
	Description            string           `json:"description"`
	PaymentDate            time.Time        `gorm:"column:payment_date;index" json:"payment_date"`
	Status                 PaymentStatus    `gorm:"index" json:"status"`
	ManualStatus           ManualStatus     `gorm:"index;default:none" json:"manual_status"`
	MatchedProforma        *string          `gorm:"index" json:"matched_proforma"`
	AutoProformaFullnumber *string          `json:"auto_proforma_fullnumber"`
	Confidence             *float64         `json:"confidence"`
	Origin                 MatchOrigin      `json:"origin"`
	IsRefund               bool             `json:"is_refund"`
	MatchDetails           datatypes.JSON   `json:"match_details"`
	Version                int64            `json:"-"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}
