package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProformaStatus string

const (
	ProformaOpen      ProformaStatus = "open"
	ProformaPaid      ProformaStatus = "paid"
	ProformaCancelled ProformaStatus = "cancelled"
)

// Proforma is an invoice to be paid. PaymentsTotal is recomputed whenever a
// payment binds to or unbinds from it; Remaining is always derived, never stored.
type Proforma struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Fullnumber    string          `gorm:"uniqueIndex" json:"fullnumber"`
	Total         decimal.Decimal `gorm:"type:numeric(14,2)" json:"total"`
	Currency      string          `json:"currency"`
	PaymentsTotal decimal.Decimal `gorm:"type:numeric(14,2)" json:"payments_total"`
	BuyerName     string          `gorm:"index" json:"buyer_name"`
	BuyerTaxID    string          `json:"buyer_tax_id"`
	DealID        string          `gorm:"index" json:"deal_id"`
	Status        ProformaStatus  `gorm:"index" json:"status"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	Version       int64           `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Remaining reports how much of the proforma is still unpaid. It can go
// negative when an overpayment is recorded; callers flag that, never clamp it.
func (p *Proforma) Remaining() decimal.Decimal {
	return p.Total.Sub(p.PaymentsTotal)
}
