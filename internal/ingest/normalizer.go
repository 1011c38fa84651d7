package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proforma-reconciliation-backend/internal/models"
)

// RawRecord is one inbound record, already parsed by the source-specific
// collaborators, tagged by source. Exactly one payload must be set; the
// source is resolved here once and never branched on downstream.
type RawRecord struct {
	Source    models.PaymentSource `json:"source"`
	Bank      *BankRow             `json:"bank,omitempty"`
	Processor *ProcessorEvent      `json:"processor,omitempty"`
	Cash      *CashReceipt         `json:"cash,omitempty"`
	Receipt   *ReceiptScan         `json:"receipt,omitempty"`
}

// BankRow is a normalized bank-statement row. Amount keeps the statement
// sign: negative means money out.
type BankRow struct {
	BookingDate  time.Time       `json:"booking_date"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Counterparty string          `json:"counterparty"`
	Title        string          `json:"title"`
}

// ProcessorEvent is a payment-processor checkout or refund event.
type ProcessorEvent struct {
	CheckoutID string          `json:"checkout_id"`
	PaidAt     time.Time       `json:"paid_at"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PayerName  string          `json:"payer_name"`
	PayerEmail string          `json:"payer_email"`
	Title      string          `json:"title"`
	Refunded   bool            `json:"refunded"`
}

// CashReceipt is a manually entered cash payment.
type CashReceipt struct {
	ReceivedAt time.Time       `json:"received_at"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PayerName  string          `json:"payer_name"`
	Note       string          `json:"note"`
}

// ReceiptScan carries the OCR-extracted fields of a scanned receipt image.
type ReceiptScan struct {
	DocumentID string          `json:"document_id"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Payer      string          `json:"payer"`
	Text       string          `json:"text"`
}

var refundKeywords = []string{"REFUND", "ZWROT", "CHARGEBACK", "STORNO"}

// Normalize converts one tagged raw record into a canonical unmatched
// Payment. Amounts come out positive; the statement sign becomes Direction.
func Normalize(rec RawRecord) (*models.Payment, error) {
	payment := &models.Payment{
		ID:           uuid.New(),
		Source:       rec.Source,
		Direction:    models.DirectionIn,
		Status:       models.StatusUnmatched,
		ManualStatus: models.ManualNone,
		Origin:       models.OriginAuto,
		CreatedAt:    time.Now(),
	}

	switch rec.Source {
	case models.SourceBank:
		if rec.Bank == nil {
			return nil, fmt.Errorf("bank record missing payload")
		}
		payment.Amount = rec.Bank.Amount
		if rec.Bank.Amount.IsNegative() {
			payment.Direction = models.DirectionOut
			payment.Amount = rec.Bank.Amount.Neg()
		}
		payment.Currency = rec.Bank.Currency
		payment.Payer = rec.Bank.Counterparty
		payment.Description = rec.Bank.Title
		payment.PaymentDate = rec.Bank.BookingDate

	case models.SourceProcessor:
		if rec.Processor == nil {
			return nil, fmt.Errorf("processor record missing payload")
		}
		payment.Amount = rec.Processor.Amount.Abs()
		payment.Currency = rec.Processor.Currency
		payment.Payer = rec.Processor.PayerName
		payment.Description = strings.TrimSpace(rec.Processor.Title + " " + rec.Processor.CheckoutID)
		payment.PaymentDate = rec.Processor.PaidAt
		payment.IsRefund = rec.Processor.Refunded
		if rec.Processor.Refunded {
			payment.Direction = models.DirectionOut
		}

	case models.SourceCash:
		if rec.Cash == nil {
			return nil, fmt.Errorf("cash record missing payload")
		}
		payment.Amount = rec.Cash.Amount.Abs()
		payment.Currency = rec.Cash.Currency
		payment.Payer = rec.Cash.PayerName
		payment.Description = rec.Cash.Note
		payment.PaymentDate = rec.Cash.ReceivedAt

	case models.SourceReceipt:
		if rec.Receipt == nil {
			return nil, fmt.Errorf("receipt record missing payload")
		}
		payment.Amount = rec.Receipt.Amount.Abs()
		payment.Currency = rec.Receipt.Currency
		payment.Payer = rec.Receipt.Payer
		payment.Description = strings.TrimSpace(rec.Receipt.Text + " " + rec.Receipt.DocumentID)
		payment.PaymentDate = rec.Receipt.Date

	default:
		return nil, fmt.Errorf("unknown payment source %q", rec.Source)
	}

	if !payment.IsRefund {
		payment.IsRefund = looksLikeRefund(payment.Description)
	}
	if payment.Amount.IsZero() {
		return nil, fmt.Errorf("zero-amount %s record", rec.Source)
	}
	if payment.Currency == "" {
		return nil, fmt.Errorf("%s record missing currency", rec.Source)
	}
	if payment.PaymentDate.IsZero() {
		return nil, fmt.Errorf("%s record missing date", rec.Source)
	}

	return payment, nil
}

func looksLikeRefund(description string) bool {
	upper := strings.ToUpper(description)
	for _, kw := range refundKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}
