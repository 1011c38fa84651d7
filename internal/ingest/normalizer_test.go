package ingest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proforma-reconciliation-backend/internal/models"
)

var day = time.Date(2025, 9, 13, 0, 0, 0, 0, time.UTC)

func TestNormalizeBankRow(t *testing.T) {
	payment, err := Normalize(RawRecord{
		Source: models.SourceBank,
		Bank: &BankRow{
			BookingDate:  day,
			Amount:       decimal.NewFromInt(1000),
			Currency:     "PLN",
			Counterparty: "Jan Kowalski",
			Title:        "oplata CO-PROF 13/2025",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SourceBank, payment.Source)
	assert.Equal(t, models.DirectionIn, payment.Direction)
	assert.True(t, payment.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.StatusUnmatched, payment.Status)
	assert.Equal(t, models.ManualNone, payment.ManualStatus)
	assert.False(t, payment.IsRefund)
}

func TestNormalizeBankRowNegativeAmountIsOutbound(t *testing.T) {
	payment, err := Normalize(RawRecord{
		Source: models.SourceBank,
		Bank: &BankRow{
			BookingDate:  day,
			Amount:       decimal.NewFromInt(-250),
			Currency:     "PLN",
			Counterparty: "Urzad Skarbowy",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DirectionOut, payment.Direction)
	assert.True(t, payment.Amount.Equal(decimal.NewFromInt(250)), "amount stored positive")
}

func TestNormalizeProcessorRefund(t *testing.T) {
	payment, err := Normalize(RawRecord{
		Source: models.SourceProcessor,
		Processor: &ProcessorEvent{
			CheckoutID: "chk_123",
			PaidAt:     day,
			Amount:     decimal.NewFromInt(99),
			Currency:   "PLN",
			PayerName:  "Jan Kowalski",
			Refunded:   true,
		},
	})
	require.NoError(t, err)

	assert.True(t, payment.IsRefund)
	assert.Equal(t, models.DirectionOut, payment.Direction)
	assert.Contains(t, payment.Description, "chk_123")
}

func TestNormalizeDetectsRefundKeyword(t *testing.T) {
	payment, err := Normalize(RawRecord{
		Source: models.SourceBank,
		Bank: &BankRow{
			BookingDate:  day,
			Amount:       decimal.NewFromInt(120),
			Currency:     "PLN",
			Counterparty: "Jan Kowalski",
			Title:        "zwrot za zamowienie",
		},
	})
	require.NoError(t, err)
	assert.True(t, payment.IsRefund)
}

func TestNormalizeRejectsBadRecords(t *testing.T) {
	_, err := Normalize(RawRecord{Source: models.SourceBank})
	assert.Error(t, err, "missing payload")

	_, err = Normalize(RawRecord{Source: "fax"})
	assert.Error(t, err, "unknown source")

	_, err = Normalize(RawRecord{
		Source: models.SourceCash,
		Cash:   &CashReceipt{ReceivedAt: day, Currency: "PLN", PayerName: "x"},
	})
	assert.Error(t, err, "zero amount")

	_, err = Normalize(RawRecord{
		Source: models.SourceCash,
		Cash:   &CashReceipt{ReceivedAt: day, Amount: decimal.NewFromInt(10), PayerName: "x"},
	})
	assert.Error(t, err, "missing currency")
}
