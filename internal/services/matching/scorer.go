package matching

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"proforma-reconciliation-backend/internal/config"
	"proforma-reconciliation-backend/internal/models"
)

// Reason codes emitted with every score so the review UI can explain a
// ranking without re-deriving it.
const (
	ReasonExplicitReference = "explicit_reference"
	ReasonExactAmount       = "exact_amount"
	ReasonAmountDiff        = "amount_diff"
	ReasonNameMatch         = "name_match"
	ReasonDateProximity     = "date_proximity"
)

// Candidate is a proposed proforma match for a payment. Ephemeral: computed
// per reconciliation pass, never persisted.
type Candidate struct {
	Proforma              *models.Proforma `json:"-"`
	Fullnumber            string           `json:"proforma_fullnumber"`
	Score                 float64          `json:"score"`
	Reasons               []string         `json:"reasons"`
	AmountDiff            decimal.Decimal  `json:"amount_diff"`
	RemainingAtEvaluation decimal.Decimal  `json:"remaining_at_evaluation"`
}

// Score evaluates one payment against one proforma. Pure and deterministic:
// the same inputs always produce the same score, and weakening any single
// signal never raises it.
func Score(cfg config.Matching, payment *models.Payment, proforma *models.Proforma) Candidate {
	remaining := proforma.Remaining()
	amount := ConvertAmount(cfg, payment.Amount, payment.Currency, proforma.Currency)
	diff := amount.Sub(remaining)

	c := Candidate{
		Proforma:              proforma,
		Fullnumber:            proforma.Fullnumber,
		AmountDiff:            diff,
		RemainingAtEvaluation: remaining,
	}

	amountScore, amountReason := amountSignal(cfg, diff, remaining, amount)
	c.Reasons = append(c.Reasons, amountReason)

	nameSim := NameSimilarity(payment.Payer+" "+payment.Description, proforma.BuyerName)
	nameScore := cfg.NameWeight * nameSim
	if nameSim >= 0.6 {
		c.Reasons = append(c.Reasons, ReasonNameMatch)
	}

	dateScore := cfg.DateWeight * dateSignal(payment.PaymentDate, proforma.IssueDate, proforma.DueDate)
	if dateScore >= cfg.DateWeight*0.8 {
		c.Reasons = append(c.Reasons, ReasonDateProximity)
	}

	c.Score = math.Min(amountScore+nameScore+dateScore, 100)

	// An explicit invoice-number reference trumps the weighted signals.
	if ContainsReference(payment.Description, proforma.Fullnumber) {
		if c.Score < cfg.ExplicitReferenceScore {
			c.Score = cfg.ExplicitReferenceScore
		}
		c.Reasons = append([]string{ReasonExplicitReference}, c.Reasons...)
	}

	return c
}

// amountSignal scales the amount weight by how far the payment is from the
// proforma's remaining balance. Exact within epsilon earns the full weight;
// the sub-score decays linearly with the relative difference and never
// increases as |diff| grows.
func amountSignal(cfg config.Matching, diff, remaining, amount decimal.Decimal) (float64, string) {
	if diff.Abs().LessThanOrEqual(decimal.NewFromFloat(cfg.AmountEpsilon)) {
		return cfg.AmountWeight, ReasonExactAmount
	}

	denom := decimal.Max(remaining.Abs(), amount.Abs())
	if denom.IsZero() {
		return 0, ReasonAmountDiff
	}

	ratio := diff.Abs().InexactFloat64() / denom.InexactFloat64()
	if ratio > 1 {
		ratio = 1
	}
	return cfg.AmountWeight * (1 - ratio), ReasonAmountDiff
}

// dateSignal returns a factor in [0,1] that decays with the distance between
// the payment date and the nearer of the proforma's issue and due dates.
func dateSignal(paymentDate, issueDate, dueDate time.Time) float64 {
	days := math.Min(daysBetween(paymentDate, issueDate), daysBetween(paymentDate, dueDate))

	switch {
	case days <= 3:
		return 1.0
	case days <= 7:
		return 0.8
	case days <= 15:
		return 0.6
	case days <= 30:
		return 0.4
	default:
		return 0.2
	}
}

func daysBetween(a, b time.Time) float64 {
	return math.Abs(a.Sub(b).Hours() / 24)
}

// ConvertAmount translates the payment amount into the proforma currency when
// a rate is configured; same-currency amounts pass through unchanged.
func ConvertAmount(cfg config.Matching, amount decimal.Decimal, from, to string) decimal.Decimal {
	if from == to {
		return amount
	}
	if rate, ok := cfg.FXRates[from+"/"+to]; ok {
		return amount.Mul(decimal.NewFromFloat(rate)).Round(2)
	}
	return amount
}
