package matching

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"proforma-reconciliation-backend/internal/config"
	"proforma-reconciliation-backend/internal/models"
)

// GenerateCandidates selects, from the open proformas, the bounded set
// plausibly related to the payment and scores each one. The result is ordered
// by score descending. An empty list is a valid outcome, not an error.
func GenerateCandidates(cfg config.Matching, payment *models.Payment, open []models.Proforma) []Candidate {
	// Refunds never participate in inbound matching.
	if payment.IsRefund && payment.Direction == models.DirectionIn {
		return nil
	}

	var plausible []*models.Proforma
	for i := range open {
		p := &open[i]
		if p.Status != models.ProformaOpen || !p.Remaining().IsPositive() {
			continue
		}
		if !currencyCompatible(cfg, payment.Currency, p.Currency) {
			continue
		}
		if !identityOverlap(payment, p) && !withinDateWindow(cfg, payment.PaymentDate, p) {
			continue
		}
		plausible = append(plausible, p)
	}

	// Pre-filter so scoring stays bounded: closest amounts first, then the
	// nearest due dates.
	sort.SliceStable(plausible, func(i, j int) bool {
		di := amountDistance(payment.Amount, plausible[i].Remaining())
		dj := amountDistance(payment.Amount, plausible[j].Remaining())
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return daysBetween(payment.PaymentDate, plausible[i].DueDate) <
			daysBetween(payment.PaymentDate, plausible[j].DueDate)
	})
	if len(plausible) > cfg.MaxCandidates {
		plausible = plausible[:cfg.MaxCandidates]
	}

	candidates := make([]Candidate, 0, len(plausible))
	for _, p := range plausible {
		candidates = append(candidates, Score(cfg, payment, p))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func currencyCompatible(cfg config.Matching, from, to string) bool {
	if from == to {
		return true
	}
	_, ok := cfg.FXRates[from+"/"+to]
	return ok
}

// identityOverlap checks whether the proforma's buyer or CRM deal shows up in
// the payment's payer/description text.
func identityOverlap(payment *models.Payment, proforma *models.Proforma) bool {
	text := payment.Payer + " " + payment.Description

	if NameSimilarity(text, proforma.BuyerName) >= 0.5 {
		return true
	}
	if proforma.DealID != "" && strings.Contains(NormalizeName(text), NormalizeName(proforma.DealID)) {
		return true
	}
	if ContainsReference(payment.Description, proforma.Fullnumber) {
		return true
	}
	return false
}

func withinDateWindow(cfg config.Matching, paymentDate time.Time, proforma *models.Proforma) bool {
	window := float64(cfg.CandidateDateWindowDays)
	return daysBetween(paymentDate, proforma.IssueDate) <= window ||
		daysBetween(paymentDate, proforma.DueDate) <= window
}

func amountDistance(amount, remaining decimal.Decimal) decimal.Decimal {
	return amount.Sub(remaining).Abs()
}
