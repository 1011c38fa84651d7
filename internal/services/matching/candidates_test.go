package matching

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proforma-reconciliation-backend/internal/config"
	"proforma-reconciliation-backend/internal/models"
)

func TestGenerateCandidatesFiltersImplausible(t *testing.T) {
	cfg := config.DefaultMatching()
	payment := plnPayment(1000, "Jan Kowalski", "", "2025-09-13")

	paid := *plnProforma("PAID 1/2025", "Jan Kowalski", 1000, 1000)
	cancelled := *plnProforma("CANC 2/2025", "Jan Kowalski", 1000, 0)
	cancelled.Status = models.ProformaCancelled
	foreign := *plnProforma("EUR 3/2025", "Jan Kowalski", 1000, 0)
	foreign.Currency = "EUR"
	open := *plnProforma("CO-PROF 13/2025", "Jan Kowalski", 1000, 0)

	candidates := GenerateCandidates(cfg, payment, []models.Proforma{paid, cancelled, foreign, open})

	require.Len(t, candidates, 1)
	assert.Equal(t, "CO-PROF 13/2025", candidates[0].Fullnumber)
}

func TestGenerateCandidatesEmptyIsValid(t *testing.T) {
	cfg := config.DefaultMatching()
	payment := plnPayment(1000, "Jan Kowalski", "", "2025-09-13")

	candidates := GenerateCandidates(cfg, payment, nil)
	assert.Empty(t, candidates)
}

func TestGenerateCandidatesSkipsInboundRefunds(t *testing.T) {
	cfg := config.DefaultMatching()
	payment := plnPayment(1000, "Jan Kowalski", "zwrot", "2025-09-13")
	payment.IsRefund = true

	open := *plnProforma("CO-PROF 13/2025", "Jan Kowalski", 1000, 0)
	assert.Empty(t, GenerateCandidates(cfg, payment, []models.Proforma{open}))
}

func TestGenerateCandidatesOrderedByScore(t *testing.T) {
	cfg := config.DefaultMatching()
	payment := plnPayment(1000, "Jan Kowalski", "", "2025-09-13")

	exact := *plnProforma("CO-PROF 13/2025", "Jan Kowalski", 1000, 0)
	partial := *plnProforma("CO-PROF 14/2025", "Jan Kowalski", 2500, 0)

	candidates := GenerateCandidates(cfg, payment, []models.Proforma{partial, exact})

	require.Len(t, candidates, 2)
	assert.Equal(t, "CO-PROF 13/2025", candidates[0].Fullnumber)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)
}

func TestGenerateCandidatesRespectsBound(t *testing.T) {
	cfg := config.DefaultMatching()
	payment := plnPayment(1000, "Jan Kowalski", "", "2025-09-13")

	var open []models.Proforma
	for i := 0; i < cfg.MaxCandidates+15; i++ {
		p := *plnProforma(fmt.Sprintf("CO-PROF %d/2025", i), "Jan Kowalski", 1000, 0)
		open = append(open, p)
	}

	candidates := GenerateCandidates(cfg, payment, open)
	assert.Len(t, candidates, cfg.MaxCandidates)
}

// A payment with no textual overlap still generates candidates when the
// proforma dates sit inside the window; one outside both criteria does not.
func TestGenerateCandidatesDateWindowFallback(t *testing.T) {
	cfg := config.DefaultMatching()
	payment := plnPayment(1000, "anonymous transfer", "", "2025-09-13")

	inWindow := *plnProforma("CO-PROF 13/2025", "Jan Kowalski", 1000, 0)
	outOfWindow := *plnProforma("CO-PROF 1/2024", "Jan Kowalski", 1000, 0)
	outOfWindow.IssueDate = date("2024-01-01")
	outOfWindow.DueDate = date("2024-01-14")

	candidates := GenerateCandidates(cfg, payment, []models.Proforma{inWindow, outOfWindow})

	require.Len(t, candidates, 1)
	assert.Equal(t, "CO-PROF 13/2025", candidates[0].Fullnumber)
}

func TestGenerateCandidatesCrossCurrencyWithRate(t *testing.T) {
	cfg := config.DefaultMatching()
	cfg.FXRates["EUR/PLN"] = 4.30

	payment := plnPayment(430, "Jan Kowalski", "", "2025-09-13")
	payment.Currency = "EUR"
	payment.Amount = decimal.NewFromInt(100)

	open := *plnProforma("CO-PROF 13/2025", "Jan Kowalski", 430, 0)
	candidates := GenerateCandidates(cfg, payment, []models.Proforma{open})

	require.Len(t, candidates, 1)
	assert.Contains(t, candidates[0].Reasons, ReasonExactAmount)
}
