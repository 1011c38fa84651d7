package reconciliation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"proforma-reconciliation-backend/internal/config"
	"proforma-reconciliation-backend/internal/models"
	"proforma-reconciliation-backend/internal/repository"
)

func setup(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Proforma{},
		&models.Payment{},
		&models.RescoreRun{},
		&models.ManualOverride{},
	))

	return NewService(
		repository.NewPaymentRepository(db),
		repository.NewProformaRepository(db),
		config.DefaultMatching(),
		zerolog.Nop(),
	)
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedProforma(t *testing.T, s *Service, fullnumber, buyer string, total float64) *models.Proforma {
	t.Helper()
	p := &models.Proforma{
		ID:         uuid.New(),
		Fullnumber: fullnumber,
		Total:      decimal.NewFromFloat(total),
		Currency:   "PLN",
		BuyerName:  buyer,
		Status:     models.ProformaOpen,
		IssueDate:  day("2025-09-10"),
		DueDate:    day("2025-09-24"),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.DB().Create(p).Error)
	return p
}

func seedPayment(t *testing.T, s *Service, amount float64, payer, description, date string) *models.Payment {
	t.Helper()
	p := &models.Payment{
		ID:           uuid.New(),
		Source:       models.SourceBank,
		Direction:    models.DirectionIn,
		Amount:       decimal.NewFromFloat(amount),
		Currency:     "PLN",
		Payer:        payer,
		Description:  description,
		PaymentDate:  day(date),
		Status:       models.StatusUnmatched,
		ManualStatus: models.ManualNone,
		Origin:       models.OriginAuto,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.DB().Create(p).Error)
	return p
}

func remaining(t *testing.T, s *Service, fullnumber string) decimal.Decimal {
	t.Helper()
	rem, err := s.ProformaStore().GetRemaining(fullnumber)
	require.NoError(t, err)
	return rem
}

func TestScorePaymentAutoMatchesExactSingleCandidate(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	updated, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusMatched, updated.Status)
	require.NotNil(t, updated.Confidence)
	assert.GreaterOrEqual(t, *updated.Confidence, 90.0)
	require.NotNil(t, updated.AutoProformaFullnumber)
	assert.Equal(t, "CO-PROF 13/2025", *updated.AutoProformaFullnumber)
	assert.Equal(t, models.OriginAuto, updated.Origin)

	// A proposed match must not move the proforma's books.
	assert.True(t, remaining(t, s, "CO-PROF 13/2025").Equal(decimal.NewFromInt(1000)))
}

func TestScorePaymentTieWithinMarginForcesReview(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	seedProforma(t, s, "CO-PROF 14/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	updated, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusNeedsReview, updated.Status)
	assert.NotNil(t, updated.AutoProformaFullnumber)
}

func TestScorePaymentPartialCoverageNeedsReview(t *testing.T) {
	s := setup(t)
	proforma := seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	proforma.PaymentsTotal = decimal.NewFromInt(600) // remaining 400
	require.NoError(t, s.DB().Save(proforma).Error)

	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	updated, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusNeedsReview, updated.Status)
	assert.Contains(t, string(updated.MatchDetails), "amount_diff")
	assert.Contains(t, string(updated.MatchDetails), "600")
}

func TestScorePaymentNoCandidates(t *testing.T) {
	s := setup(t)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	updated, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusUnmatched, updated.Status)
	assert.Nil(t, updated.Confidence)
	assert.Nil(t, updated.AutoProformaFullnumber)
}

func TestAssignUnmatchRoundTrip(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	seedProforma(t, s, "CO-PROF 99/2025", "Firma ABC", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	scored, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)
	preStatus := scored.Status
	require.Nil(t, scored.MatchedProforma)

	assigned, err := s.Assign(payment.ID, "CO-PROF 99/2025", "customer called", "anna")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, assigned.Payment.Status)
	assert.Equal(t, models.ManualApproved, assigned.Payment.ManualStatus)
	assert.Equal(t, models.OriginManual, assigned.Payment.Origin)
	require.NotNil(t, assigned.Payment.MatchedProforma)
	assert.Equal(t, "CO-PROF 99/2025", *assigned.Payment.MatchedProforma)
	assert.True(t, remaining(t, s, "CO-PROF 99/2025").IsZero())

	unmatched, err := s.Unmatch(payment.ID, "wrong invoice", "anna")
	require.NoError(t, err)
	assert.Nil(t, unmatched.Payment.MatchedProforma)
	assert.Equal(t, models.ManualNone, unmatched.Payment.ManualStatus)
	assert.Equal(t, preStatus, unmatched.Payment.Status)
	assert.True(t, remaining(t, s, "CO-PROF 99/2025").Equal(decimal.NewFromInt(1000)),
		"remaining must return to its pre-assign value")

	overrides, err := s.PaymentRepo().Overrides(payment.ID)
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	actions := []string{overrides[0].Action, overrides[1].Action}
	assert.ElementsMatch(t, []string{"assign", "unmatch"}, actions)
}

func TestAssignRebindIsAtomicAcrossProformas(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	seedProforma(t, s, "CO-PROF 14/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	_, err := s.Assign(payment.ID, "CO-PROF 13/2025", "", "anna")
	require.NoError(t, err)
	require.True(t, remaining(t, s, "CO-PROF 13/2025").IsZero())

	_, err = s.Assign(payment.ID, "CO-PROF 14/2025", "rebind", "anna")
	require.NoError(t, err)

	assert.True(t, remaining(t, s, "CO-PROF 13/2025").Equal(decimal.NewFromInt(1000)),
		"old binding rolled back")
	assert.True(t, remaining(t, s, "CO-PROF 14/2025").IsZero(), "new binding applied")
}

func TestAssignUnknownFullnumber(t *testing.T) {
	s := setup(t)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	_, err := s.Assign(payment.ID, "NOPE 1/2025", "", "anna")
	assert.ErrorIs(t, err, models.ErrInvalidBinding)
}

func TestApproveRequiresAutoMatch(t *testing.T) {
	s := setup(t)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	_, err := s.ScorePayment(payment.ID) // no proformas: stays unmatched
	require.NoError(t, err)

	_, err = s.Approve(payment.ID, "anna")
	assert.ErrorIs(t, err, models.ErrNoAutoMatch)
}

func TestApproveCommitsAndIsIdempotent(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	_, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)

	approved, err := s.Approve(payment.ID, "anna")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Payment.Status)
	require.NotNil(t, approved.Payment.MatchedProforma)
	assert.Equal(t, "CO-PROF 13/2025", *approved.Payment.MatchedProforma)
	assert.True(t, remaining(t, s, "CO-PROF 13/2025").IsZero())

	// Second approve is a no-op success, not a double booking.
	again, err := s.Approve(payment.ID, "anna")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, again.Payment.Status)
	assert.True(t, remaining(t, s, "CO-PROF 13/2025").IsZero())
}

func TestBulkApproveIsIdempotent(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	seedProforma(t, s, "CO-PROF 14/2025", "Firma ABC", 500)
	p1 := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")
	p2 := seedPayment(t, s, 500, "Firma ABC", "", "2025-09-13")

	_, err := s.ScorePayment(p1.ID)
	require.NoError(t, err)
	_, err = s.ScorePayment(p2.ID)
	require.NoError(t, err)

	first, err := s.BulkApprove("anna")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 0, first.Failed)

	second, err := s.BulkApprove("anna")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Empty(t, second.Items)
}

func TestRejectExcludesFromRescore(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	rejected, err := s.Reject(payment.ID, "not ours", "anna")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Payment.Status)
	assert.Equal(t, models.ManualRejected, rejected.Payment.ManualStatus)

	run, err := s.RunRescore("test")
	require.NoError(t, err)
	assert.Equal(t, 0, run.TotalPayments)

	after, err := s.PaymentRepo().GetByID(s.DB(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, after.Status)

	// Reject twice: no-op success.
	_, err = s.Reject(payment.ID, "again", "anna")
	require.NoError(t, err)
}

func TestUnmatchOnUnboundPaymentIsNoop(t *testing.T) {
	s := setup(t)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	result, err := s.Unmatch(payment.ID, "", "anna")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Payment.Status)
	assert.Equal(t, models.ManualNone, result.Payment.ManualStatus)
}

func TestUnmatchResetsRejectedPayment(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	_, err := s.Reject(payment.ID, "mistake", "anna")
	require.NoError(t, err)

	result, err := s.Unmatch(payment.ID, "back into scoring", "anna")
	require.NoError(t, err)
	assert.Equal(t, models.ManualNone, result.Payment.ManualStatus)
	assert.Equal(t, models.StatusMatched, result.Payment.Status, "rescored after reset")
}

func TestResetRevertsOnlyAutomaticMatches(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	seedProforma(t, s, "CO-PROF 14/2025", "Firma ABC", 500)
	autoPayment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")
	manualPayment := seedPayment(t, s, 500, "Firma ABC", "", "2025-09-13")

	_, err := s.ScorePayment(autoPayment.ID)
	require.NoError(t, err)
	_, err = s.Assign(manualPayment.ID, "CO-PROF 14/2025", "", "anna")
	require.NoError(t, err)

	result, err := s.Reset()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	auto, err := s.PaymentRepo().GetByID(s.DB(), autoPayment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, auto.Status)
	assert.Nil(t, auto.Confidence)
	assert.Nil(t, auto.AutoProformaFullnumber)

	manual, err := s.PaymentRepo().GetByID(s.DB(), manualPayment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, manual.Status)
	require.NotNil(t, manual.MatchedProforma)
	assert.True(t, remaining(t, s, "CO-PROF 14/2025").IsZero(), "manual binding survives reset")
}

func TestSaveRejectsStaleVersion(t *testing.T) {
	s := setup(t)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	repo := s.PaymentRepo()
	fresh, err := repo.GetByID(s.DB(), payment.ID)
	require.NoError(t, err)
	stale, err := repo.GetByID(s.DB(), payment.ID)
	require.NoError(t, err)

	fresh.Status = models.StatusNeedsReview
	require.NoError(t, repo.Save(s.DB(), fresh, fresh.Version))

	stale.Status = models.StatusMatched
	err = repo.Save(s.DB(), stale, stale.Version)
	assert.ErrorIs(t, err, models.ErrConcurrentModification)

	current, err := repo.GetByID(s.DB(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, current.Status, "stale write must not land")
}

func TestRetryOnConflictRetriesExactlyOnce(t *testing.T) {
	s := setup(t)

	calls := 0
	err := s.retryOnConflict(func() error {
		calls++
		return fmt.Errorf("payment: %w", models.ErrConcurrentModification)
	})
	assert.ErrorIs(t, err, models.ErrConcurrentModification, "second conflict surfaces")
	assert.Equal(t, 2, calls)

	calls = 0
	err = s.retryOnConflict(func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("payment: %w", models.ErrConcurrentModification)
		}
		return nil
	})
	require.NoError(t, err, "a single conflict is absorbed by the retry")
	assert.Equal(t, 2, calls)

	calls = 0
	err = s.retryOnConflict(func() error {
		calls++
		return models.ErrNotFound
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, 1, calls, "only version conflicts retry")
}

func TestBulkApproveReportsMemberFailure(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")

	_, err := s.ScorePayment(payment.ID)
	require.NoError(t, err)

	// The proposed proforma disappears before the batch runs.
	require.NoError(t, s.DB().Delete(&models.Proforma{}, "fullnumber = ?", "CO-PROF 13/2025").Error)

	result, err := s.BulkApprove("anna")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "error", result.Items[0].Outcome)
	assert.Contains(t, result.Items[0].Error, "invalid proforma binding")

	after, err := s.PaymentRepo().GetByID(s.DB(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, after.Status, "failed item rolls back untouched")
}

func TestRejectReleasesStrayBinding(t *testing.T) {
	s := setup(t)
	proforma := seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	proforma.PaymentsTotal = decimal.NewFromInt(1000)
	proforma.Status = models.ProformaPaid
	require.NoError(t, s.DB().Save(proforma).Error)

	payment := seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")
	fullnumber := "CO-PROF 13/2025"
	payment.Status = models.StatusMatched
	payment.MatchedProforma = &fullnumber
	require.NoError(t, s.DB().Save(payment).Error)

	result, err := s.Reject(payment.ID, "not ours", "anna")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.Payment.Status)
	assert.Nil(t, result.Payment.MatchedProforma)
	require.NotNil(t, result.ProformaRemaining)
	assert.True(t, result.ProformaRemaining.Equal(decimal.NewFromInt(1000)))
	assert.True(t, remaining(t, s, "CO-PROF 13/2025").Equal(decimal.NewFromInt(1000)),
		"rejecting a bound payment must not strand booked totals")
}

func TestProcessRunSurfacesListFailure(t *testing.T) {
	s := setup(t)
	run, err := s.CreateRun("test")
	require.NoError(t, err)

	require.NoError(t, s.DB().Migrator().DropTable(&models.Payment{}))

	err = s.ProcessRun(run)
	assert.ErrorIs(t, err, models.ErrExternalUnavailable)
}

func TestRunRescoreCountsOutcomes(t *testing.T) {
	s := setup(t)
	seedProforma(t, s, "CO-PROF 13/2025", "Jan Kowalski", 1000)
	seedPayment(t, s, 1000, "Jan Kowalski", "", "2025-09-13")
	seedPayment(t, s, 77.50, "Nieznany Nadawca", "brak tytulu", "2020-01-01")

	run, err := s.RunRescore("test")
	require.NoError(t, err)

	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 2, run.TotalPayments)
	assert.Equal(t, 2, run.ProcessedCount)
	assert.Equal(t, 1, run.MatchedCount)
	assert.Equal(t, 1, run.UnmatchedCount)
	assert.NotNil(t, run.CompletedAt)

	stored, err := s.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", stored.Status)
	assert.Equal(t, 2, stored.ProcessedCount)
}
