package reconciliation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"proforma-reconciliation-backend/internal/config"
	"proforma-reconciliation-backend/internal/models"
	"proforma-reconciliation-backend/internal/repository"
	"proforma-reconciliation-backend/internal/services/matching"
)

// Service is the decision engine: the only component that mutates persisted
// state. Candidate generation and scoring stay pure; every write funnels
// through here under per-entity locks.
type Service struct {
	payments  *repository.PaymentRepository
	proformas repository.ProformaStore
	db        *gorm.DB
	cfg       config.Matching
	locks     *entityLocks
	log       zerolog.Logger
}

func NewService(
	payments *repository.PaymentRepository,
	proformas repository.ProformaStore,
	cfg config.Matching,
	log zerolog.Logger,
) *Service {
	return &Service{
		payments:  payments,
		proformas: proformas,
		db:        payments.DB(),
		cfg:       cfg,
		locks:     newEntityLocks(),
		log:       log,
	}
}

func (s *Service) PaymentRepo() *repository.PaymentRepository { return s.payments }
func (s *Service) ProformaStore() repository.ProformaStore    { return s.proformas }
func (s *Service) DB() *gorm.DB                               { return s.db }
func (s *Service) Config() config.Matching                    { return s.cfg }

// CandidatesFor computes the ordered candidate list for one payment. Pure
// read; an empty list is a valid outcome.
func (s *Service) CandidatesFor(payment *models.Payment) ([]matching.Candidate, error) {
	open, err := s.proformas.FindOpen()
	if err != nil {
		return nil, err
	}
	return matching.GenerateCandidates(s.cfg, payment, open), nil
}

// decision is the outcome of scoring one payment's candidates.
type decision struct {
	status     models.PaymentStatus
	confidence *float64
	fullnumber *string
	details    []byte
}

// decide applies the auto-approval policy: the top candidate wins outright
// only when it clears the threshold and no runner-up sits within the tie
// margin. Anything else is needs_review; no candidates means unmatched.
func (s *Service) decide(payment *models.Payment, candidates []matching.Candidate) decision {
	if len(candidates) == 0 {
		return decision{status: models.StatusUnmatched}
	}

	top := candidates[0]
	status := models.StatusNeedsReview
	if top.Score >= s.cfg.AutoApproveThreshold &&
		(len(candidates) == 1 || top.Score-candidates[1].Score > s.cfg.TieMargin) {
		status = models.StatusMatched
	}

	details, _ := json.Marshal(map[string]interface{}{
		"fullnumber":      top.Fullnumber,
		"score":           top.Score,
		"reasons":         top.Reasons,
		"amount_diff":     top.AmountDiff,
		"remaining":       top.RemainingAtEvaluation,
		"candidate_count": len(candidates),
		"decision":        status,
	})

	confidence := top.Score
	fullnumber := top.Fullnumber
	return decision{
		status:     status,
		confidence: &confidence,
		fullnumber: &fullnumber,
		details:    details,
	}
}

// ScorePayment runs one reconciliation pass for a single payment and persists
// the decision. Approved and rejected payments are skipped untouched.
func (s *Service) ScorePayment(id uuid.UUID) (*models.Payment, error) {
	var result *models.Payment
	err := s.withPaymentLock(id, func() error {
		return s.retryOnConflict(func() error {
			payment, err := s.payments.GetByID(s.db, id)
			if err != nil {
				return err
			}
			if payment.Status.TerminalForScoring() || payment.ManualStatus != models.ManualNone {
				result = payment
				return nil
			}

			candidates, err := s.CandidatesFor(payment)
			if err != nil {
				return err
			}
			updated, err := s.applyDecision(payment, s.decide(payment, candidates))
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	})
	return result, err
}

// applyDecision writes the automatic classification onto the payment row.
// It never touches proforma totals: an automatic match is a proposal, not a
// commitment to the proforma's books.
func (s *Service) applyDecision(payment *models.Payment, d decision) (*models.Payment, error) {
	readVersion := payment.Version

	payment.Status = d.status
	payment.Confidence = d.confidence
	payment.AutoProformaFullnumber = d.fullnumber
	payment.Origin = models.OriginAuto
	payment.MatchDetails = d.details

	if err := s.payments.Save(s.db, payment, readVersion); err != nil {
		return nil, err
	}
	return payment, nil
}

// withPaymentLock serializes mutations on one payment id.
func (s *Service) withPaymentLock(id uuid.UUID, fn func() error) error {
	return s.locks.withLock([]string{"payment:" + id.String()}, fn)
}

// withBindingLock serializes a binding mutation across one payment and the
// proformas whose totals it touches.
func (s *Service) withBindingLock(id uuid.UUID, fullnumbers []string, fn func() error) error {
	keys := []string{"payment:" + id.String()}
	for _, number := range fullnumbers {
		if number != "" {
			keys = append(keys, "proforma:"+number)
		}
	}
	return s.locks.withLock(keys, fn)
}

// retryOnConflict retries fn once with fresh reads when an optimistic version
// check fails; the second conflict surfaces to the caller.
func (s *Service) retryOnConflict(fn func() error) error {
	err := fn()
	if err != nil && errors.Is(err, models.ErrConcurrentModification) {
		s.log.Warn().Err(err).Msg("optimistic conflict, retrying once")
		return fn()
	}
	return err
}

// CreateRun records a new rescore run in the running state.
func (s *Service) CreateRun(trigger string) (*models.RescoreRun, error) {
	run := &models.RescoreRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    "running",
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("create rescore run: %w: %v", models.ErrExternalUnavailable, err)
	}
	return run, nil
}

// RunRescore creates a rescore run and processes it synchronously.
func (s *Service) RunRescore(trigger string) (*models.RescoreRun, error) {
	run, err := s.CreateRun(trigger)
	if err != nil {
		return nil, err
	}
	return run, s.ProcessRun(run)
}

// ProcessRun re-scores every scorable payment under the given run, updating
// progress on the run row. Per-payment failures are logged and counted,
// never abort the run.
func (s *Service) ProcessRun(run *models.RescoreRun) error {
	payments, err := s.payments.ListScorable()
	if err != nil {
		s.finishRun(run)
		return err
	}
	run.TotalPayments = len(payments)

	for i := range payments {
		updated, err := s.ScorePayment(payments[i].ID)
		run.ProcessedCount++
		if err != nil {
			s.log.Error().Err(err).Str("payment_id", payments[i].ID.String()).Msg("rescore failed for payment")
			continue
		}
		switch updated.Status {
		case models.StatusMatched:
			run.MatchedCount++
		case models.StatusNeedsReview:
			run.NeedsReviewCount++
		case models.StatusUnmatched:
			run.UnmatchedCount++
		}

		if run.ProcessedCount%100 == 0 {
			s.db.Model(&models.RescoreRun{}).
				Where("id = ?", run.ID).
				Updates(map[string]interface{}{
					"total_payments":  run.TotalPayments,
					"processed_count": run.ProcessedCount,
				})
		}
	}

	s.finishRun(run)
	return nil
}

func (s *Service) finishRun(run *models.RescoreRun) {
	now := time.Now()
	run.Status = "completed"
	run.CompletedAt = &now
	s.db.Model(&models.RescoreRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"total_payments":     run.TotalPayments,
			"processed_count":    run.ProcessedCount,
			"matched_count":      run.MatchedCount,
			"needs_review_count": run.NeedsReviewCount,
			"unmatched_count":    run.UnmatchedCount,
			"status":             run.Status,
			"completed_at":       run.CompletedAt,
		})
}

// GetRun fetches one rescore run by id.
func (s *Service) GetRun(id uuid.UUID) (*models.RescoreRun, error) {
	var run models.RescoreRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// Stats aggregates payment counts and sums per status for the review UI.
type Stats struct {
	Total       int64   `json:"total"`
	TotalAmount float64 `json:"total_amount"`

	MatchedCount int64   `json:"matched_count"`
	MatchedSum   float64 `json:"matched_sum"`

	NeedsReviewCount int64   `json:"needs_review_count"`
	NeedsReviewSum   float64 `json:"needs_review_sum"`

	UnmatchedCount int64   `json:"unmatched_count"`
	UnmatchedSum   float64 `json:"unmatched_sum"`

	ApprovedCount int64   `json:"approved_count"`
	ApprovedSum   float64 `json:"approved_sum"`

	RejectedCount int64   `json:"rejected_count"`
	RejectedSum   float64 `json:"rejected_sum"`
}

type statRow struct {
	Status models.PaymentStatus
	Count  int64
	Sum    float64
}

func (s *Service) GetStats() (Stats, error) {
	var stats Stats
	var rows []statRow

	err := s.db.Model(&models.Payment{}).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount),0) as sum").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	for _, r := range rows {
		stats.Total += r.Count
		stats.TotalAmount += r.Sum

		switch r.Status {
		case models.StatusMatched:
			stats.MatchedCount, stats.MatchedSum = r.Count, r.Sum
		case models.StatusNeedsReview:
			stats.NeedsReviewCount, stats.NeedsReviewSum = r.Count, r.Sum
		case models.StatusUnmatched:
			stats.UnmatchedCount, stats.UnmatchedSum = r.Count, r.Sum
		case models.StatusApproved:
			stats.ApprovedCount, stats.ApprovedSum = r.Count, r.Sum
		case models.StatusRejected:
			stats.RejectedCount, stats.RejectedSum = r.Count, r.Sum
		}
	}

	return stats, nil
}
