package reconciliation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"proforma-reconciliation-backend/internal/models"
	"proforma-reconciliation-backend/internal/services/matching"
)

// ErrInvalidTransition is returned when a manual operation would break the
// payment lifecycle, e.g. rejecting an approved payment without unmatching
// it first.
var ErrInvalidTransition = errors.New("invalid status transition")

// MutationResult carries the updated payment plus the remaining balance of
// the proforma a binding mutation touched, when one was touched.
type MutationResult struct {
	Payment           *models.Payment  `json:"payment"`
	ProformaRemaining *decimal.Decimal `json:"proforma_remaining,omitempty"`
}

// Assign binds the payment to an explicit proforma regardless of score. Any
// previous binding is released first; both proformas and the payment update
// in one transaction.
func (s *Service) Assign(id uuid.UUID, fullnumber, comment, actor string) (*MutationResult, error) {
	var result *MutationResult

	err := s.retryOnConflict(func() error {
		payment, err := s.payments.GetByID(s.db, id)
		if err != nil {
			return err
		}
		previous := derefOr(payment.MatchedProforma, "")

		return s.withBindingLock(id, []string{previous, fullnumber}, func() error {
			return s.db.Transaction(func(tx *gorm.DB) error {
				payment, err := s.payments.GetByID(tx, id)
				if err != nil {
					return err
				}

				// Already bound here by hand: nothing to do.
				if payment.ManualStatus == models.ManualApproved &&
					derefOr(payment.MatchedProforma, "") == fullnumber {
					result = &MutationResult{Payment: payment}
					return nil
				}
				if !payment.Status.CanTransition(models.StatusApproved) {
					return fmt.Errorf("assign payment %s: %w", id, ErrInvalidTransition)
				}

				target, err := s.proformas.GetByFullnumber(tx, fullnumber)
				if err != nil {
					return err
				}

				if bound := derefOr(payment.MatchedProforma, ""); bound != "" && bound != fullnumber {
					if _, err := s.releaseBinding(tx, payment, bound); err != nil {
						return err
					}
				}
				updated, err := s.proformas.ApplyPayment(tx, fullnumber, s.bookAmount(payment, target.Currency))
				if err != nil {
					return err
				}

				readVersion := payment.Version
				payment.Status = models.StatusApproved
				payment.ManualStatus = models.ManualApproved
				payment.MatchedProforma = &fullnumber
				payment.Origin = models.OriginManual
				if err := s.payments.Save(tx, payment, readVersion); err != nil {
					return err
				}

				if err := s.payments.AppendOverride(tx, &models.ManualOverride{
					ID:         uuid.New(),
					PaymentID:  id,
					Action:     "assign",
					Fullnumber: &fullnumber,
					Comment:    comment,
					Actor:      actor,
					CreatedAt:  time.Now(),
				}); err != nil {
					return err
				}

				remaining := updated.Remaining()
				result = &MutationResult{Payment: payment, ProformaRemaining: &remaining}
				return nil
			})
		})
	})

	return result, err
}

// Unmatch releases any current binding, rolls the proforma totals back and
// restores the automatic classification. No-op success when there is nothing
// to release.
func (s *Service) Unmatch(id uuid.UUID, comment, actor string) (*MutationResult, error) {
	var result *MutationResult

	err := s.retryOnConflict(func() error {
		payment, err := s.payments.GetByID(s.db, id)
		if err != nil {
			return err
		}
		bound := derefOr(payment.MatchedProforma, "")

		return s.withBindingLock(id, []string{bound}, func() error {
			err := s.db.Transaction(func(tx *gorm.DB) error {
				payment, err = s.payments.GetByID(tx, id)
				if err != nil {
					return err
				}

				if payment.MatchedProforma == nil && payment.ManualStatus == models.ManualNone {
					result = &MutationResult{Payment: payment}
					return nil
				}

				var remaining *decimal.Decimal
				if payment.MatchedProforma != nil {
					updated, err := s.releaseBinding(tx, payment, *payment.MatchedProforma)
					if err != nil {
						return err
					}
					rem := updated.Remaining()
					remaining = &rem
				}

				readVersion := payment.Version
				payment.Status = models.StatusUnmatched
				payment.ManualStatus = models.ManualNone
				payment.MatchedProforma = nil
				if err := s.payments.Save(tx, payment, readVersion); err != nil {
					return err
				}

				if err := s.payments.AppendOverride(tx, &models.ManualOverride{
					ID:        uuid.New(),
					PaymentID: id,
					Action:    "unmatch",
					Comment:   comment,
					Actor:     actor,
					CreatedAt: time.Now(),
				}); err != nil {
					return err
				}

				result = &MutationResult{Payment: payment, ProformaRemaining: remaining}
				return nil
			})
			if err != nil {
				return err
			}

			// Back in the automatic states: recompute against the rolled-back
			// balances so status/confidence reflect the matcher, not the release.
			if result.Payment.ManualStatus == models.ManualNone && result.Payment.MatchedProforma == nil {
				candidates, err := s.CandidatesFor(result.Payment)
				if err != nil {
					return err
				}
				updated, err := s.applyDecision(result.Payment, s.decide(result.Payment, candidates))
				if err != nil {
					return err
				}
				result.Payment = updated
			}
			return nil
		})
	})

	return result, err
}

// Approve promotes the existing automatic match into a committed, manually
// confirmed binding. Fails with NoAutoMatch when no automatic candidate was
// ever recorded; approving an already-approved payment is a no-op success.
func (s *Service) Approve(id uuid.UUID, actor string) (*MutationResult, error) {
	var result *MutationResult

	err := s.retryOnConflict(func() error {
		payment, err := s.payments.GetByID(s.db, id)
		if err != nil {
			return err
		}
		target := derefOr(payment.AutoProformaFullnumber, "")

		return s.withBindingLock(id, []string{target}, func() error {
			return s.db.Transaction(func(tx *gorm.DB) error {
				payment, err := s.payments.GetByID(tx, id)
				if err != nil {
					return err
				}

				if payment.Status == models.StatusApproved && payment.MatchedProforma != nil {
					result = &MutationResult{Payment: payment}
					return nil
				}
				if payment.AutoProformaFullnumber == nil {
					return fmt.Errorf("payment %s: %w", id, models.ErrNoAutoMatch)
				}
				if !payment.Status.CanTransition(models.StatusApproved) {
					return fmt.Errorf("approve payment %s: %w", id, ErrInvalidTransition)
				}

				fullnumber := *payment.AutoProformaFullnumber
				target, err := s.proformas.GetByFullnumber(tx, fullnumber)
				if err != nil {
					return err
				}
				updated, err := s.proformas.ApplyPayment(tx, fullnumber, s.bookAmount(payment, target.Currency))
				if err != nil {
					return err
				}

				readVersion := payment.Version
				payment.Status = models.StatusApproved
				payment.ManualStatus = models.ManualApproved
				payment.MatchedProforma = &fullnumber
				if err := s.payments.Save(tx, payment, readVersion); err != nil {
					return err
				}

				if err := s.payments.AppendOverride(tx, &models.ManualOverride{
					ID:         uuid.New(),
					PaymentID:  id,
					Action:     "approve",
					Fullnumber: &fullnumber,
					Actor:      actor,
					CreatedAt:  time.Now(),
				}); err != nil {
					return err
				}

				remaining := updated.Remaining()
				result = &MutationResult{Payment: payment, ProformaRemaining: &remaining}
				return nil
			})
		})
	})

	return result, err
}

// Reject marks the payment as manually rejected. Any binding it still holds
// is released first; the batch pass skips it until an explicit unmatch resets
// it.
func (s *Service) Reject(id uuid.UUID, comment, actor string) (*MutationResult, error) {
	var result *MutationResult

	err := s.retryOnConflict(func() error {
		payment, err := s.payments.GetByID(s.db, id)
		if err != nil {
			return err
		}
		bound := derefOr(payment.MatchedProforma, "")

		return s.withBindingLock(id, []string{bound}, func() error {
			return s.db.Transaction(func(tx *gorm.DB) error {
				payment, err := s.payments.GetByID(tx, id)
				if err != nil {
					return err
				}

				if payment.ManualStatus == models.ManualRejected {
					result = &MutationResult{Payment: payment}
					return nil
				}
				if !payment.Status.CanTransition(models.StatusRejected) {
					return fmt.Errorf("reject payment %s: %w", id, ErrInvalidTransition)
				}

				var remaining *decimal.Decimal
				if payment.MatchedProforma != nil {
					updated, err := s.releaseBinding(tx, payment, *payment.MatchedProforma)
					if err != nil {
						return err
					}
					rem := updated.Remaining()
					remaining = &rem
				}

				readVersion := payment.Version
				payment.Status = models.StatusRejected
				payment.ManualStatus = models.ManualRejected
				payment.MatchedProforma = nil
				if err := s.payments.Save(tx, payment, readVersion); err != nil {
					return err
				}

				if err := s.payments.AppendOverride(tx, &models.ManualOverride{
					ID:        uuid.New(),
					PaymentID: id,
					Action:    "reject",
					Comment:   comment,
					Actor:     actor,
					CreatedAt: time.Now(),
				}); err != nil {
					return err
				}

				result = &MutationResult{Payment: payment, ProformaRemaining: remaining}
				return nil
			})
		})
	})

	return result, err
}

// BulkOutcome reports one payment's result inside a batch operation.
type BulkOutcome struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// BulkResult is the per-item report of a batch operation. One item's failure
// never blocks the rest.
type BulkResult struct {
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Items     []BulkOutcome `json:"items"`
}

// BulkApprove applies Approve to every payment with an automatic match and no
// manual decision. Idempotent: a second run finds nothing and reports
// processed = 0.
func (s *Service) BulkApprove(actor string) (*BulkResult, error) {
	var payments []models.Payment
	err := s.db.
		Where("status = ? AND manual_status = ?", models.StatusMatched, models.ManualNone).
		Order("payment_date ASC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("bulk approve: %w: %v", models.ErrExternalUnavailable, err)
	}

	result := &BulkResult{}
	for i := range payments {
		outcome := BulkOutcome{PaymentID: payments[i].ID}
		if _, err := s.Approve(payments[i].ID, actor); err != nil {
			outcome.Outcome = "error"
			outcome.Error = err.Error()
			result.Failed++
			s.log.Error().Err(err).Str("payment_id", payments[i].ID.String()).Msg("bulk approve item failed")
		} else {
			outcome.Outcome = "approved"
			result.Processed++
		}
		result.Items = append(result.Items, outcome)
	}

	return result, nil
}

// Reset reverts every automatically-classified payment (no manual decision)
// back to unmatched, clearing confidence and the proposed candidate. Manual
// decisions survive.
func (s *Service) Reset() (*BulkResult, error) {
	var payments []models.Payment
	err := s.db.
		Where("status IN ? AND manual_status = ?",
			[]models.PaymentStatus{models.StatusMatched, models.StatusNeedsReview}, models.ManualNone).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("reset: %w: %v", models.ErrExternalUnavailable, err)
	}

	result := &BulkResult{}
	for i := range payments {
		id := payments[i].ID
		outcome := BulkOutcome{PaymentID: id}

		err := s.withPaymentLock(id, func() error {
			return s.retryOnConflict(func() error {
				return s.db.Transaction(func(tx *gorm.DB) error {
					payment, err := s.payments.GetByID(tx, id)
					if err != nil {
						return err
					}
					if payment.ManualStatus != models.ManualNone {
						return nil
					}

					// Proposed matches hold no proforma binding, but a roll
					// back must release one if it ever exists.
					if payment.MatchedProforma != nil {
						if _, err := s.releaseBinding(tx, payment, *payment.MatchedProforma); err != nil {
							return err
						}
					}

					readVersion := payment.Version
					payment.Status = models.StatusUnmatched
					payment.Confidence = nil
					payment.AutoProformaFullnumber = nil
					payment.MatchedProforma = nil
					payment.MatchDetails = nil
					payment.Origin = models.OriginAuto
					return s.payments.Save(tx, payment, readVersion)
				})
			})
		})
		if err != nil {
			outcome.Outcome = "error"
			outcome.Error = err.Error()
			result.Failed++
		} else {
			outcome.Outcome = "reset"
			result.Processed++
		}
		result.Items = append(result.Items, outcome)
	}

	return result, nil
}

// releaseBinding rolls a payment's booked amount back off the proforma it is
// bound to and returns the updated proforma.
func (s *Service) releaseBinding(tx *gorm.DB, payment *models.Payment, fullnumber string) (*models.Proforma, error) {
	bound, err := s.proformas.GetByFullnumber(tx, fullnumber)
	if err != nil {
		return nil, err
	}
	return s.proformas.ApplyPayment(tx, fullnumber, s.bookAmount(payment, bound.Currency).Neg())
}

// bookAmount is the amount a binding moves on the proforma's books,
// converted when the target currency differs and a rate is configured.
func (s *Service) bookAmount(payment *models.Payment, targetCurrency string) decimal.Decimal {
	if targetCurrency == "" || targetCurrency == payment.Currency {
		return payment.Amount
	}
	return matching.ConvertAmount(s.cfg, payment.Amount, payment.Currency, targetCurrency)
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
