package reconciliation

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"proforma-reconciliation-backend/internal/models"
	"proforma-reconciliation-backend/internal/services/matching"
)

// DuplicateGroup is a set of pending payments inferred to be re-submissions
// of the same transaction: same direction, normalized payer, amount and
// currency inside one reporting month. Members are ordered oldest first.
type DuplicateGroup struct {
	Key      string           `json:"key"`
	Payments []models.Payment `json:"payments"`
}

// duplicateKey buckets a payment for duplicate detection.
func duplicateKey(p *models.Payment) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		p.Direction,
		matching.NormalizeName(p.Payer),
		p.Amount.StringFixed(2),
		p.Currency,
		p.PaymentDate.Format("2006-01"),
	)
}

// ListDuplicateGroups scans pending payments and reports every bucket with
// two or more members. Singletons are never flagged.
func (s *Service) ListDuplicateGroups() ([]DuplicateGroup, error) {
	payments, err := s.payments.ListPending()
	if err != nil {
		return nil, err
	}

	buckets := make(map[string][]models.Payment)
	for _, p := range payments {
		key := duplicateKey(&p)
		buckets[key] = append(buckets[key], p)
	}

	var groups []DuplicateGroup
	for key, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].PaymentDate.Equal(members[j].PaymentDate) {
				return members[i].PaymentDate.Before(members[j].PaymentDate)
			}
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		})
		groups = append(groups, DuplicateGroup{Key: key, Payments: members})
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, nil
}

// DeleteDuplicate removes one payment, releasing any proforma binding it
// held in the same transaction.
func (s *Service) DeleteDuplicate(id uuid.UUID) error {
	return s.retryOnConflict(func() error {
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

				if payment.MatchedProforma != nil {
					if _, err := s.releaseBinding(tx, payment, *payment.MatchedProforma); err != nil {
						return err
					}
				}
				return s.payments.Delete(tx, id)
			})
		})
	})
}

// DeleteAllExceptFirst removes every member of a duplicate group but the
// oldest one. Members are processed independently; the report enumerates
// which deletions succeeded and which failed.
func (s *Service) DeleteAllExceptFirst(key string) (*BulkResult, error) {
	groups, err := s.ListDuplicateGroups()
	if err != nil {
		return nil, err
	}

	var group *DuplicateGroup
	for i := range groups {
		if groups[i].Key == key {
			group = &groups[i]
			break
		}
	}
	if group == nil {
		return nil, fmt.Errorf("duplicate group %q: %w", key, models.ErrNotFound)
	}

	result := &BulkResult{}
	for _, member := range group.Payments[1:] {
		outcome := BulkOutcome{PaymentID: member.ID}
		if err := s.DeleteDuplicate(member.ID); err != nil {
			outcome.Outcome = "error"
			outcome.Error = err.Error()
			result.Failed++
			s.log.Error().Err(err).Str("payment_id", member.ID.String()).Msg("duplicate cleanup failed for payment")
		} else {
			outcome.Outcome = "deleted"
			result.Processed++
		}
		result.Items = append(result.Items, outcome)
	}

	return result, nil
}
