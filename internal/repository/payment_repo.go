package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"proforma-reconciliation-backend/internal/models"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Expose DB if needed
func (r *PaymentRepository) DB() *gorm.DB {
	return r.db
}

// GetByID fetches a single payment by id.
func (r *PaymentRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := db.First(&payment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("payment %s: %w: %v", id, models.ErrExternalUnavailable, err)
	}
	return &payment, nil
}

// List returns payments filtered by direction and status, cursor-paginated by
// id ascending.
func (r *PaymentRepository) List(direction, status, cursor string, limit int) ([]models.Payment, string, bool, error) {
	var payments []models.Payment

	query := r.db.Order("id ASC").Limit(limit + 1)
	if direction != "" && direction != "all" {
		query = query.Where("direction = ?", direction)
	}
	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}
	if cursor != "" {
		query = query.Where("id > ?", cursor)
	}

	if err := query.Find(&payments).Error; err != nil {
		return nil, "", false, fmt.Errorf("list payments: %w: %v", models.ErrExternalUnavailable, err)
	}

	hasMore := false
	var nextCursor string
	if len(payments) > limit {
		hasMore = true
		nextCursor = payments[limit-1].ID.String()
		payments = payments[:limit]
	}
	return payments, nextCursor, hasMore, nil
}

// ListScorable returns the payments a batch rescore pass should visit:
// automatic states only, no manual override, no refunds of inbound money.
func (r *PaymentRepository) ListScorable() ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("status IN ?", []models.PaymentStatus{models.StatusUnmatched, models.StatusNeedsReview, models.StatusMatched}).
		Where("manual_status = ?", models.ManualNone).
		Order("payment_date ASC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list scorable payments: %w: %v", models.ErrExternalUnavailable, err)
	}
	return payments, nil
}

// ListPending returns payments still in flight (not approved/rejected), the
// population the duplicate detector inspects.
func (r *PaymentRepository) ListPending() ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("status NOT IN ?", []models.PaymentStatus{models.StatusApproved, models.StatusRejected}).
		Order("payment_date ASC, created_at ASC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w: %v", models.ErrExternalUnavailable, err)
	}
	return payments, nil
}

// Save persists payment mutations with an optimistic version check. The
// caller passes the version it read; a stale version surfaces as
// ErrConcurrentModification.
func (r *PaymentRepository) Save(db *gorm.DB, payment *models.Payment, readVersion int64) error {
	payment.Version = readVersion + 1
	res := db.Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, readVersion).
		Select("status", "manual_status", "matched_proforma", "auto_proforma_fullnumber",
			"confidence", "origin", "match_details", "version").
		Updates(payment)
	if res.Error != nil {
		return fmt.Errorf("save payment %s: %w: %v", payment.ID, models.ErrExternalUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", payment.ID, models.ErrConcurrentModification)
	}
	return nil
}

// Create inserts a freshly ingested payment row.
func (r *PaymentRepository) Create(payment *models.Payment) error {
	if err := r.db.Create(payment).Error; err != nil {
		return fmt.Errorf("create payment: %w: %v", models.ErrExternalUnavailable, err)
	}
	return nil
}

// Delete removes a payment row; used by duplicate cleanup only.
func (r *PaymentRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	res := db.Delete(&models.Payment{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete payment %s: %w: %v", id, models.ErrExternalUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("payment %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// AppendOverride records a manual decision in the append-only audit log.
func (r *PaymentRepository) AppendOverride(db *gorm.DB, override *models.ManualOverride) error {
	if err := db.Create(override).Error; err != nil {
		return fmt.Errorf("append override: %w: %v", models.ErrExternalUnavailable, err)
	}
	return nil
}

// Overrides returns the audit trail for one payment, oldest first.
func (r *PaymentRepository) Overrides(paymentID uuid.UUID) ([]models.ManualOverride, error) {
	var overrides []models.ManualOverride
	err := r.db.Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&overrides).Error
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w: %v", models.ErrExternalUnavailable, err)
	}
	return overrides, nil
}
