package repository

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"proforma-reconciliation-backend/internal/models"
)

// ProformaStore is the invoice-store contract the reconciliation engine
// depends on. The gorm repository below is the default implementation; an
// accounting-system client can stand in behind the same interface.
type ProformaStore interface {
	FindOpen() ([]models.Proforma, error)
	GetByFullnumber(db *gorm.DB, fullnumber string) (*models.Proforma, error)
	GetRemaining(fullnumber string) (decimal.Decimal, error)
	ApplyPayment(db *gorm.DB, fullnumber string, delta decimal.Decimal) (*models.Proforma, error)
}

type ProformaRepository struct {
	db *gorm.DB
}

func NewProformaRepository(db *gorm.DB) *ProformaRepository {
	return &ProformaRepository{db: db}
}

func (r *ProformaRepository) DB() *gorm.DB {
	return r.db
}

// FindOpen returns every proforma still accepting payments.
func (r *ProformaRepository) FindOpen() ([]models.Proforma, error) {
	var proformas []models.Proforma
	err := r.db.Where("status = ?", models.ProformaOpen).Find(&proformas).Error
	if err != nil {
		return nil, fmt.Errorf("find open proformas: %w: %v", models.ErrExternalUnavailable, err)
	}
	return proformas, nil
}

// GetByFullnumber fetches one proforma inside the caller's transaction.
func (r *ProformaRepository) GetByFullnumber(db *gorm.DB, fullnumber string) (*models.Proforma, error) {
	var proforma models.Proforma
	err := db.First(&proforma, "fullnumber = ?", fullnumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("proforma %s: %w", fullnumber, models.ErrInvalidBinding)
	}
	if err != nil {
		return nil, fmt.Errorf("proforma %s: %w: %v", fullnumber, models.ErrExternalUnavailable, err)
	}
	return &proforma, nil
}

// GetRemaining reports the unpaid balance of one proforma.
func (r *ProformaRepository) GetRemaining(fullnumber string) (decimal.Decimal, error) {
	proforma, err := r.GetByFullnumber(r.db, fullnumber)
	if err != nil {
		return decimal.Zero, err
	}
	return proforma.Remaining(), nil
}

// ApplyPayment moves the proforma's paymentsTotal by delta (positive on bind,
// negative on release) under an optimistic version check, flipping the
// open/paid status as the balance crosses zero. Must run inside the same
// transaction that mutates the bound payment.
func (r *ProformaRepository) ApplyPayment(db *gorm.DB, fullnumber string, delta decimal.Decimal) (*models.Proforma, error) {
	proforma, err := r.GetByFullnumber(db, fullnumber)
	if err != nil {
		return nil, err
	}

	newTotal := proforma.PaymentsTotal.Add(delta)
	newStatus := proforma.Status
	switch {
	case proforma.Status == models.ProformaOpen && newTotal.GreaterThanOrEqual(proforma.Total):
		newStatus = models.ProformaPaid
	case proforma.Status == models.ProformaPaid && newTotal.LessThan(proforma.Total):
		newStatus = models.ProformaOpen
	}

	res := db.Model(&models.Proforma{}).
		Where("fullnumber = ? AND version = ?", fullnumber, proforma.Version).
		Updates(map[string]interface{}{
			"payments_total": newTotal,
			"status":         newStatus,
			"version":        proforma.Version + 1,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("apply payment to %s: %w: %v", fullnumber, models.ErrExternalUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("proforma %s: %w", fullnumber, models.ErrConcurrentModification)
	}

	proforma.PaymentsTotal = newTotal
	proforma.Status = newStatus
	proforma.Version++
	return proforma, nil
}

// Create inserts a proforma, ignoring duplicates on fullnumber.
func (r *ProformaRepository) Create(proforma *models.Proforma) error {
	err := r.db.Where("fullnumber = ?", proforma.Fullnumber).
		FirstOrCreate(proforma).Error
	if err != nil {
		return fmt.Errorf("create proforma: %w: %v", models.ErrExternalUnavailable, err)
	}
	return nil
}
