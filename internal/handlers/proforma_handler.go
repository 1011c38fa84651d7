package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"proforma-reconciliation-backend/internal/models"
	"proforma-reconciliation-backend/internal/repository"
)

type ProformaHandler struct {
	repo *repository.ProformaRepository
}

func NewProformaHandler(repo *repository.ProformaRepository) *ProformaHandler {
	return &ProformaHandler{repo: repo}
}

// CreateProforma registers an open proforma. Duplicate fullnumbers are
// ignored, so re-syncing from the accounting system is safe.
func (h *ProformaHandler) CreateProforma(c *gin.Context) {
	var payload struct {
		Fullnumber string          `json:"fullnumber"`
		Total      decimal.Decimal `json:"total"`
		Currency   string          `json:"currency"`
		BuyerName  string          `json:"buyer_name"`
		BuyerTaxID string          `json:"buyer_tax_id"`
		DealID     string          `json:"deal_id"`
		IssueDate  string          `json:"issue_date"` // "yyyy-mm-dd"
		DueDate    string          `json:"due_date"`   // "yyyy-mm-dd"
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.Fullnumber == "" || payload.BuyerName == "" || !payload.Total.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fullnumber, buyer name and positive total required"})
		return
	}

	issueDate, err := time.Parse("2006-01-02", payload.IssueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issue date, expected yyyy-mm-dd"})
		return
	}
	dueDate, err := time.Parse("2006-01-02", payload.DueDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due date, expected yyyy-mm-dd"})
		return
	}

	proforma := &models.Proforma{
		ID:         uuid.New(),
		Fullnumber: payload.Fullnumber,
		Total:      payload.Total,
		Currency:   payload.Currency,
		BuyerName:  payload.BuyerName,
		BuyerTaxID: payload.BuyerTaxID,
		DealID:     payload.DealID,
		Status:     models.ProformaOpen,
		IssueDate:  issueDate,
		DueDate:    dueDate,
		CreatedAt:  time.Now(),
	}
	if err := h.repo.Create(proforma); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "proforma created", "proforma": proforma})
}

// GetRemaining reports the unpaid balance of one proforma.
func (h *ProformaHandler) GetRemaining(c *gin.Context) {
	fullnumber := c.Param("fullnumber")
	remaining, err := h.repo.GetRemaining(fullnumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fullnumber": fullnumber, "remaining": remaining})
}
