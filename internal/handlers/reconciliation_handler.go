package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"proforma-reconciliation-backend/internal/ingest"
	"proforma-reconciliation-backend/internal/logger"
	"proforma-reconciliation-backend/internal/models"
	service "proforma-reconciliation-backend/internal/services/reconciliation"
)

type ReconciliationHandler struct {
	service *service.Service
}

func NewReconciliationHandler(s *service.Service) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

// respondError maps domain error kinds onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNoAutoMatch),
		errors.Is(err, models.ErrInvalidBinding),
		errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrExternalUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	default:
		log := logger.FromContext(c.Request.Context())
		log.Error().Err(err).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Actor"); a != "" {
		return a
	}
	return "admin"
}

func paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment ID"})
		return uuid.Nil, false
	}
	return id, true
}

// ListPayments returns payments filtered by direction/status with cursor
// pagination, plus the aggregate stats the review UI shows alongside.
func (h *ReconciliationHandler) ListPayments(c *gin.Context) {
	direction := c.Query("direction")
	status := c.Query("status")
	cursor := c.Query("cursor")

	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}

	items, nextCursor, hasMore, err := h.service.PaymentRepo().List(direction, status, cursor, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, _ := h.service.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"items":       items,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
		"stats":       stats,
	})
}

// GetPayment returns one payment with its freshly computed candidates and
// manual-override audit trail.
func (h *ReconciliationHandler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	payment, err := h.service.PaymentRepo().GetByID(h.service.DB(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	candidates, err := h.service.CandidatesFor(payment)
	if err != nil {
		respondError(c, err)
		return
	}
	overrides, err := h.service.PaymentRepo().Overrides(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment":    payment,
		"candidates": candidates,
		"overrides":  overrides,
	})
}

// IngestPayments accepts a batch of source-tagged, already-parsed records,
// normalizes each into a Payment and scores it immediately. Per-record
// failures are reported, not fatal.
func (h *ReconciliationHandler) IngestPayments(c *gin.Context) {
	var payload struct {
		Records []ingest.RawRecord `json:"records"`
	}
	if err := c.BindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	created := 0
	var failures []gin.H
	for i, rec := range payload.Records {
		payment, err := ingest.Normalize(rec)
		if err != nil {
			failures = append(failures, gin.H{"index": i, "error": err.Error()})
			continue
		}
		if err := h.service.PaymentRepo().Create(payment); err != nil {
			failures = append(failures, gin.H{"index": i, "error": err.Error()})
			continue
		}
		if _, err := h.service.ScorePayment(payment.ID); err != nil {
			failures = append(failures, gin.H{"index": i, "payment_id": payment.ID, "error": err.Error()})
			continue
		}
		created++
	}

	c.JSON(http.StatusOK, gin.H{
		"created":  created,
		"failures": failures,
	})
}

func (h *ReconciliationHandler) AssignPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var payload struct {
		Fullnumber string `json:"fullnumber"`
		Comment    string `json:"comment"`
	}
	if err := c.BindJSON(&payload); err != nil || payload.Fullnumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fullnumber required"})
		return
	}

	result, err := h.service.Assign(id, payload.Fullnumber, payload.Comment, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReconciliationHandler) UnmatchPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var payload struct {
		Comment string `json:"comment"`
	}
	_ = c.BindJSON(&payload)

	result, err := h.service.Unmatch(id, payload.Comment, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReconciliationHandler) ApprovePayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	result, err := h.service.Approve(id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReconciliationHandler) RejectPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var payload struct {
		Comment string `json:"comment"`
	}
	_ = c.BindJSON(&payload)

	result, err := h.service.Reject(id, payload.Comment, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunRescore starts a batch re-scoring pass in the background and returns
// the run id for progress polling.
func (h *ReconciliationHandler) RunRescore(c *gin.Context) {
	run, err := h.service.CreateRun("api")
	if err != nil {
		respondError(c, err)
		return
	}

	// Per-payment failures are logged and counted on the run row; a failure
	// to even list the payments only shows up here.
	runLog := logger.FromContext(c.Request.Context())
	go func() {
		if err := h.service.ProcessRun(run); err != nil {
			runLog.Error().Err(err).Str("run_id", run.ID.String()).Msg("rescore run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": run.ID.String(),
		"status": run.Status,
	})
}

func (h *ReconciliationHandler) GetRescoreRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := h.service.GetRun(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *ReconciliationHandler) BulkApprove(c *gin.Context) {
	result, err := h.service.BulkApprove(actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReconciliationHandler) Reset(c *gin.Context) {
	result, err := h.service.Reset()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *ReconciliationHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconciliationHandler) ListDuplicates(c *gin.Context) {
	groups, err := h.service.ListDuplicateGroups()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *ReconciliationHandler) DeleteDuplicate(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteDuplicate(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "payment deleted"})
}

func (h *ReconciliationHandler) DeleteAllExceptFirst(c *gin.Context) {
	var payload struct {
		Key string `json:"key"`
	}
	if err := c.BindJSON(&payload); err != nil || payload.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group key required"})
		return
	}

	result, err := h.service.DeleteAllExceptFirst(payload.Key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
