package models

import (
	"time"

	"github.com/google/uuid"
)

// RescoreRun tracks one batch re-scoring pass over unmatched and
// needs_review payments.
type RescoreRun struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Trigger          string     `json:"trigger"`
	TotalPayments    int        `json:"total_payments"`
	ProcessedCount   int        `json:"processed_count"`
	MatchedCount     int        `json:"matched_count"`
	NeedsReviewCount int        `json:"needs_review_count"`
	UnmatchedCount   int        `json:"unmatched_count"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CreatedAt        time.Time  `json:"created_at"`
}
