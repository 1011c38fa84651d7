package models

// PaymentStatus is the automatic classification of a payment. ManualStatus,
// when set, takes precedence over it.
type PaymentStatus string

const (
	StatusUnmatched   PaymentStatus = "unmatched"
	StatusNeedsReview PaymentStatus = "needs_review"
	StatusMatched     PaymentStatus = "matched"
	StatusApproved    PaymentStatus = "approved"
	StatusRejected    PaymentStatus = "rejected"
)

type ManualStatus string

const (
	ManualNone     ManualStatus = "none"
	ManualApproved ManualStatus = "approved"
	ManualRejected ManualStatus = "rejected"
)

// paymentTransitions is the valid transition table for the payment lifecycle.
// Happy path: unmatched -> needs_review -> matched -> approved. reject is
// reachable from any non-approved state; unmatch and reset return a payment
// into the automatic states.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	StatusUnmatched:   {StatusUnmatched, StatusNeedsReview, StatusMatched, StatusApproved, StatusRejected},
	StatusNeedsReview: {StatusUnmatched, StatusNeedsReview, StatusMatched, StatusApproved, StatusRejected},
	StatusMatched:     {StatusUnmatched, StatusNeedsReview, StatusMatched, StatusApproved, StatusRejected},
	StatusApproved:    {StatusApproved, StatusUnmatched, StatusNeedsReview},
	StatusRejected:    {StatusUnmatched, StatusNeedsReview, StatusRejected, StatusApproved},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Approved and rejected only leave via an explicit unmatch/reset.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TerminalForScoring reports whether a reconciliation pass must skip the
// payment instead of re-scoring it.
func (s PaymentStatus) TerminalForScoring() bool {
	return s == StatusApproved || s == StatusRejected
}
