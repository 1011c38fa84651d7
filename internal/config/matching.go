package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Matching holds the tunable knobs of the scoring and decision policy.
// Weights must sum to 100 so sub-scores compose into a 0-100 confidence.
type Matching struct {
	// AmountWeight is the maximum contribution of the amount signal.
	AmountWeight float64 `yaml:"amount_weight"`
	// NameWeight is the maximum contribution of payer/buyer name similarity.
	NameWeight float64 `yaml:"name_weight"`
	// DateWeight is the maximum contribution of temporal proximity.
	DateWeight float64 `yaml:"date_weight"`

	// AmountEpsilon is the tolerance under which two amounts count as equal.
	AmountEpsilon float64 `yaml:"amount_epsilon"`
	// ExplicitReferenceScore is the floor forced when the payment description
	// cites the proforma fullnumber.
	ExplicitReferenceScore float64 `yaml:"explicit_reference_score"`

	// AutoApproveThreshold is the minimum top score for an automatic match.
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`
	// TieMargin: a second candidate within this distance of the top score
	// makes the result ambiguous and forces needs_review.
	TieMargin float64 `yaml:"tie_margin"`

	// CandidateDateWindowDays bounds the date window used when selecting
	// candidates that match on date alone.
	CandidateDateWindowDays int `yaml:"candidate_date_window_days"`
	// MaxCandidates caps the candidate list passed to the scorer.
	MaxCandidates int `yaml:"max_candidates"`

	// FXRates maps "FROM/TO" currency pairs to conversion rates. Empty by
	// default; cross-currency candidates are only generated for listed pairs.
	FXRates map[string]float64 `yaml:"fx_rates"`
}

// DefaultMatching returns the policy validated against the reference
// reconciliation scenarios.
func DefaultMatching() Matching {
	return Matching{
		AmountWeight:            55,
		NameWeight:              30,
		DateWeight:              15,
		AmountEpsilon:           0.01,
		ExplicitReferenceScore:  95,
		AutoApproveThreshold:    90,
		TieMargin:               5,
		CandidateDateWindowDays: 45,
		MaxCandidates:           20,
		FXRates:                 map[string]float64{},
	}
}

// LoadMatching reads the matching policy from a YAML file, expanding
// environment variables first. Missing file falls back to defaults.
func LoadMatching(path string) (Matching, error) {
	cfg := DefaultMatching()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects weight sets that cannot produce a 0-100 score.
func (m Matching) Validate() error {
	if sum := m.AmountWeight + m.NameWeight + m.DateWeight; sum != 100 {
		return fmt.Errorf("matching weights must sum to 100, got %v", sum)
	}
	if m.AutoApproveThreshold <= 0 || m.AutoApproveThreshold > 100 {
		return fmt.Errorf("auto_approve_threshold out of range: %v", m.AutoApproveThreshold)
	}
	if m.TieMargin < 0 {
		return fmt.Errorf("tie_margin must be non-negative: %v", m.TieMargin)
	}
	if m.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive: %d", m.MaxCandidates)
	}
	return nil
}
