package processor

import (
	"errors"
	"fmt"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

// Status is the outcome of processing one rule.
type Status string

const (
	// StatusCreated means a transaction was generated and the rule advanced.
	StatusCreated Status = "created"
	// StatusSkipped means the transaction already existed; the rule was still advanced.
	StatusSkipped Status = "skipped"
	// StatusFailed means processing stopped for this rule. See RuleOutcome.Err.
	StatusFailed Status = "failed"
)

// RuleOutcome records what happened to a single due rule.
type RuleOutcome struct {
	RuleID string   `json:"rule_id"`
	Status Status   `json:"status"`
	Date   api.Date `json:"date"`
	// NextRunDate is set when the rule was advanced.
	NextRunDate *api.Date `json:"next_run_date,omitempty"`
	Deactivated bool      `json:"deactivated,omitempty"`
	// Transaction is set when this pass inserted one, even if the rule update failed afterwards.
	Transaction *api.Transaction `json:"transaction,omitempty"`
	Err         error            `json:"-"`
	Error       string           `json:"error,omitempty"`
}

func (o *RuleOutcome) fail(err error) RuleOutcome {
	o.Status = StatusFailed
	o.Err = err
	o.Error = err.Error()
	return *o
}

// Result is the aggregate of one processing pass.
type Result struct {
	ProfileID     string            `json:"profile_id"`
	ReferenceDate api.Date          `json:"reference_date"`
	Created       []api.Transaction `json:"created"`
	Outcomes      []RuleOutcome     `json:"outcomes"`
}

// Failed returns the outcomes with StatusFailed.
func (r *Result) Failed() []RuleOutcome { return r.filter(StatusFailed) }

// Skipped returns the outcomes with StatusSkipped.
func (r *Result) Skipped() []RuleOutcome { return r.filter(StatusSkipped) }

func (r *Result) filter(status Status) []RuleOutcome {
	var out []RuleOutcome
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// Err joins the per-rule failures, or returns nil when every rule succeeded or was skipped.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("rule %s: %w", o.RuleID, o.Err))
	}
	return errors.Join(errs...)
}
