// Package processor materializes due recurring rules into transactions.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/schedule"
)

// DefaultCallTimeout bounds each store call when Config.CallTimeout is unset.
const DefaultCallTimeout = 10 * time.Second

// Config holds processor options.
type Config struct {
	// CallTimeout bounds every store call. A timeout fails only the rule being processed.
	CallTimeout time.Duration
}

// Processor generates transactions for due recurring rules.
// Passes for the same profile are serialized; different profiles run independently.
type Processor struct {
	rules       api.RuleStore
	txns        api.TransactionStore
	callTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	profiles map[string]*sync.Mutex
}

// New creates a new processor.
func New(rules api.RuleStore, txns api.TransactionStore, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	return &Processor{
		rules:       rules,
		txns:        txns,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
		profiles:    make(map[string]*sync.Mutex),
	}
}

// Process runs one pass for profileID with ref as "today".
//
// Each due rule is handled independently: a failing rule is recorded in the
// result and the remaining rules are still attempted. The returned error is
// non-nil only when the due rules could not be listed.
func (p *Processor) Process(ctx context.Context, profileID string, ref api.Date) (*Result, error) {
	if profileID == "" {
		return nil, errors.New("profile id is required")
	}
	if ref.IsZero() {
		return nil, errors.New("reference date is required")
	}

	unlock := p.lockProfile(profileID)
	defer unlock()

	logger := p.logger.With("profile_id", profileID, "reference_date", ref.String())

	due, err := withTimeout(ctx, p.callTimeout, func(ctx context.Context) ([]api.RecurringRule, error) {
		return p.rules.ListDueRules(ctx, profileID, ref)
	})
	if err != nil {
		return nil, fmt.Errorf("listing due rules: %w", err)
	}

	logger.Debug("fetched due rules", "count", len(due))

	result := &Result{
		ProfileID:     profileID,
		ReferenceDate: ref,
		Created:       make([]api.Transaction, 0, len(due)),
		Outcomes:      make([]RuleOutcome, 0, len(due)),
	}

	for _, rule := range due {
		outcome := p.processRule(ctx, logger.With("rule_id", rule.ID), profileID, rule)
		if outcome.Transaction != nil {
			result.Created = append(result.Created, *outcome.Transaction)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	logger.Info("processed recurring rules",
		"due", len(due),
		"created", len(result.Created),
		"skipped", len(result.Skipped()),
		"failed", len(result.Failed()),
	)

	return result, nil
}

func (p *Processor) processRule(ctx context.Context, logger *slog.Logger, profileID string, rule api.RecurringRule) RuleOutcome {
	outcome := RuleOutcome{
		RuleID: rule.ID,
		Status: StatusCreated,
		Date:   rule.NextRunDate,
	}

	if err := rule.Validate(); err != nil {
		logger.Warn("skipping malformed rule", "error", err)
		return outcome.fail(err)
	}
	if rule.ProfileID != profileID {
		err := fmt.Errorf("%w: rule belongs to profile %s", api.ErrMalformedRule, rule.ProfileID)
		logger.Warn("skipping malformed rule", "error", err)
		return outcome.fail(err)
	}

	exists, err := withTimeout(ctx, p.callTimeout, func(ctx context.Context) (bool, error) {
		return p.txns.Exists(ctx, profileID, rule.ID, rule.NextRunDate)
	})
	if err != nil {
		logger.Error("failed to check existing transaction", "error", err)
		return outcome.fail(fmt.Errorf("checking existing transaction: %w", err))
	}

	if exists {
		logger.Info("transaction already generated, skipping insert", "date", rule.NextRunDate.String())
		outcome.Status = StatusSkipped
	} else {
		txn, err := withTimeout(ctx, p.callTimeout, func(ctx context.Context) (api.Transaction, error) {
			return p.txns.Insert(ctx, api.TransactionFor(rule))
		})
		switch {
		case errors.Is(err, api.ErrDuplicate):
			logger.Info("transaction generated concurrently, skipping insert", "date", rule.NextRunDate.String())
			outcome.Status = StatusSkipped
		case err != nil:
			logger.Error("failed to insert transaction", "error", err)
			return outcome.fail(fmt.Errorf("inserting transaction: %w", err))
		default:
			outcome.Transaction = &txn
		}
	}

	next, recognized := schedule.Next(rule.NextRunDate, rule.Frequency)
	if !recognized {
		logger.Warn("unrecognized frequency, advancing monthly",
			"frequency", rule.Frequency,
			"suggestion", string(schedule.Suggest(rule.Frequency)),
		)
	}

	var patch api.RulePatch
	deactivate := rule.EndDate != nil && next.After(*rule.EndDate)
	if deactivate {
		inactive := false
		patch.IsActive = &inactive
	} else {
		patch.NextRunDate = &next
	}

	_, err = withTimeout(ctx, p.callTimeout, func(ctx context.Context) (api.RecurringRule, error) {
		return p.rules.UpdateRule(ctx, rule.ID, profileID, patch)
	})
	if err != nil {
		logger.Error("failed to update rule", "error", err)
		return outcome.fail(fmt.Errorf("updating rule: %w", err))
	}

	if deactivate {
		outcome.Deactivated = true
		logger.Info("deactivated rule past end date",
			"next_run_date", next.String(),
			"end_date", rule.EndDate.String(),
		)
	} else {
		outcome.NextRunDate = &next
		logger.Debug("advanced rule", "next_run_date", next.String())
	}

	return outcome
}

// lockProfile serializes passes for one profile so the existence check and
// insert of a rule are never interleaved with another pass in this process.
func (p *Processor) lockProfile(profileID string) func() {
	p.mu.Lock()
	m, ok := p.profiles[profileID]
	if !ok {
		m = &sync.Mutex{}
		p.profiles[profileID] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
