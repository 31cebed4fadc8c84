// Package api defines the core interfaces and data structures for spendcycle.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicate is returned by a TransactionStore when a transaction for the
	// same (profile, rule, date) already exists.
	ErrDuplicate = errors.New("transaction already generated")
	// ErrNotFound is returned when a rule does not exist for the given profile.
	ErrNotFound = errors.New("not found")
	// ErrRuleExists is returned by CreateRule when the rule id is taken.
	ErrRuleExists = errors.New("rule already exists")
	// ErrMalformedRule marks a rule that is missing required data.
	ErrMalformedRule = errors.New("malformed recurring rule")
)

// RecurringRule is a template describing a repeating expense.
type RecurringRule struct {
	ID        string `json:"id"`
	ProfileID string `json:"profile_id"`
	AccountID string `json:"account_id"`

	Amount decimal.Decimal `json:"amount"`
	// Frequency is kept as entered; see schedule.ParseFrequency.
	Frequency   string `json:"frequency"`
	NextRunDate Date   `json:"next_run_date"`
	EndDate     *Date  `json:"end_date,omitempty"`
	IsActive    bool   `json:"is_active"`

	CategoryID    *string `json:"category_id,omitempty"`
	SubcategoryID *string `json:"subcategory_id,omitempty"`
	Description   string  `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// DecodeErr is set by a store that loaded the row but could not parse
	// one of its fields. Validate reports it.
	DecodeErr error `json:"-"`
}

// Validate checks that the rule carries everything needed to generate a transaction.
// The returned error wraps ErrMalformedRule.
func (r RecurringRule) Validate() error {
	if r.DecodeErr != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRule, r.DecodeErr)
	}
	var missing []string
	if r.ID == "" {
		missing = append(missing, "id")
	}
	if r.ProfileID == "" {
		missing = append(missing, "profile_id")
	}
	if r.AccountID == "" {
		missing = append(missing, "account_id")
	}
	if r.NextRunDate.IsZero() {
		missing = append(missing, "next_run_date")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedRule, strings.Join(missing, ", "))
	}
	return nil
}

// Due reports whether the rule should be processed on the reference date.
func (r RecurringRule) Due(ref Date) bool {
	if !r.IsActive || r.NextRunDate.After(ref) {
		return false
	}
	return r.EndDate == nil || !r.EndDate.Before(ref)
}

// Transaction is an expense generated from a recurring rule.
type Transaction struct {
	ID              string          `json:"id"`
	ProfileID       string          `json:"profile_id"`
	AccountID       string          `json:"account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Date            Date            `json:"date"`
	CategoryID      *string         `json:"category_id,omitempty"`
	SubcategoryID   *string         `json:"subcategory_id,omitempty"`
	RecurringRuleID string          `json:"recurring_rule_id"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TransactionFor builds the transaction a rule generates on its current next run date.
func TransactionFor(rule RecurringRule) Transaction {
	return Transaction{
		ProfileID:       rule.ProfileID,
		AccountID:       rule.AccountID,
		Amount:          rule.Amount,
		Date:            rule.NextRunDate,
		CategoryID:      rule.CategoryID,
		SubcategoryID:   rule.SubcategoryID,
		RecurringRuleID: rule.ID,
		Description:     rule.Description,
	}
}

// RulePatch holds the rule fields a processing pass may change.
// Nil fields are left untouched.
type RulePatch struct {
	NextRunDate *Date
	IsActive    *bool
}

// RuleStore reads and updates recurring rules.
type RuleStore interface {
	// ListDueRules returns the active rules of a profile with next_run_date <= ref
	// and no end date before ref, ordered by next_run_date then id.
	ListDueRules(ctx context.Context, profileID string, ref Date) ([]RecurringRule, error)
	// UpdateRule applies patch and returns the updated rule.
	UpdateRule(ctx context.Context, ruleID, profileID string, patch RulePatch) (RecurringRule, error)
}

// TransactionStore persists generated transactions.
type TransactionStore interface {
	// Exists reports whether a transaction was already generated for the rule on date.
	Exists(ctx context.Context, profileID, ruleID string, date Date) (bool, error)
	// Insert stores txn and returns it with ID and CreatedAt set.
	// It returns ErrDuplicate when the uniqueness constraint rejects the row.
	Insert(ctx context.Context, txn Transaction) (Transaction, error)
}

// Writer consumes generated transactions from a channel and writes them to a destination.
type Writer interface {
	Write(ctx context.Context, in <-chan *Transaction) error
}
