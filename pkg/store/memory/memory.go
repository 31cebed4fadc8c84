// Package memory provides in-memory rule and transaction stores.
// Data is lost when the process exits; use it for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

type txnKey struct {
	profileID string
	ruleID    string
	date      string
}

// Store implements api.RuleStore and api.TransactionStore. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	rules        map[string]api.RecurringRule
	transactions []api.Transaction
	generated    map[txnKey]struct{}
	now          func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rules:     make(map[string]api.RecurringRule),
		generated: make(map[txnKey]struct{}),
		now:       time.Now,
	}
}

// CreateRule stores a new rule. An empty ID is replaced with a generated one.
func (s *Store) CreateRule(ctx context.Context, rule api.RecurringRule) (api.RecurringRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", rule.ID, api.ErrRuleExists)
	}

	now := s.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	s.rules[rule.ID] = rule
	return rule, nil
}

// GetRule returns a copy of the rule.
func (s *Store) GetRule(ctx context.Context, ruleID, profileID string) (api.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[ruleID]
	if !exists || rule.ProfileID != profileID {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", ruleID, api.ErrNotFound)
	}
	return rule, nil
}

// ListDueRules implements api.RuleStore.
func (s *Store) ListDueRules(ctx context.Context, profileID string, ref api.Date) ([]api.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []api.RecurringRule
	for _, rule := range s.rules {
		if rule.ProfileID == profileID && rule.Due(ref) {
			due = append(due, rule)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRunDate.Equal(due[j].NextRunDate) {
			return due[i].NextRunDate.Before(due[j].NextRunDate)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

// UpdateRule implements api.RuleStore.
func (s *Store) UpdateRule(ctx context.Context, ruleID, profileID string, patch api.RulePatch) (api.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[ruleID]
	if !exists || rule.ProfileID != profileID {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", ruleID, api.ErrNotFound)
	}

	if patch.NextRunDate != nil {
		rule.NextRunDate = *patch.NextRunDate
	}
	if patch.IsActive != nil {
		rule.IsActive = *patch.IsActive
	}
	rule.UpdatedAt = s.now().UTC()
	s.rules[ruleID] = rule
	return rule, nil
}

// Exists implements api.TransactionStore.
func (s *Store) Exists(ctx context.Context, profileID, ruleID string, date api.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.generated[txnKey{profileID, ruleID, date.String()}]
	return exists, nil
}

// Insert implements api.TransactionStore.
func (s *Store) Insert(ctx context.Context, txn api.Transaction) (api.Transaction, error) {
	key := txnKey{txn.ProfileID, txn.RecurringRuleID, txn.Date.String()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.generated[key]; exists {
		return api.Transaction{}, fmt.Errorf("rule %s on %s: %w", txn.RecurringRuleID, txn.Date, api.ErrDuplicate)
	}

	txn.ID = uuid.NewString()
	txn.CreatedAt = s.now().UTC()
	s.generated[key] = struct{}{}
	s.transactions = append(s.transactions, txn)
	return txn, nil
}

// ListTransactions returns the profile's transactions in insertion order.
func (s *Store) ListTransactions(ctx context.Context, profileID string) ([]api.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Transaction
	for _, txn := range s.transactions {
		if txn.ProfileID == profileID {
			out = append(out, txn)
		}
	}
	return out, nil
}

// Close is a no-op; it exists so the store satisfies the same lifecycle as database stores.
func (s *Store) Close() error { return nil }
