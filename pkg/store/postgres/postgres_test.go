package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/spendcycle/pkg/api"
	"github.com/ArionMiles/spendcycle/pkg/processor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNew_ConnectionFailure tests that the store returns an error when connection fails.
func TestNew_ConnectionFailure(t *testing.T) {
	cfg := Config{
		Host:            "nonexistent-host",
		Port:            5432,
		Database:        "spendcycle",
		User:            "spendcycle",
		Password:        "password",
		ConnectAttempts: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := New(ctx, cfg, discardLogger()); err == nil {
		t.Error("expected error when connecting to nonexistent host, got nil")
	}
}

// newTestStore connects to TEST_POSTGRES_HOST when set, otherwise starts a
// throwaway container. The test is skipped when neither is available.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	var cfg Config
	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg = Config{
			Host:     host,
			Database: os.Getenv("TEST_POSTGRES_DB"),
			User:     os.Getenv("TEST_POSTGRES_USER"),
			Password: os.Getenv("TEST_POSTGRES_PASSWORD"),
		}
	} else {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("spendcycle"),
			tcpostgres.WithUsername("spendcycle"),
			tcpostgres.WithPassword("password"),
			tcpostgres.BasicWaitStrategies(),
		)
		t.Cleanup(func() {
			if container == nil {
				return
			}
			if err := container.Terminate(context.Background()); err != nil {
				t.Errorf("terminating postgres container: %v", err)
			}
		})
		if err != nil {
			t.Fatalf("starting postgres container: %v", err)
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("getting connection string: %v", err)
		}
		cfg = Config{DSN: dsn}
	}

	store, err := New(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// Tables are shared between runs against TEST_POSTGRES_HOST.
	if _, err := store.pool.Exec(ctx, `TRUNCATE transactions, recurring_rules`); err != nil {
		t.Fatalf("truncating tables: %v", err)
	}

	return store
}

func seedRule(t *testing.T, s *Store, id, next string, end string) api.RecurringRule {
	t.Helper()
	rule := api.RecurringRule{
		ID:          id,
		ProfileID:   "profile-1",
		AccountID:   "acct-1",
		Amount:      decimal.RequireFromString("1499.99"),
		Frequency:   "monthly",
		NextRunDate: api.MustParseDate(next),
		IsActive:    true,
	}
	if end != "" {
		d := api.MustParseDate(end)
		rule.EndDate = &d
	}

	created, err := s.CreateRule(context.Background(), rule)
	if err != nil {
		t.Fatalf("creating rule %s: %v", id, err)
	}
	return created
}

func TestStore_ListDueRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedRule(t, s, "b", "2024-02-01", "")
	seedRule(t, s, "a", "2024-02-01", "")
	seedRule(t, s, "early", "2024-01-10", "")
	seedRule(t, s, "future", "2024-03-01", "")
	seedRule(t, s, "expired", "2024-01-01", "2024-01-31")

	due, err := s.ListDueRules(ctx, "profile-1", api.MustParseDate("2024-02-15"))
	if err != nil {
		t.Fatalf("listing due rules: %v", err)
	}

	want := []string{"early", "a", "b"}
	if len(due) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(due))
	}
	for i, id := range want {
		if due[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, due[i].ID, id)
		}
	}
	if !due[0].Amount.Equal(decimal.RequireFromString("1499.99")) {
		t.Errorf("amount round trip: got %s", due[0].Amount)
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rule := seedRule(t, s, "r1", "2024-02-01", "")

	txn, err := s.Insert(ctx, api.TransactionFor(rule))
	if err != nil {
		t.Fatalf("inserting transaction: %v", err)
	}
	if txn.ID == "" {
		t.Error("expected generated transaction id")
	}

	if _, err := s.Insert(ctx, api.TransactionFor(rule)); !errors.Is(err, api.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	exists, err := s.Exists(ctx, "profile-1", "r1", api.MustParseDate("2024-02-01"))
	if err != nil || !exists {
		t.Errorf("Exists = (%v, %v), want (true, nil)", exists, err)
	}
}

func TestStore_KeepsAmountScale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := api.RecurringRule{
		ID:          "fx",
		ProfileID:   "profile-1",
		AccountID:   "acct-1",
		Amount:      decimal.RequireFromString("3.14159"),
		Frequency:   "monthly",
		NextRunDate: api.MustParseDate("2024-02-01"),
		IsActive:    true,
	}
	if _, err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("creating rule: %v", err)
	}
	if _, err := s.Insert(ctx, api.TransactionFor(rule)); err != nil {
		t.Fatalf("inserting transaction: %v", err)
	}

	due, err := s.ListDueRules(ctx, "profile-1", api.MustParseDate("2024-02-01"))
	if err != nil || len(due) != 1 {
		t.Fatalf("ListDueRules = (%d rules, %v)", len(due), err)
	}
	txns, err := s.ListTransactions(ctx, "profile-1")
	if err != nil || len(txns) != 1 {
		t.Fatalf("ListTransactions = (%d txns, %v)", len(txns), err)
	}
	for name, got := range map[string]decimal.Decimal{"rule": due[0].Amount, "transaction": txns[0].Amount} {
		if !got.Equal(rule.Amount) {
			t.Errorf("%s amount = %s, want %s", name, got, rule.Amount)
		}
	}
}

func TestStore_ProcessorReportsNaNAmount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRule(t, s, "good", "2024-02-01", "")
	seedRule(t, s, "nan", "2024-02-01", "")
	if _, err := s.pool.Exec(ctx, `UPDATE recurring_rules SET amount = 'NaN' WHERE id = 'nan'`); err != nil {
		t.Fatalf("corrupting rule: %v", err)
	}

	p := processor.New(s, s, processor.Config{}, discardLogger())
	res, err := p.Process(ctx, "profile-1", api.MustParseDate("2024-02-01"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0].RecurringRuleID != "good" {
		t.Fatalf("created = %+v, want only good", res.Created)
	}
	failed := res.Failed()
	if len(failed) != 1 || failed[0].RuleID != "nan" || !errors.Is(failed[0].Err, api.ErrMalformedRule) {
		t.Fatalf("failed = %+v, want nan with ErrMalformedRule", failed)
	}
}

func TestStore_UpdateRuleNotFound(t *testing.T) {
	s := newTestStore(t)
	inactive := false

	_, err := s.UpdateRule(context.Background(), "missing", "profile-1", api.RulePatch{IsActive: &inactive})
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ProcessorPass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRule(t, s, "rent", "2024-02-20", "2024-03-01")
	seedRule(t, s, "phone", "2024-02-10", "")

	p := processor.New(s, s, processor.Config{}, discardLogger())
	ref := api.MustParseDate("2024-02-20")

	res, err := p.Process(ctx, "profile-1", ref)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("expected 2 created, got %d", len(res.Created))
	}

	again, err := p.Process(ctx, "profile-1", ref)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(again.Created) != 0 {
		t.Errorf("second pass created %d transactions", len(again.Created))
	}

	txns, err := s.ListTransactions(ctx, "profile-1")
	if err != nil {
		t.Fatalf("listing transactions: %v", err)
	}
	if len(txns) != 2 {
		t.Errorf("expected 2 stored transactions, got %d", len(txns))
	}

	due, err := s.ListDueRules(ctx, "profile-1", api.MustParseDate("2024-03-10"))
	if err != nil {
		t.Fatalf("listing due rules: %v", err)
	}
	if len(due) != 1 || due[0].ID != "phone" || due[0].NextRunDate.String() != "2024-03-10" {
		t.Errorf("expected only phone due on 2024-03-10, got %+v", due)
	}
}
