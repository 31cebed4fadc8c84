// Package sqlite provides a single-file SQLite store for local use.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

//go:embed migrations/*.sql
var migrations embed.FS

const timestampLayout = time.RFC3339Nano

// ErrNotInitialized is returned by OpenReadOnly when the database file does
// not exist yet.
var ErrNotInitialized = errors.New("sqlite database not initialized")

// Store implements api.RuleStore and api.TransactionStore on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDB(fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("opened SQLite store", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// OpenReadOnly opens an existing database without creating the file or
// applying migrations. Writes through the returned store fail.
func OpenReadOnly(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotInitialized)
	} else if err != nil {
		return nil, fmt.Errorf("checking sqlite file: %w", err)
	}

	db, err := openDB(fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}

	logger.Debug("opened SQLite store read-only", "path", path)
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const ruleColumns = `id, profile_id, account_id, amount, frequency, next_run_date, end_date,
	is_active, category_id, subcategory_id, description, created_at, updated_at`

// CreateRule inserts a rule. An empty ID is replaced with a generated one.
func (s *Store) CreateRule(ctx context.Context, rule api.RecurringRule) (api.RecurringRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := s.now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	var end *string
	if rule.EndDate != nil {
		e := rule.EndDate.String()
		end = &e
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO recurring_rules (`+ruleColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.ProfileID, rule.AccountID, rule.Amount.String(), rule.Frequency,
		rule.NextRunDate.String(), end, rule.IsActive, rule.CategoryID, rule.SubcategoryID,
		rule.Description, now.Format(timestampLayout), now.Format(timestampLayout),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", rule.ID, api.ErrRuleExists)
	}
	if err != nil {
		return api.RecurringRule{}, fmt.Errorf("inserting rule: %w", err)
	}
	return rule, nil
}

// ListDueRules implements api.RuleStore. Dates are stored as YYYY-MM-DD so
// text comparison orders them chronologically.
func (s *Store) ListDueRules(ctx context.Context, profileID string, ref api.Date) ([]api.RecurringRule, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+ruleColumns+`
	FROM recurring_rules
	WHERE profile_id = ?
	  AND is_active = 1
	  AND next_run_date <= ?
	  AND (end_date IS NULL OR end_date >= ?)
	ORDER BY next_run_date ASC, id ASC`,
		profileID, ref.String(), ref.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying due rules: %w", err)
	}
	defer rows.Close()

	var rules []api.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if rule.DecodeErr != nil {
			s.logger.Warn("returning undecodable rule", "profile_id", profileID, "rule_id", rule.ID, "error", rule.DecodeErr)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpdateRule implements api.RuleStore.
func (s *Store) UpdateRule(ctx context.Context, ruleID, profileID string, patch api.RulePatch) (api.RecurringRule, error) {
	var next *string
	if patch.NextRunDate != nil {
		n := patch.NextRunDate.String()
		next = &n
	}

	res, err := s.db.ExecContext(ctx, `
	UPDATE recurring_rules SET
	  next_run_date = COALESCE(?, next_run_date),
	  is_active = COALESCE(?, is_active),
	  updated_at = ?
	WHERE id = ? AND profile_id = ?`,
		next, patch.IsActive, s.now().UTC().Format(timestampLayout), ruleID, profileID,
	)
	if err != nil {
		return api.RecurringRule{}, fmt.Errorf("updating rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return api.RecurringRule{}, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", ruleID, api.ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurring_rules WHERE id = ?`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		return api.RecurringRule{}, err
	}
	if rule.DecodeErr != nil {
		return api.RecurringRule{}, fmt.Errorf("%w: %w", api.ErrMalformedRule, rule.DecodeErr)
	}
	return rule, nil
}

// Exists implements api.TransactionStore.
func (s *Store) Exists(ctx context.Context, profileID, ruleID string, date api.Date) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
	SELECT EXISTS (
	  SELECT 1 FROM transactions
	  WHERE profile_id = ? AND recurring_rule_id = ? AND transaction_date = ?
	)`, profileID, ruleID, date.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking transaction: %w", err)
	}
	return exists, nil
}

// Insert implements api.TransactionStore.
func (s *Store) Insert(ctx context.Context, txn api.Transaction) (api.Transaction, error) {
	txn.ID = uuid.NewString()
	txn.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO transactions (
	  id, profile_id, account_id, amount, transaction_date, category_id,
	  subcategory_id, recurring_rule_id, description, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (profile_id, recurring_rule_id, transaction_date) DO NOTHING`,
		txn.ID, txn.ProfileID, txn.AccountID, txn.Amount.String(), txn.Date.String(),
		txn.CategoryID, txn.SubcategoryID, txn.RecurringRuleID, txn.Description,
		txn.CreatedAt.Format(timestampLayout),
	)
	if err != nil {
		return api.Transaction{}, fmt.Errorf("inserting transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return api.Transaction{}, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return api.Transaction{}, fmt.Errorf("rule %s on %s: %w", txn.RecurringRuleID, txn.Date, api.ErrDuplicate)
	}

	return txn, nil
}

// ListTransactions returns the profile's transactions ordered by date.
func (s *Store) ListTransactions(ctx context.Context, profileID string) ([]api.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, profile_id, account_id, amount, transaction_date, category_id,
	  subcategory_id, COALESCE(recurring_rule_id, ''), description, created_at
	FROM transactions
	WHERE profile_id = ?
	ORDER BY transaction_date ASC, created_at ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var txns []api.Transaction
	for rows.Next() {
		var (
			txn                     api.Transaction
			amount, date, createdAt string
		)
		if err := rows.Scan(
			&txn.ID, &txn.ProfileID, &txn.AccountID, &amount, &date, &txn.CategoryID,
			&txn.SubcategoryID, &txn.RecurringRuleID, &txn.Description, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
		}
		if txn.Date, err = api.ParseDate(date); err != nil {
			return nil, err
		}
		if txn.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRule decodes a rule row. A row that scans but holds an unparseable
// amount, date or timestamp is returned with DecodeErr set so the caller can
// report it against the rule.
func scanRule(row scanner) (api.RecurringRule, error) {
	var (
		rule                 api.RecurringRule
		amount, next         string
		end                  *string
		createdAt, updatedAt string
	)

	if err := row.Scan(
		&rule.ID, &rule.ProfileID, &rule.AccountID, &amount, &rule.Frequency, &next, &end,
		&rule.IsActive, &rule.CategoryID, &rule.SubcategoryID, &rule.Description,
		&createdAt, &updatedAt,
	); err != nil {
		return api.RecurringRule{}, fmt.Errorf("scanning rule: %w", err)
	}

	rule.DecodeErr = decodeRule(&rule, amount, next, end, createdAt, updatedAt)
	return rule, nil
}

func decodeRule(rule *api.RecurringRule, amount, next string, end *string, createdAt, updatedAt string) error {
	var err error
	if rule.Amount, err = decimal.NewFromString(amount); err != nil {
		return fmt.Errorf("rule %s amount %q: %w", rule.ID, amount, err)
	}
	if rule.NextRunDate, err = api.ParseDate(next); err != nil {
		return fmt.Errorf("rule %s next_run_date: %w", rule.ID, err)
	}
	if end != nil {
		var d api.Date
		if d, err = api.ParseDate(*end); err != nil {
			return fmt.Errorf("rule %s end_date: %w", rule.ID, err)
		}
		rule.EndDate = &d
	}
	if rule.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return fmt.Errorf("rule %s created_at: %w", rule.ID, err)
	}
	if rule.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return fmt.Errorf("rule %s updated_at: %w", rule.ID, err)
	}
	return nil
}
