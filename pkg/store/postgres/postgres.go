// Package postgres provides PostgreSQL-backed rule and transaction stores.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendcycle/pkg/api"
)

//go:embed 001_create_recurring.sql
var migrationSQL string

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Config holds the PostgreSQL connection configuration.
type Config struct {
	// DSN, when set, is used as-is and the individual fields are ignored.
	DSN string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
	// ConnectAttempts is how many times the initial ping is tried.
	ConnectAttempts uint
	// SkipMigrations leaves the schema untouched, for read-only checks.
	SkipMigrations bool
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store implements api.RuleStore and api.TransactionStore on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to PostgreSQL and runs the schema migration unless
// cfg.SkipMigrations is set.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = 3
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(cfg.ConnectAttempts),
		retry.Delay(time.Second),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database not reachable, retrying", "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}
	if cfg.SkipMigrations {
		return s, nil
	}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Info("running database migrations")

	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	s.logger.Info("migrations completed successfully")
	return nil
}

const ruleColumns = `id, profile_id, account_id, amount::text, frequency, next_run_date, end_date,
	is_active, category_id, subcategory_id, description, created_at, updated_at`

// CreateRule inserts a rule. An empty ID is generated by the database.
func (s *Store) CreateRule(ctx context.Context, rule api.RecurringRule) (api.RecurringRule, error) {
	var id *string
	if rule.ID != "" {
		id = &rule.ID
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO recurring_rules (
			id, profile_id, account_id, amount, frequency, next_run_date, end_date,
			is_active, category_id, subcategory_id, description
		) VALUES (COALESCE($1, gen_random_uuid()::text), $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+ruleColumns,
		id,
		rule.ProfileID,
		rule.AccountID,
		rule.Amount.String(),
		rule.Frequency,
		rule.NextRunDate.Time(),
		dateArg(rule.EndDate),
		rule.IsActive,
		rule.CategoryID,
		rule.SubcategoryID,
		rule.Description,
	)

	created, err := scanRule(row)
	if isUniqueViolation(err) {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", rule.ID, api.ErrRuleExists)
	}
	if err != nil {
		return api.RecurringRule{}, fmt.Errorf("inserting rule: %w", err)
	}
	return created, nil
}

// ListDueRules implements api.RuleStore.
func (s *Store) ListDueRules(ctx context.Context, profileID string, ref api.Date) ([]api.RecurringRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM recurring_rules
		WHERE profile_id = $1
			AND is_active
			AND next_run_date <= $2
			AND (end_date IS NULL OR end_date >= $2)
		ORDER BY next_run_date ASC, id ASC
	`, profileID, ref.Time())
	if err != nil {
		return nil, fmt.Errorf("querying due rules: %w", err)
	}
	defer rows.Close()

	var rules []api.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}

	return rules, nil
}

// UpdateRule implements api.RuleStore.
func (s *Store) UpdateRule(ctx context.Context, ruleID, profileID string, patch api.RulePatch) (api.RecurringRule, error) {
	var next *time.Time
	if patch.NextRunDate != nil {
		t := patch.NextRunDate.Time()
		next = &t
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE recurring_rules SET
			next_run_date = COALESCE($3, next_run_date),
			is_active = COALESCE($4, is_active),
			updated_at = NOW()
		WHERE id = $1 AND profile_id = $2
		RETURNING `+ruleColumns,
		ruleID, profileID, next, patch.IsActive,
	)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.RecurringRule{}, fmt.Errorf("rule %s: %w", ruleID, api.ErrNotFound)
	}
	if err != nil {
		return api.RecurringRule{}, fmt.Errorf("updating rule: %w", err)
	}
	if rule.DecodeErr != nil {
		return api.RecurringRule{}, fmt.Errorf("%w: %w", api.ErrMalformedRule, rule.DecodeErr)
	}
	return rule, nil
}

// Exists implements api.TransactionStore.
func (s *Store) Exists(ctx context.Context, profileID, ruleID string, date api.Date) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE profile_id = $1 AND recurring_rule_id = $2 AND transaction_date = $3
		)
	`, profileID, ruleID, date.Time()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking transaction: %w", err)
	}
	return exists, nil
}

// Insert implements api.TransactionStore. Conflicts on the
// (profile_id, recurring_rule_id, transaction_date) constraint return api.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, txn api.Transaction) (api.Transaction, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			profile_id, account_id, amount, transaction_date, category_id,
			subcategory_id, recurring_rule_id, description
		) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
		ON CONFLICT (profile_id, recurring_rule_id, transaction_date) DO NOTHING
		RETURNING id, created_at
	`,
		txn.ProfileID,
		txn.AccountID,
		txn.Amount.String(),
		txn.Date.Time(),
		txn.CategoryID,
		txn.SubcategoryID,
		txn.RecurringRuleID,
		txn.Description,
	).Scan(&txn.ID, &txn.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return api.Transaction{}, fmt.Errorf("rule %s on %s: %w", txn.RecurringRuleID, txn.Date, api.ErrDuplicate)
	}
	if err != nil {
		return api.Transaction{}, fmt.Errorf("inserting transaction: %w", err)
	}

	return txn, nil
}

// ListTransactions returns the profile's transactions ordered by date.
func (s *Store) ListTransactions(ctx context.Context, profileID string) ([]api.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, profile_id, account_id, amount::text, transaction_date, category_id,
			subcategory_id, COALESCE(recurring_rule_id, ''), description, created_at
		FROM transactions
		WHERE profile_id = $1
		ORDER BY transaction_date ASC, created_at ASC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var txns []api.Transaction
	for rows.Next() {
		var (
			txn    api.Transaction
			amount string
			date   time.Time
		)
		if err := rows.Scan(
			&txn.ID, &txn.ProfileID, &txn.AccountID, &amount, &date, &txn.CategoryID,
			&txn.SubcategoryID, &txn.RecurringRuleID, &txn.Description, &txn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		if txn.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
		}
		txn.Date = api.DateOf(date)
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
	return nil
}

func scanRule(row pgx.Row) (api.RecurringRule, error) {
	var (
		rule    api.RecurringRule
		amount  string
		next    time.Time
		endDate *time.Time
	)

	err := row.Scan(
		&rule.ID, &rule.ProfileID, &rule.AccountID, &amount, &rule.Frequency, &next, &endDate,
		&rule.IsActive, &rule.CategoryID, &rule.SubcategoryID, &rule.Description,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return api.RecurringRule{}, err
	}

	// NUMERIC admits NaN, which decimal cannot represent. The rule is still
	// returned so the processor reports it.
	if rule.Amount, err = decimal.NewFromString(amount); err != nil {
		rule.DecodeErr = fmt.Errorf("rule %s amount %q: %w", rule.ID, amount, err)
	}
	rule.NextRunDate = api.DateOf(next)
	if endDate != nil {
		end := api.DateOf(*endDate)
		rule.EndDate = &end
	}

	return rule, nil
}

func dateArg(d *api.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time()
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
