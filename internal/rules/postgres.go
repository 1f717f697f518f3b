package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

const schema = `
CREATE TABLE IF NOT EXISTS redaction_rules (
	id            BIGSERIAL PRIMARY KEY,
	pattern       TEXT        NOT NULL UNIQUE,
	description   TEXT        NOT NULL DEFAULT '',
	allowed_roles TEXT[]      NOT NULL DEFAULT '{}',
	created_by    TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	match_count   BIGINT      NOT NULL DEFAULT 0
)`

const ruleColumns = `id, pattern, description, allowed_roles, created_by, created_at, match_count`

// uniqueViolation is the Postgres error code for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore keeps rules in PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore connects to the database and creates the rules table if needed
func NewPostgresStore(config *Config, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &PostgresStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Rule store initialized successfully",
		zap.String("database_url", MaskURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create rules table: %w", err)
	}
	return nil
}

// ListActiveRules returns every stored rule in id order.
func (s *PostgresStore) ListActiveRules(ctx context.Context) ([]Rule, error) {
	var out []Rule
	query := `SELECT ` + ruleColumns + ` FROM redaction_rules ORDER BY id`
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		s.logger.Error("Failed to list rules", zap.Error(err))
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return out, nil
}

// GetRule returns one rule by id.
func (s *PostgresStore) GetRule(ctx context.Context, id int64) (*Rule, error) {
	var r Rule
	query := `SELECT ` + ruleColumns + ` FROM redaction_rules WHERE id = $1`
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return &r, nil
}

// List returns one page of rules matching opts.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	opts = opts.Normalized()
	where, args := listFilter(opts)

	result := &ListResult{Rules: []Rule{}}
	countQuery := `SELECT COUNT(*) FROM redaction_rules` + where
	if err := s.db.GetContext(ctx, &result.Total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count rules: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM redaction_rules%s ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d`,
		ruleColumns, where, opts.OrderBy, opts.Order, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	if err := s.db.SelectContext(ctx, &result.Rules, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return result, nil
}

// listFilter builds the WHERE clause for a prefix search.
func listFilter(opts ListOptions) (string, []interface{}) {
	if opts.Search == "" {
		return "", nil
	}
	return ` WHERE pattern ILIKE $1 OR description ILIKE $1`, []interface{}{escapeLike(opts.Search) + "%"}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Create inserts a rule and fills its id and creation time.
func (s *PostgresStore) Create(ctx context.Context, rule *Rule) error {
	if err := rule.Normalize(s.now()); err != nil {
		return err
	}

	query := `
		INSERT INTO redaction_rules (pattern, description, allowed_roles, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		rule.Pattern,
		rule.Description,
		rule.AllowedRoles,
		rule.CreatedBy,
		rule.CreatedAt,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePattern
		}
		s.logger.Error("Failed to insert rule", zap.Error(err))
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	s.logger.Debug("Rule inserted", zap.Int64("rule_id", rule.ID))
	return nil
}

// Update rewrites the editable fields of a rule.
func (s *PostgresStore) Update(ctx context.Context, rule *Rule) error {
	if err := rule.Normalize(s.now()); err != nil {
		return err
	}

	query := `
		UPDATE redaction_rules
		SET pattern = $1, description = $2, allowed_roles = $3,
			created_by = COALESCE(NULLIF($4, ''), created_by)
		WHERE id = $5
		RETURNING created_by, created_at, match_count`

	err := s.db.QueryRowContext(ctx, query,
		rule.Pattern,
		rule.Description,
		rule.AllowedRoles,
		rule.CreatedBy,
		rule.ID,
	).Scan(&rule.CreatedBy, &rule.CreatedAt, &rule.MatchCount)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrRuleNotFound
	case isUniqueViolation(err):
		return ErrDuplicatePattern
	case err != nil:
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, err)
	}
	return nil
}

// Delete removes rules by id.
func (s *PostgresStore) Delete(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM redaction_rules WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		return 0, nil
	}
	return n, nil
}

// HasPattern reports whether a rule other than excludeID already uses pattern.
func (s *PostgresStore) HasPattern(ctx context.Context, pattern string, excludeID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM redaction_rules WHERE pattern = $1 AND id <> $2)`
	if err := s.db.GetContext(ctx, &exists, query, strings.TrimSpace(pattern), excludeID); err != nil {
		return false, fmt.Errorf("failed to check pattern: %w", err)
	}
	return exists, nil
}

// BatchInsert adds multiple rules in one statement, skipping patterns that already exist
func (s *PostgresStore) BatchInsert(ctx context.Context, batch []*Rule) (*BatchInsertResult, error) {
	if len(batch) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*5)
	now := s.now()
	for _, rule := range batch {
		if err := rule.Normalize(now); err != nil {
			return result, err
		}
		i := len(valueStrings)
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		valueArgs = append(valueArgs,
			rule.Pattern,
			rule.Description,
			rule.AllowedRoles,
			rule.CreatedBy,
			rule.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO redaction_rules (pattern, description, allowed_roles, created_by, created_at)
		VALUES %s
		ON CONFLICT (pattern) DO NOTHING`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(batch))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(batch)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// AddMatchCounts adds the given hit counts to each rule's match_count.
func (s *PostgresStore) AddMatchCounts(ctx context.Context, counts map[int64]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `UPDATE redaction_rules SET match_count = match_count + $1 WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("failed to prepare counter update: %w", err)
	}
	defer stmt.Close()

	for id, n := range counts {
		if _, err := stmt.ExecContext(ctx, n, id); err != nil {
			return fmt.Errorf("failed to update match count for rule %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// MaskURL hides the password of a connection URL for logging
func MaskURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
