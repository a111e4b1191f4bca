// Package store provides the Data Access Layer (Repository) for gift rules and
// their usage counters. It handles all direct interactions with PostgreSQL using pgx.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// Compile-time check to verify that PostgresStore implements RuleRepository.
var _ RuleRepository = (*PostgresStore)(nil)

var (
	// ErrRuleNotFound is returned when no rule has the requested id.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrInvalidRule is returned when the database rejects a rule's values.
	ErrInvalidRule = errors.New("invalid rule")
)

// RuleRepository defines the persistence operations for gift rules.
type RuleRepository interface {
	// ListActiveRules returns enabled rules that have not ended by now, ordered by id.
	// Rules that start later are included: the evaluator gates the date window.
	ListActiveRules(ctx context.Context, now time.Time) ([]ruleengine.Rule, error)

	// ListRules retrieves a page of rules (newest first) and the total count.
	ListRules(ctx context.Context, limit, offset int) ([]*ruleengine.Rule, int64, error)

	GetRule(ctx context.Context, id int64) (*ruleengine.Rule, error)

	// CreateRule inserts the rule and populates its ID and UpdatedAt.
	CreateRule(ctx context.Context, r *ruleengine.Rule) error

	// UpdateRule replaces every mutable column of an existing rule.
	UpdateRule(ctx context.Context, r *ruleengine.Rule) error

	DeleteRule(ctx context.Context, id int64) error

	SetRuleStatus(ctx context.Context, id int64, enabled bool) error
}

// PostgresStore is the implementation of RuleRepository and the usage ledger backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// ruleColumns is shared by every SELECT so scanRule stays in sync.
const ruleColumns = `
	id, name, description, enabled, gifts, gift_quantity,
	product_dependency, category_dependency, user_dependency,
	user_only, disable_with_coupon,
	subtotal_operator, subtotal_amount::text, qty_operator, qty_amount,
	limit_per_rule, limit_per_user, date_from, date_to,
	display_location, items_per_row, updated_at
`

// ListActiveRules loads the rules the storefront may evaluate.
// A NULL date_to is unbounded.
func (s *PostgresStore) ListActiveRules(ctx context.Context, now time.Time) ([]ruleengine.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM gift_rules
		WHERE enabled
		  AND (date_to IS NULL OR date_to >= $1)
		ORDER BY id ASC
	`

	rows, err := s.db.Query(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	rules := make([]ruleengine.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// ListRules retrieves a subset of rules based on pagination parameters.
func (s *PostgresStore) ListRules(ctx context.Context, limit, offset int) ([]*ruleengine.Rule, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM gift_rules`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	if total == 0 {
		return []*ruleengine.Rule{}, 0, nil
	}

	query := `SELECT ` + ruleColumns + `
		FROM gift_rules
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*ruleengine.Rule, 0, limit)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, total, nil
}

// GetRule loads a single rule by id.
func (s *PostgresStore) GetRule(ctx context.Context, id int64) (*ruleengine.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM gift_rules WHERE id = $1`

	r, err := scanRule(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return r, nil
}

// CreateRule inserts a new rule.
func (s *PostgresStore) CreateRule(ctx context.Context, r *ruleengine.Rule) error {
	query := `
		INSERT INTO gift_rules (
			name, description, enabled, gifts, gift_quantity,
			product_dependency, category_dependency, user_dependency,
			user_only, disable_with_coupon,
			subtotal_operator, subtotal_amount, qty_operator, qty_amount,
			limit_per_rule, limit_per_user, date_from, date_to,
			display_location, items_per_row
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::text::numeric, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, updated_at
	`

	err := s.db.QueryRow(ctx, query, ruleArgs(r)...).Scan(&r.ID, &r.UpdatedAt)
	if err != nil {
		return mapWriteError("insert", err)
	}
	return nil
}

// UpdateRule overwrites an existing rule.
func (s *PostgresStore) UpdateRule(ctx context.Context, r *ruleengine.Rule) error {
	query := `
		UPDATE gift_rules SET
			name = $1, description = $2, enabled = $3, gifts = $4, gift_quantity = $5,
			product_dependency = $6, category_dependency = $7, user_dependency = $8,
			user_only = $9, disable_with_coupon = $10,
			subtotal_operator = $11, subtotal_amount = $12::text::numeric, qty_operator = $13, qty_amount = $14,
			limit_per_rule = $15, limit_per_user = $16, date_from = $17, date_to = $18,
			display_location = $19, items_per_row = $20,
			updated_at = NOW()
		WHERE id = $21
		RETURNING updated_at
	`

	args := append(ruleArgs(r), r.ID)
	if err := s.db.QueryRow(ctx, query, args...).Scan(&r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRuleNotFound
		}
		return mapWriteError("update", err)
	}
	return nil
}

// DeleteRule removes a rule and, through the foreign keys, its usage counters.
func (s *PostgresStore) DeleteRule(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM gift_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// SetRuleStatus toggles a rule on or off.
func (s *PostgresStore) SetRuleStatus(ctx context.Context, id int64, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE gift_rules SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		id, enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to set status of rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// --- Private Helpers ---

// scanRule maps one row selected with ruleColumns.
func scanRule(row pgx.Row) (*ruleengine.Rule, error) {
	var (
		r                   ruleengine.Rule
		subtotalOp, qtyOp   string
		subtotalAmount      *string
		displayLocation     string
		qtyAmount           *int
		limitRule, limitUsr *int
	)

	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Enabled, &r.Gifts, &r.GiftQuantity,
		&r.ProductDependency, &r.CategoryDependency, &r.UserDependency,
		&r.UserOnly, &r.DisableWithCoupon,
		&subtotalOp, &subtotalAmount, &qtyOp, &qtyAmount,
		&limitRule, &limitUsr, &r.DateFrom, &r.DateTo,
		&displayLocation, &r.ItemsPerRow, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule row: %w", err)
	}

	r.SubtotalOperator = ruleengine.Operator(subtotalOp)
	r.QtyOperator = ruleengine.Operator(qtyOp)
	r.QtyAmount = qtyAmount
	r.LimitPerRule = limitRule
	r.LimitPerUser = limitUsr
	r.DisplayLocation = ruleengine.DisplayLocation(displayLocation)

	if subtotalAmount != nil {
		amount, err := decimal.NewFromString(*subtotalAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid subtotal amount for rule %d: %w", r.ID, err)
		}
		r.SubtotalAmount = &amount
	}

	return &r, nil
}

// ruleArgs returns the 20 write parameters shared by insert and update.
func ruleArgs(r *ruleengine.Rule) []any {
	var subtotalAmount *string
	if r.SubtotalAmount != nil {
		s := r.SubtotalAmount.StringFixed(2)
		subtotalAmount = &s
	}

	return []any{
		r.Name,
		r.Description,
		r.Enabled,
		nonNil(r.Gifts),
		max(1, r.GiftQuantity),
		nonNil(r.ProductDependency),
		nonNil(r.CategoryDependency),
		nonNil(r.UserDependency),
		r.UserOnly,
		r.DisableWithCoupon,
		string(r.SubtotalOperator),
		subtotalAmount,
		string(r.QtyOperator),
		r.QtyAmount,
		r.LimitPerRule,
		r.LimitPerUser,
		r.DateFrom,
		r.DateTo,
		string(r.DisplayLocation),
		r.ItemsPerRow,
	}
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// mapWriteError converts constraint violations into ErrInvalidRule.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23514: check_violation, 22003: numeric_value_out_of_range
		if pgErr.Code == "23514" || pgErr.Code == "22003" {
			return fmt.Errorf("%w: %s", ErrInvalidRule, pgErr.Message)
		}
	}
	return fmt.Errorf("failed to %s rule: %w", op, err)
}
