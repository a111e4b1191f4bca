package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rafaeljc/giftrules/internal/ruleengine"
)

// UsageLedger reads and records gift redemptions.
type UsageLedger interface {
	// UsageSnapshot loads total and per-user counters for the given rules.
	UsageSnapshot(ctx context.Context, ruleIDs []int64, userID int64) (ruleengine.UsageSnapshot, error)

	// IncrementUsage adds by (at least 1) to the rule's counter for userID.
	IncrementUsage(ctx context.Context, ruleID, userID int64, by int) error

	// RecordRedemptions records the gifts of an order exactly once.
	RecordRedemptions(ctx context.Context, orderID string, userID int64, counts map[int64]int) (bool, error)
}

// Compile-time check to verify that PostgresStore implements UsageLedger.
var _ UsageLedger = (*PostgresStore)(nil)

// UsageSnapshot aggregates counters in a single round trip.
// Rules without any redemption are absent from the maps and read as zero.
func (s *PostgresStore) UsageSnapshot(ctx context.Context, ruleIDs []int64, userID int64) (ruleengine.UsageSnapshot, error) {
	snap := ruleengine.UsageSnapshot{
		Totals:  make(map[int64]int, len(ruleIDs)),
		PerUser: make(map[int64]int, len(ruleIDs)),
		UserID:  userID,
	}
	if len(ruleIDs) == 0 {
		return snap, nil
	}

	query := `
		SELECT rule_id,
		       COALESCE(SUM(times_used), 0),
		       COALESCE(SUM(times_used) FILTER (WHERE user_id = $2), 0)
		FROM gift_rule_usage
		WHERE rule_id = ANY($1)
		GROUP BY rule_id
	`

	rows, err := s.db.Query(ctx, query, ruleIDs, userID)
	if err != nil {
		return snap, fmt.Errorf("failed to load usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID int64
		var total, forUser int
		if err := rows.Scan(&ruleID, &total, &forUser); err != nil {
			return snap, fmt.Errorf("failed to scan usage row: %w", err)
		}
		snap.Totals[ruleID] = total
		if userID != ruleengine.GuestUserID {
			snap.PerUser[ruleID] = forUser
		}
	}

	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("rows iteration error: %w", err)
	}

	return snap, nil
}

// IncrementUsage upserts the (rule, user) counter.
func (s *PostgresStore) IncrementUsage(ctx context.Context, ruleID, userID int64, by int) error {
	return incrementUsage(ctx, s.db, ruleID, userID, max(1, by))
}

// RecordRedemptions inserts one redemption per rule for the order and bumps the
// counters of the rows that were actually inserted, all in one transaction.
// It reports false when every rule of the order had already been recorded.
func (s *PostgresStore) RecordRedemptions(ctx context.Context, orderID string, userID int64, counts map[int64]int) (bool, error) {
	if orderID == "" {
		return false, errors.New("order id cannot be empty")
	}
	if len(counts) == 0 {
		return false, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op after Commit.
	defer func() { _ = tx.Rollback(ctx) }()

	// Sorted so concurrent orders lock counter rows in the same order.
	ruleIDs := make([]int64, 0, len(counts))
	for id := range counts {
		ruleIDs = append(ruleIDs, id)
	}
	slices.Sort(ruleIDs)

	recorded := false
	for _, ruleID := range ruleIDs {
		qty := max(1, counts[ruleID])

		tag, err := tx.Exec(ctx, `
			INSERT INTO gift_redemptions (order_id, rule_id, user_id, quantity)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (order_id, rule_id) DO NOTHING
		`, orderID, ruleID, userID, qty)
		if err != nil {
			return false, fmt.Errorf("failed to insert redemption for rule %d: %w", ruleID, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		if err := incrementUsage(ctx, tx, ruleID, userID, qty); err != nil {
			return false, err
		}
		recorded = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit redemptions: %w", err)
	}
	return recorded, nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func incrementUsage(ctx context.Context, db execer, ruleID, userID int64, by int) error {
	_, err := db.Exec(ctx, `
		INSERT INTO gift_rule_usage (rule_id, user_id, times_used)
		VALUES ($1, $2, $3)
		ON CONFLICT (rule_id, user_id)
		DO UPDATE SET times_used = gift_rule_usage.times_used + EXCLUDED.times_used
	`, ruleID, userID, by)
	if err != nil {
		return fmt.Errorf("failed to increment usage of rule %d: %w", ruleID, err)
	}
	return nil
}
