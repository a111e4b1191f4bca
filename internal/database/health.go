package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// requiredTables must exist before the service can answer rule or usage queries.
var requiredTables = []string{"gift_rules", "gift_rule_usage", "gift_redemptions", "products"}

// HealthChecker reports Postgres as ready once it answers and the schema is migrated.
type HealthChecker struct {
	pool *pgxpool.Pool
}

func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check pings the pool and then verifies that every table the service reads is present.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("postgres pool is nil")
	}
	if err := h.pool.Ping(ctx); err != nil {
		return err
	}

	var missing []string
	err := h.pool.QueryRow(ctx,
		`SELECT coalesce(array_agg(t), '{}') FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NULL`,
		requiredTables,
	).Scan(&missing)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema not migrated, missing tables: %v", missing)
	}
	return nil
}
