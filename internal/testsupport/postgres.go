// Package testsupport starts throwaway Postgres and Redis containers for the
// integration suites and seeds them with gift rules fixtures.
package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/giftrules/internal/catalog"
	"github.com/rafaeljc/giftrules/internal/config"
	"github.com/rafaeljc/giftrules/internal/database"
)

// domainTables are emptied by Reset, children first.
var domainTables = []string{"gift_redemptions", "gift_rule_usage", "gift_rules", "products"}

// PostgresContainer is a migrated database plus a pool built by database.NewPostgresPool.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// Reset truncates every gift rules table and restarts their sequences,
// so sequential scenarios can start from an empty store.
func (c *PostgresContainer) Reset(ctx context.Context) error {
	stmt := "TRUNCATE " + strings.Join(domainTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := c.DB.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to reset tables: %w", err)
	}
	return nil
}

// SeedProducts inserts catalogue rows in one batch. Parents must precede
// their variations in the argument list.
func (c *PostgresContainer) SeedProducts(ctx context.Context, products ...catalog.Product) error {
	batch := &pgx.Batch{}
	for _, p := range products {
		var parent *int64
		if p.ParentID != 0 {
			parent = &p.ParentID
		}
		var attrs []byte
		if len(p.Attributes) > 0 {
			var err error
			if attrs, err = json.Marshal(p.Attributes); err != nil {
				return fmt.Errorf("failed to encode attributes of product %d: %w", p.ID, err)
			}
		}
		status := p.Status
		if status == "" {
			status = catalog.StatusPublished
		}
		categories := p.CategoryIDs
		if categories == nil {
			categories = []int64{}
		}

		batch.Queue(`
			INSERT INTO products (id, parent_id, name, status, in_stock, price, tax_rate, category_ids, attributes)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)`,
			p.ID, parent, p.Name, status, p.InStock,
			p.Price.String(), p.TaxRate.String(), categories, attrs,
		)
	}

	if err := c.DB.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}
	return nil
}

// StartPostgresContainer runs postgres:15-alpine with every .sql file of
// migrationsDir applied in file-name order.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	migrations, err := migrationFiles(migrationsDir)
	if err != nil {
		return nil, err
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("giftrules_test"),
		postgres.WithUsername("giftrules"),
		postgres.WithPassword("giftrules"),
		postgres.WithInitScripts(migrations...),
		testcontainers.WithWaitStrategy(
			// The init scripts restart the server once, hence two occurrences.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(15*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:             connStr,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		PingMaxRetries:  5,
		PingBackoff:     500 * time.Millisecond,
	})
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &PostgresContainer{
		Container:        pgContainer,
		DB:               pool,
		ConnectionString: connStr,
	}, nil
}

func migrationFiles(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, filepath.Join(abs, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", abs)
	}

	slices.Sort(files)
	return files, nil
}
