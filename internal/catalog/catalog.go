// Package catalog provides read access to the product catalogue: existence,
// publish and stock status, prices, category membership and variation structure.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StatusPublished is the only status under which a product can be sold or gifted.
const StatusPublished = "publish"

// ErrProductNotFound is returned when no product has the requested id.
var ErrProductNotFound = errors.New("product not found")

// Product is a sellable item or a variation of one.
type Product struct {
	ID int64 `json:"id"`

	// ParentID is set for variations and points at the variable product.
	ParentID int64  `json:"parent_id,omitempty"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	InStock  bool   `json:"in_stock"`

	Price decimal.Decimal `json:"price"`
	// TaxRate is a fraction, e.g. 0.20 for 20%.
	TaxRate decimal.Decimal `json:"tax_rate"`

	CategoryIDs []int64 `json:"category_ids"`

	// Attributes is the variation signature (e.g. {"color": "red"}).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Published reports whether the product is visible in the store.
func (p *Product) Published() bool {
	return p.Status == StatusPublished
}

// IsVariation reports whether the product is a variation of a parent product.
func (p *Product) IsVariation() bool {
	return p.ParentID != 0
}

// Compile-time check to verify that PostgresCatalog implements Reader.
var _ Reader = (*PostgresCatalog)(nil)

// Reader is the read side of the catalogue used by the cart and the gift controller.
type Reader interface {
	// Product returns the product or ErrProductNotFound.
	Product(ctx context.Context, id int64) (*Product, error)

	// CategoryIDs resolves category ids for each product id.
	// Variations resolve to their parent's categories. Unknown ids are omitted.
	CategoryIDs(ctx context.Context, productIDs []int64) (map[int64][]int64, error)
}

// PostgresCatalog reads products from the 'products' table.
type PostgresCatalog struct {
	db *pgxpool.Pool
}

// NewPostgresCatalog creates a catalogue reader over the given pool.
func NewPostgresCatalog(db *pgxpool.Pool) *PostgresCatalog {
	if db == nil {
		panic("catalog: database pool cannot be nil")
	}
	return &PostgresCatalog{db: db}
}

// Product loads a single product.
func (c *PostgresCatalog) Product(ctx context.Context, id int64) (*Product, error) {
	query := `
		SELECT id, COALESCE(parent_id, 0), name, status, in_stock,
		       price::text, tax_rate::text, category_ids, attributes
		FROM products
		WHERE id = $1
	`

	var (
		p          Product
		price      string
		taxRate    string
		attributes []byte
	)
	err := c.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.ParentID, &p.Name, &p.Status, &p.InStock,
		&price, &taxRate, &p.CategoryIDs, &attributes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to load product %d: %w", id, err)
	}

	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price for product %d: %w", id, err)
	}
	if p.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return nil, fmt.Errorf("invalid tax rate for product %d: %w", id, err)
	}
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &p.Attributes); err != nil {
			return nil, fmt.Errorf("invalid attributes for product %d: %w", id, err)
		}
	}

	return &p, nil
}

// CategoryIDs resolves categories in a single round trip.
func (c *PostgresCatalog) CategoryIDs(ctx context.Context, productIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT p.id, COALESCE(parent.category_ids, p.category_ids)
		FROM products p
		LEFT JOIN products parent ON parent.id = p.parent_id
		WHERE p.id = ANY($1)
	`

	rows, err := c.db.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id         int64
			categories []int64
		)
		if err := rows.Scan(&id, &categories); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		result[id] = categories
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}
