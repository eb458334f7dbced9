package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrInsufficientStock is returned when a decrement would drive a product's
// stock below zero.
var ErrInsufficientStock = errors.New("insufficient stock")

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store is the read surface the HTTP layer uses.
type Store interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so stock mutations
// can run standalone or inside an order transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgCatalog struct{ DB *pgxpool.Pool }

// GetProduct returns the product regardless of its active flag, or nil when
// no such row exists. Callers decide what inactive means for them.
func (c *PgCatalog) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := c.DB.QueryRow(ctx, `
		SELECT id, name, description, price, stock_quantity, is_active, created_at, updated_at
		FROM products WHERE id = $1`, id)
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *PgCatalog) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := c.DB.Query(ctx, `
		SELECT id, name, description, price, stock_quantity, is_active, created_at, updated_at
		FROM products WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
			&p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *PgCatalog) DecrementStock(ctx context.Context, id string, qty int) error {
	return DecrementStockTx(ctx, c.DB, id, qty)
}

func (c *PgCatalog) IncrementStock(ctx context.Context, id string, qty int) error {
	return IncrementStockTx(ctx, c.DB, id, qty)
}

// DecrementStockTx is a compare-and-decrement: the quantity guard in the WHERE
// clause re-validates stock at commit time, so two concurrent buyers cannot
// drive the counter negative.
func DecrementStockTx(ctx context.Context, q Querier, id string, qty int) error {
	ct, err := q.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// IncrementStockTx restores stock. No upper bound is enforced.
func IncrementStockTx(ctx context.Context, q Querier, id string, qty int) error {
	_, err := q.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1`, id, qty)
	return err
}
