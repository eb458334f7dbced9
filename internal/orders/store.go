package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmarket/order-service/internal/catalog"
)

// Store persists orders and their items. Implementations must enforce the
// unique constraint on order_number and commit each multi-row write as a
// single atomic unit: a failure leaves no visible trace.
type Store interface {
	// CreateOrder inserts the order and its items; when decrementStock is
	// set it also decrements each item's product stock in the same unit,
	// failing the whole write with ErrInsufficientStock if stock ran out
	// between validation and commit.
	CreateOrder(ctx context.Context, o *Order, decrementStock bool) error

	// MarkCancelled flips the order to cancelled and, when restock is set,
	// restores each item's product stock in the same unit. Returns
	// ErrInvalidTransition if the order reached a terminal state first.
	MarkCancelled(ctx context.Context, id string, restock bool) error

	// UpdateStatus moves from -> to, returning ErrConflict if the stored
	// status is no longer `from`.
	UpdateStatus(ctx context.Context, id string, from, to Status) error

	// GetOrder returns the order with items attached, or nil when absent.
	GetOrder(ctx context.Context, id string) (*Order, error)

	ListOrders(ctx context.Context, f Filter) ([]*Order, error)

	OrderNumberExists(ctx context.Context, number string) (bool, error)
}

// StockLedger is the product catalog's contract: the authoritative counter of
// purchasable units per product.
type StockLedger interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
}

type PgStore struct{ DB *pgxpool.Pool }

const defaultListLimit = 100

func (s *PgStore) CreateOrder(ctx context.Context, o *Order, decrementStock bool) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, order_number, order_type, status, total_amount, notes, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.Number, o.Type, o.Status, o.TotalAmount, o.Notes, o.UserID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return translatePgError(err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			o.ID, it.ProductID, it.Quantity, it.UnitPrice, it.TotalPrice).Scan(&it.ID)
		if err != nil {
			return translatePgError(err)
		}
		if decrementStock {
			if err := catalog.DecrementStockTx(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) MarkCancelled(ctx context.Context, id string, restock bool) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The status guard makes a lost race against another canceller (or a
	// release) fail here instead of restocking twice.
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, StatusCancelled, StatusReleased, StatusCancelled)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("order %s already terminal: %w", id, ErrInvalidTransition)
	}

	if restock {
		rows, err := tx.Query(ctx, `
			SELECT product_id, quantity FROM order_items WHERE order_id = $1`, id)
		if err != nil {
			return err
		}
		var items []ItemQty
		for rows.Next() {
			var it ItemQty
			if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
				rows.Close()
				return err
			}
			items = append(items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, it := range items {
			if err := catalog.IncrementStockTx(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

func (s *PgStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("order %s moved past %s: %w", id, from, ErrConflict)
	}
	return nil
}

func (s *PgStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT o.id, o.order_number, o.order_type, o.status, o.total_amount, o.notes,
		       o.user_id, COALESCE(u.full_name, ''), o.created_at, o.updated_at
		FROM orders o
		LEFT JOIN users u ON u.id = o.user_id
		WHERE o.id = $1`, id)

	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.Type, &o.Status, &o.TotalAmount, &o.Notes,
		&o.UserID, &o.UserName, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, []*Order{&o}); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PgStore) ListOrders(ctx context.Context, f Filter) ([]*Order, error) {
	q := `
		SELECT o.id, o.order_number, o.order_type, o.status, o.total_amount, o.notes,
		       o.user_id, COALESCE(u.full_name, ''), o.created_at, o.updated_at
		FROM orders o
		LEFT JOIN users u ON u.id = o.user_id
		WHERE true`
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		q += fmt.Sprintf(" AND o.user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(" AND o.status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		q += fmt.Sprintf(" AND o.order_type = $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY o.created_at DESC LIMIT $%d", len(args))

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Number, &o.Type, &o.Status, &o.TotalAmount, &o.Notes,
			&o.UserID, &o.UserName, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`, number).Scan(&exists)
	return exists, err
}

func (s *PgStore) loadItems(ctx context.Context, os []*Order) error {
	if len(os) == 0 {
		return nil
	}
	ids := make([]string, 0, len(os))
	byID := make(map[string]*Order, len(os))
	for _, o := range os {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := s.DB.Query(ctx, `
		SELECT i.id, i.order_id, i.product_id, p.name, p.price, i.quantity, i.unit_price, i.total_price
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.ProductPrice, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return err
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
	}
	return err
}
