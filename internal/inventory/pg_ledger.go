package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger keeps stock in the products table. Each reserve is one
// conditional UPDATE, so the row lock taken by Postgres is the per-product
// lock and the check-and-decrement cannot interleave.
type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return orders.ErrInvalidQuantity
	}
	var left int
	err := l.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&left)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reserve %s: %w: %v", productID, orders.ErrStoreUnavailable, err)
	}

	// either unknown product or not enough stock
	avail, aerr := l.Available(ctx, productID)
	if aerr != nil {
		return aerr
	}
	return &orders.InsufficientStockError{ProductID: productID, Requested: qty, Available: avail}
}

func (l *PGLedger) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return orders.ErrInvalidQuantity
	}
	ct, err := l.DB.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, productID, qty)
	if err != nil {
		return fmt.Errorf("release %s: %w: %v", productID, orders.ErrStoreUnavailable, err)
	}
	if ct.RowsAffected() != 1 {
		return orders.NotFoundf("product", productID)
	}
	return nil
}

func (l *PGLedger) Available(ctx context.Context, productID string) (int, error) {
	var stock int
	err := l.DB.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, orders.NotFoundf("product", productID)
	}
	if err != nil {
		return 0, fmt.Errorf("stock %s: %w: %v", productID, orders.ErrStoreUnavailable, err)
	}
	return stock, nil
}

func (l *PGLedger) SetStock(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return orders.ErrInvalidQuantity
	}
	_, err := l.DB.Exec(ctx, `
		INSERT INTO products(id, sku, name, stock, price_cents)
		VALUES ($1, $1, $1, $2, 0)
		ON CONFLICT (id) DO UPDATE SET stock = EXCLUDED.stock, updated_at = now()`, productID, qty)
	if err != nil {
		return fmt.Errorf("set stock %s: %w: %v", productID, orders.ErrStoreUnavailable, err)
	}
	return nil
}
