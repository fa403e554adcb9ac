package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation   = "23505"
	orderIdemConstraint = "orders_idempotency_key_key"
)

// Postgres keeps the full order as jsonb next to the columns used for
// filtering and the revision used for compare-and-swap.
type Postgres struct{ DB *pgxpool.Pool }

func (s *Postgres) Put(ctx context.Context, o *orders.Order, expectedRevision int64) error {
	next := o.Clone()
	next.Revision = expectedRevision + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", o.ID, err)
	}

	if expectedRevision == 0 {
		_, err = s.DB.Exec(ctx, `
			INSERT INTO orders(id, order_number, idempotency_key, customer_id, vendor_ids, status, revision, created_at, updated_at, doc)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10::jsonb)`,
			next.ID, next.Number, next.IdempotencyKey, next.CustomerID, next.VendorIDs,
			string(next.Status), next.Revision, next.CreatedAt, next.UpdatedAt, doc)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				if pgErr.ConstraintName == orderIdemConstraint {
					return orders.ErrDuplicateIdempotencyKey
				}
				return orders.ErrRevisionConflict
			}
			return unavailable("insert order", err)
		}
		o.Revision = next.Revision
		return nil
	}

	ct, err := s.DB.Exec(ctx, `
		UPDATE orders SET status = $3, vendor_ids = $4, revision = $5, updated_at = $6, doc = $7::jsonb
		WHERE id = $1 AND revision = $2`,
		next.ID, expectedRevision, string(next.Status), next.VendorIDs, next.Revision, next.UpdatedAt, doc)
	if err != nil {
		return unavailable("update order", err)
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrRevisionConflict
	}
	o.Revision = next.Revision
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*orders.Order, error) {
	return s.one(ctx, `SELECT doc FROM orders WHERE id = $1`, id, "order")
}

func (s *Postgres) FindByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error) {
	return s.one(ctx, `SELECT doc FROM orders WHERE idempotency_key = $1`, key, "idempotency key")
}

func (s *Postgres) one(ctx context.Context, q, arg, kind string) (*orders.Order, error) {
	var doc []byte
	err := s.DB.QueryRow(ctx, q, arg).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.NotFoundf(kind, arg)
	}
	if err != nil {
		return nil, unavailable("get order", err)
	}
	return decode(doc)
}

func (s *Postgres) Patch(ctx context.Context, id string, expectedRevision int64, p Patch) (*orders.Order, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.NotFoundf("order", id)
	}
	if err != nil {
		return nil, unavailable("lock order", err)
	}
	o, err := decode(doc)
	if err != nil {
		return nil, err
	}
	if o.Revision != expectedRevision {
		return nil, orders.ErrRevisionConflict
	}

	p.Apply(o)
	if doc, err = json.Marshal(o); err != nil {
		return nil, fmt.Errorf("encode order %s: %w", id, err)
	}
	if _, err = tx.Exec(ctx, `UPDATE orders SET revision = $2, updated_at = $3, doc = $4::jsonb WHERE id = $1`,
		id, o.Revision, o.UpdatedAt, doc); err != nil {
		return nil, unavailable("patch order", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit", err)
	}
	return o, nil
}

func (s *Postgres) Query(ctx context.Context, f Filter) ([]*orders.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.VendorID != "" {
		add("$%d = ANY(vendor_ids)", f.VendorID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT doc FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable("query orders", err)
	}
	defer rows.Close()

	out := make([]*orders.Order, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan order", err)
		}
		o, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query orders", err)
	}
	return out, nil
}

func decode(doc []byte) (*orders.Order, error) {
	var o orders.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, orders.ErrStoreUnavailable, err)
}
