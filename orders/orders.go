// Package orders is the boundary to the persisted order table. Rows are
// decoded into models.OrderRecord exactly once here; business logic never
// touches column names. Each write is a single statement.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"xmr-payment-svc/models"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("order not found")

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const orderColumns = "id, COALESCE(payment_id, ''), status, created_at, updated_at"

func (s *Store) scanOrder(row *sql.Row) (models.OrderRecord, error) {
	var o models.OrderRecord
	err := row.Scan(&o.ID, &o.PaymentID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OrderRecord{}, ErrNotFound
		}
		return models.OrderRecord{}, fmt.Errorf("failed to scan order: %w", err)
	}
	return o, nil
}

func (s *Store) Get(ctx context.Context, orderID string) (models.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1",
		orderID,
	)
	return s.scanOrder(row)
}

func (s *Store) GetByPaymentID(ctx context.Context, paymentID string) (models.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE payment_id = $1",
		paymentID,
	)
	return s.scanOrder(row)
}

func (s *Store) SetStatus(ctx context.Context, orderID, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		status, orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetPaymentID(ctx context.Context, orderID, paymentID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		paymentID, orderID,
	)
	if err != nil {
		return fmt.Errorf("failed to link order to payment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLinked returns every order that carries a payment id. The repair
// sweep walks these to find rows whose payment no longer points back.
func (s *Store) ListLinked(ctx context.Context) ([]models.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE payment_id IS NOT NULL AND payment_id <> ''",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked orders: %w", err)
	}
	defer rows.Close()

	var out []models.OrderRecord
	for rows.Next() {
		var o models.OrderRecord
		if err := rows.Scan(&o.ID, &o.PaymentID, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate linked orders: %w", err)
	}
	return out, nil
}
