package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
)

var ErrOrderNotCancelable = errors.New("order cannot be canceled")

const orderColumns = `o.id, o.increment_id, o.store_code, o.state, o.status, o.payment_method, o.last_trans_id,
			o.currency_code, o.grand_total_cents, o.invoiced_cents, o.created_at, o.updated_at`

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) FindByIncrementID(ctx context.Context, incrementID string) (*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.increment_id = ?
		LIMIT 1
	`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, incrementID), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return order, nil
}

// ListByTransactionID walks the payment transaction index. One intent can back
// several orders (multi-shipping checkouts), so the result is ordered by id.
func (r *OrderRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]*entity.Order, error) {
	query := `
		SELECT DISTINCT ` + orderColumns + `
		FROM orders o
		LEFT JOIN order_payment_transactions t ON t.order_id = o.id
		WHERE o.last_trans_id = ?
		   OR SUBSTRING_INDEX(t.txn_id, '-', 1) = ?
		ORDER BY o.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, transactionID, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *OrderRepository) ListPendingPayment(ctx context.Context, methods []string, cutoff time.Time, limit int32) ([]*entity.Order, error) {
	if len(methods) == 0 {
		return []*entity.Order{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(methods)), ", ")
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.state = ?
		  AND o.payment_method IN (` + placeholders + `)
		  AND o.updated_at <= ?
		ORDER BY o.updated_at ASC
		LIMIT ?
	`

	args := make([]interface{}, 0, len(methods)+3)
	args = append(args, entity.OrderStatePendingPayment)
	for _, method := range methods {
		args = append(args, method)
	}
	args = append(args, cutoff, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOrders(rows)
}

// CancelOrClose cancels an order, or closes it when part of it was invoiced.
func (r *OrderRepository) CancelOrClose(ctx context.Context, order *entity.Order) error {
	state := entity.OrderStateCanceled
	if order.InvoicedCents > 0 {
		state = entity.OrderStateClosed
	}
	now := time.Now().UTC()

	query := `
		UPDATE orders SET
			state = ?,
			status = ?,
			updated_at = ?
		WHERE id = ?
		  AND state IN (?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		state,
		state,
		now,
		order.ID,
		entity.OrderStateNew,
		entity.OrderStatePendingPayment,
		entity.OrderStatePaymentReview,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotCancelable
	}

	order.State = state
	order.Status = state
	order.UpdatedAt = now
	return nil
}

// CancelOrCloseWithComment cancels the order and appends comment to its history
// in one transaction. A rejected cancel writes no history row.
func (r *OrderRepository) CancelOrCloseWithComment(ctx context.Context, order *entity.Order, comment string) error {
	beginner, ok := r.db.(txBeginner)
	if !ok {
		if err := r.CancelOrClose(ctx, order); err != nil {
			return err
		}
		return r.AddComment(ctx, order, comment)
	}

	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	previous := *order
	txRepo := NewOrderRepository(tx)
	if err := txRepo.CancelOrClose(ctx, order); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := txRepo.AddComment(ctx, order, comment); err != nil {
		_ = tx.Rollback()
		*order = previous
		return fmt.Errorf("add comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		*order = previous
		return err
	}

	return nil
}

func (r *OrderRepository) AddComment(ctx context.Context, order *entity.Order, comment string) error {
	item := &entity.OrderComment{
		OrderID:   order.ID,
		Status:    order.Status,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO order_status_history (order_id, status, comment, created_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, item.OrderID, item.Status, item.Comment, item.CreatedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = uint64(id)
	return nil
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var lastTransID sql.NullString

	err := scan.Scan(
		&order.ID,
		&order.IncrementID,
		&order.StoreCode,
		&order.State,
		&order.Status,
		&order.PaymentMethod,
		&lastTransID,
		&order.CurrencyCode,
		&order.GrandTotalCents,
		&order.InvoicedCents,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.LastTransID = stringPtrFromNull(lastTransID)
	return nil
}

func collectOrders(rows *sql.Rows) ([]*entity.Order, error) {
	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item := &entity.Order{}
		if err := scanOrder(rows, item); err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}
