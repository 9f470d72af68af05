package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
)

type CheckoutSessionRepository struct {
	db DBTX
}

func NewCheckoutSessionRepository(db DBTX) *CheckoutSessionRepository {
	return &CheckoutSessionRepository{db: db}
}

func (r *CheckoutSessionRepository) FindByOrderIncrementID(ctx context.Context, incrementID string) (*entity.CheckoutSession, error) {
	query := `
		SELECT id, order_increment_id, checkout_session_id, created_at, updated_at
		FROM stripe_checkout_sessions
		WHERE order_increment_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var sessionID sql.NullString
	item := &entity.CheckoutSession{}
	err := r.db.QueryRowContext(ctx, query, incrementID).Scan(
		&item.ID,
		&item.OrderIncrementID,
		&sessionID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.CheckoutSessionID = stringPtrFromNull(sessionID)
	return item, nil
}
