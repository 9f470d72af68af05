package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
)

type WebhookEndpointRepository struct {
	db DBTX
}

func NewWebhookEndpointRepository(db DBTX) *WebhookEndpointRepository {
	return &WebhookEndpointRepository{db: db}
}

func (r *WebhookEndpointRepository) ListActive(ctx context.Context) ([]*entity.WebhookEndpoint, error) {
	query := `
		SELECT id, store_code, publishable_key, config_version, url, enabled_events,
			active, last_event, created_at, updated_at
		FROM stripe_webhooks
		WHERE active = 1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	endpoints := make([]*entity.WebhookEndpoint, 0)
	for rows.Next() {
		item := &entity.WebhookEndpoint{}
		if err := scanWebhookEndpoint(rows, item); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return endpoints, nil
}

func scanWebhookEndpoint(scan rowScanner, endpoint *entity.WebhookEndpoint) error {
	var enabledEvents string
	var lastEvent sql.NullTime

	err := scan.Scan(
		&endpoint.ID,
		&endpoint.StoreCode,
		&endpoint.PublishableKey,
		&endpoint.ConfigVersion,
		&endpoint.URL,
		&enabledEvents,
		&endpoint.Active,
		&lastEvent,
		&endpoint.CreatedAt,
		&endpoint.UpdatedAt,
	)
	if err != nil {
		return err
	}

	endpoint.LastEvent = timePtrFromNull(lastEvent)

	events, err := parseStringList(enabledEvents)
	if err != nil {
		return err
	}
	endpoint.EnabledEvents = events

	return nil
}
