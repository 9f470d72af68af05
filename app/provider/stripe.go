package provider

import (
	"context"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

const pingProductName = "Webhook Ping"

type StripeConfig struct {
	APIBaseURL  string
	HTTPTimeout time.Duration
	Logger      logrus.FieldLogger
}

type StripeGateway struct {
	api *client.API
}

func NewStripeGatewayFactory(cfg StripeConfig) GatewayFactory {
	return func(tenant Tenant) Gateway {
		return NewStripeGateway(tenant.SecretKey, cfg)
	}
}

func NewStripeGateway(secretKey string, cfg StripeConfig) *StripeGateway {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, newBackendConfig(cfg, httpClient)),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, newBackendConfig(cfg, httpClient)),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, newBackendConfig(cfg, httpClient)),
	}

	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

// newBackendConfig disables SDK retries: a failed call is retried on the next
// scheduled pass instead.
func newBackendConfig(cfg StripeConfig, httpClient *http.Client) *stripe.BackendConfig {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.Logger != nil {
		backendCfg.LeveledLogger = cfg.Logger
	}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); baseURL != "" {
		backendCfg.URL = stripe.String(baseURL)
	}
	return backendCfg
}

func (g *StripeGateway) CreatePingProduct(ctx context.Context, publishableKey string) (*Product, error) {
	params := &stripe.ProductParams{Name: stripe.String(pingProductName)}
	params.Context = ctx
	params.AddMetadata("pk", publishableKey)

	product, err := g.api.Products.New(params)
	if err != nil {
		return nil, err
	}

	return &Product{ID: product.ID, Created: unixTime(product.Created)}, nil
}

func (g *StripeGateway) DeleteProduct(ctx context.Context, productID string) error {
	params := &stripe.ProductParams{}
	params.Context = ctx

	_, err := g.api.Products.Del(productID, params)
	return err
}

func (g *StripeGateway) PaymentIntents(ctx context.Context, filter ListFilter) iter.Seq2[*PaymentIntent, error] {
	return func(yield func(*PaymentIntent, error) bool) {
		params := &stripe.PaymentIntentListParams{
			CreatedRange: &stripe.RangeQueryParams{
				GreaterThanOrEqual: filter.CreatedFrom.Unix(),
				LesserThanOrEqual:  filter.CreatedTo.Unix(),
			},
		}
		params.Context = ctx
		params.Limit = stripe.Int64(filter.pageSize())
		for _, field := range filter.Expand {
			params.AddExpand(field)
		}

		it := g.api.PaymentIntents.List(params)
		for it.Next() {
			if !yield(paymentIntentFromStripe(it.PaymentIntent()), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (g *StripeGateway) SetupIntents(ctx context.Context, filter ListFilter) iter.Seq2[*SetupIntent, error] {
	return func(yield func(*SetupIntent, error) bool) {
		params := &stripe.SetupIntentListParams{
			CreatedRange: &stripe.RangeQueryParams{
				GreaterThanOrEqual: filter.CreatedFrom.Unix(),
				LesserThanOrEqual:  filter.CreatedTo.Unix(),
			},
		}
		params.Context = ctx
		params.Limit = stripe.Int64(filter.pageSize())
		for _, field := range filter.Expand {
			params.AddExpand(field)
		}

		it := g.api.SetupIntents.List(params)
		for it.Next() {
			if !yield(setupIntentFromStripe(it.SetupIntent()), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, err
	}
	return paymentIntentFromStripe(pi), nil
}

func (g *StripeGateway) CancelPaymentIntent(ctx context.Context, id string, reason string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentCancelParams{CancellationReason: stripe.String(reason)}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Cancel(id, params)
	if err != nil {
		return nil, err
	}
	return paymentIntentFromStripe(pi), nil
}

func (g *StripeGateway) CancelSetupIntent(ctx context.Context, id string, reason string) (*SetupIntent, error) {
	params := &stripe.SetupIntentCancelParams{CancellationReason: stripe.String(reason)}
	params.Context = ctx

	si, err := g.api.SetupIntents.Cancel(id, params)
	if err != nil {
		return nil, err
	}
	return setupIntentFromStripe(si), nil
}

func (g *StripeGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	_, err := g.api.CheckoutSessions.Expire(sessionID, params)
	return err
}

func (f ListFilter) pageSize() int64 {
	if f.PageSize > 0 && f.PageSize <= 100 {
		return f.PageSize
	}
	return 100
}

func paymentIntentFromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}

	result := &PaymentIntent{
		ID:       pi.ID,
		Status:   ParseIntentStatus(string(pi.Status)),
		Created:  unixTime(pi.Created),
		Currency: string(pi.Currency),
		Amount:   pi.Amount,
		Metadata: cloneMetadata(pi.Metadata),
	}
	if pi.PaymentMethod != nil {
		result.PaymentMethodType = string(pi.PaymentMethod.Type)
	}
	if na := pi.NextAction; na != nil {
		action := &NextAction{Type: string(na.Type)}
		switch {
		case na.OXXODisplayDetails != nil:
			action.ExpiresAt = unixTime(na.OXXODisplayDetails.ExpiresAfter)
		case na.BoletoDisplayDetails != nil:
			action.ExpiresAt = unixTime(na.BoletoDisplayDetails.ExpiresAt)
		case na.KonbiniDisplayDetails != nil:
			action.ExpiresAt = unixTime(na.KonbiniDisplayDetails.ExpiresAt)
		}
		result.NextAction = action
	}

	return result
}

func setupIntentFromStripe(si *stripe.SetupIntent) *SetupIntent {
	if si == nil {
		return nil
	}
	return &SetupIntent{
		ID:      si.ID,
		Status:  ParseIntentStatus(string(si.Status)),
		Created: unixTime(si.Created),
	}
}

func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
