package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

const (
	scanPageSize        = int64(100)
	expandPaymentMethod = "data.payment_method"
)

// Window bounds intent creation times on the gateway clock, both ends
// inclusive.
type Window struct {
	From time.Time
	To   time.Time
}

func NewWindow(now time.Time, offset int64, minAge, maxAge time.Duration) (Window, error) {
	if minAge < 0 || maxAge <= minAge {
		return Window{}, ErrInvalidWindow
	}
	remoteNow := now.Add(time.Duration(offset) * time.Second)
	return Window{
		From: remoteNow.Add(-maxAge),
		To:   remoteNow.Add(-minAge),
	}, nil
}

type ScannedIntent struct {
	Tenant        provider.Tenant
	Kind          IntentKind
	PaymentIntent *provider.PaymentIntent
	SetupIntent   *provider.SetupIntent
}

func (s ScannedIntent) ID() string {
	switch {
	case s.PaymentIntent != nil:
		return s.PaymentIntent.ID
	case s.SetupIntent != nil:
		return s.SetupIntent.ID
	}
	return ""
}

// Scan walks every configured tenant in order. A tenant error is yielded once
// and ends that tenant's scan; the next tenant still runs.
func (s *ReconcileService) Scan(ctx context.Context, window Window) iter.Seq2[ScannedIntent, error] {
	return func(yield func(ScannedIntent, error) bool) {
		for _, tenant := range s.registry.Tenants() {
			gw, err := s.registry.Gateway(tenant)
			if err != nil {
				if !yield(ScannedIntent{Tenant: tenant}, err) {
					return
				}
				continue
			}
			for item, err := range scanTenant(ctx, tenant, gw, window) {
				if !yield(item, err) {
					return
				}
			}
		}
	}
}

func scanTenant(ctx context.Context, tenant provider.Tenant, gw provider.Gateway, window Window) iter.Seq2[ScannedIntent, error] {
	return func(yield func(ScannedIntent, error) bool) {
		filter := provider.ListFilter{
			CreatedFrom: window.From,
			CreatedTo:   window.To,
			PageSize:    scanPageSize,
			Expand:      []string{expandPaymentMethod},
		}

		for pi, err := range gw.PaymentIntents(ctx, filter) {
			if err != nil {
				yield(ScannedIntent{Tenant: tenant, Kind: IntentKindPayment}, fmt.Errorf("list payment intents for %s: %w", tenant.StoreCode, err))
				return
			}
			if !yield(ScannedIntent{Tenant: tenant, Kind: IntentKindPayment, PaymentIntent: pi}, nil) {
				return
			}
		}

		for si, err := range gw.SetupIntents(ctx, filter) {
			if err != nil {
				yield(ScannedIntent{Tenant: tenant, Kind: IntentKindSetup}, fmt.Errorf("list setup intents for %s: %w", tenant.StoreCode, err))
				return
			}
			if !yield(ScannedIntent{Tenant: tenant, Kind: IntentKindSetup, SetupIntent: si}, nil) {
				return
			}
		}
	}
}
