package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
)

const defaultPendingOrderLifetime = 8 * time.Hour

var expirableOrderMethods = []string{entity.PaymentMethodStripe, entity.PaymentMethodStripeExpress}

// RunCleanExpiredOrders cancels pending-payment orders that outlived their
// lifetime unless their payment intent is still in flight. Orders whose intent
// cannot be fetched are retried on the next run.
func (s *ReconcileService) RunCleanExpiredOrders(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.shortestPendingOrderLifetime())
	orders, err := s.orderRepo.ListPendingPayment(ctx, expirableOrderMethods, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, order := range orders {
		if order == nil {
			continue
		}
		if order.UpdatedAt.After(now.Add(-s.pendingOrderLifetime(order.StoreCode))) {
			continue
		}
		logger := s.logger.WithFields(logrus.Fields{"order": order.IncrementID, "store_code": order.StoreCode})

		inFlight, err := s.paymentInFlight(ctx, order, now)
		if err != nil {
			logger.WithError(err).Warn("payment intent lookup failed, order kept for next run")
			continue
		}
		if inFlight {
			continue
		}

		if err := s.orderRepo.CancelOrClose(ctx, order); err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		logger.WithField("state", order.State).Info("expired pending order")
	}

	return firstErr
}

func (s *ReconcileService) paymentInFlight(ctx context.Context, order *entity.Order, now time.Time) (bool, error) {
	intentID := cleanTransactionID(order.LastTransID)
	if !strings.HasPrefix(intentID, "pi_") {
		return false, nil
	}

	tenant, err := s.registry.TenantForStore(order.StoreCode)
	if err != nil {
		return false, err
	}
	gw, err := s.registry.Gateway(tenant)
	if err != nil {
		return false, err
	}

	pi, err := gw.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		return false, err
	}
	return isSuccessful(pi) || isAsyncProcessing(pi) || awaitsOfflineAction(pi, now), nil
}

// cleanTransactionID strips the "-capture"/"-refund" style suffixes appended
// to transaction ids.
func cleanTransactionID(transID *string) string {
	if transID == nil {
		return ""
	}
	id, _, _ := strings.Cut(strings.TrimSpace(*transID), "-")
	return id
}

func (s *ReconcileService) pendingOrderLifetime(storeCode string) time.Duration {
	if lifetime := s.reconcileCfg.PendingOrderLifetimeByStore[storeCode]; lifetime > 0 {
		return lifetime
	}
	if s.reconcileCfg.PendingOrderLifetime > 0 {
		return s.reconcileCfg.PendingOrderLifetime
	}
	return defaultPendingOrderLifetime
}

// shortestPendingOrderLifetime bounds the listing query so every store's
// candidates are fetched; per-store lifetimes are applied to each order.
func (s *ReconcileService) shortestPendingOrderLifetime() time.Duration {
	shortest := s.pendingOrderLifetime("")
	for _, lifetime := range s.reconcileCfg.PendingOrderLifetimeByStore {
		if lifetime > 0 && lifetime < shortest {
			shortest = lifetime
		}
	}
	return shortest
}
