package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

const abandonedCartComment = "Customer abandoned the cart. The payment session has expired."

// CancelPaymentIntent cancels the local orders behind an abandoned intent and
// then the intent itself. Checkout orders expire their session instead of
// canceling the intent directly. Every failure is captured in the result.
func (s *ReconcileService) CancelPaymentIntent(
	ctx context.Context,
	tenant provider.Tenant,
	gw provider.Gateway,
	pi *provider.PaymentIntent,
	sink OutputSink,
) (*provider.PaymentIntent, IntentResult) {
	sink = sinkOrNop(sink)
	result := IntentResult{Tenant: tenant.StoreCode, IntentID: pi.ID, Kind: IntentKindPayment}
	logger := s.logger.WithFields(logrus.Fields{"store_code": tenant.StoreCode, "payment_intent": pi.ID})

	resolution, err := s.ResolveOrders(ctx, pi)
	if err != nil {
		logger.WithError(err).Error("order lookup failed")
		sink.Error(fmt.Sprintf("Could not look up orders for payment intent %s: %v", pi.ID, err))
		result.Outcome = OutcomeFailed
		result.Reason = "order lookup failed: " + err.Error()
		return nil, result
	}

	// Intents nobody in this store created are left alone.
	if resolution.Source == ResolutionSourceTransaction && len(resolution.Orders) == 0 {
		logger.Debug("no local order for payment intent")
		result.Outcome = OutcomeSkipped
		result.Reason = "no local order"
		return nil, result
	}

	paymentMethod := s.cancelOrders(ctx, pi, resolution.Orders, &result, sink)

	if paymentMethod == entity.PaymentMethodStripeCheckout && resolution.IncrementID != "" {
		return s.expireCheckoutSession(ctx, gw, pi, resolution.IncrementID, result, sink)
	}

	canceled, err := gw.CancelPaymentIntent(ctx, pi.ID, provider.CancellationReasonAbandoned)
	if err != nil {
		logger.WithError(err).Error("payment intent cancel failed")
		sink.Error(fmt.Sprintf("Could not cancel payment intent %s: %v", pi.ID, err))
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return nil, result
	}

	sink.Info(fmt.Sprintf("Canceled payment intent %s", pi.ID))
	result.Outcome = OutcomeCanceled
	return canceled, result
}

func (s *ReconcileService) CancelSetupIntent(
	ctx context.Context,
	tenant provider.Tenant,
	gw provider.Gateway,
	si *provider.SetupIntent,
	sink OutputSink,
) (*provider.SetupIntent, IntentResult) {
	sink = sinkOrNop(sink)
	result := IntentResult{Tenant: tenant.StoreCode, IntentID: si.ID, Kind: IntentKindSetup}

	canceled, err := gw.CancelSetupIntent(ctx, si.ID, provider.CancellationReasonAbandoned)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{"store_code": tenant.StoreCode, "setup_intent": si.ID}).Error("setup intent cancel failed")
		sink.Error(fmt.Sprintf("Could not cancel setup intent %s: %v", si.ID, err))
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return nil, result
	}

	sink.Info(fmt.Sprintf("Canceled setup intent %s", si.ID))
	result.Outcome = OutcomeCanceled
	return canceled, result
}

// cancelOrders handles each order on its own and returns the payment method of
// the last one.
func (s *ReconcileService) cancelOrders(
	ctx context.Context,
	pi *provider.PaymentIntent,
	orders []*entity.Order,
	result *IntentResult,
	sink OutputSink,
) string {
	paymentMethod := ""
	for _, order := range orders {
		paymentMethod = order.PaymentMethod
		logger := s.logger.WithFields(logrus.Fields{"order": order.IncrementID, "payment_intent": pi.ID})

		if !order.CanCancel() {
			sink.Info(fmt.Sprintf("Order #%s cannot be canceled (state %s)", order.IncrementID, order.State))
			result.Orders = append(result.Orders, OrderResult{
				IncrementID: order.IncrementID,
				Outcome:     OutcomeSkipped,
				Reason:      "order state " + order.State,
			})
			continue
		}

		if err := s.cancelOrder(ctx, order); err != nil {
			logger.WithError(err).Error("order cancel failed")
			sink.Error(fmt.Sprintf("Could not cancel order #%s: %v", order.IncrementID, err))
			result.Orders = append(result.Orders, OrderResult{
				IncrementID: order.IncrementID,
				Outcome:     OutcomeFailed,
				Reason:      err.Error(),
			})
			continue
		}

		sink.Info(fmt.Sprintf("Canceled order #%s for payment intent %s", order.IncrementID, pi.ID))
		result.Orders = append(result.Orders, OrderResult{IncrementID: order.IncrementID, Outcome: OutcomeCanceled})
	}
	return paymentMethod
}

// cancelOrder writes the history comment only together with a successful
// cancel, so a rejected cancel is retried on the next pass without piling up
// duplicate comments.
func (s *ReconcileService) cancelOrder(ctx context.Context, order *entity.Order) error {
	return s.orderRepo.CancelOrCloseWithComment(ctx, order, abandonedCartComment)
}

// expireCheckoutSession leaves the intent untouched when no session id was
// stored for the order.
func (s *ReconcileService) expireCheckoutSession(
	ctx context.Context,
	gw provider.Gateway,
	pi *provider.PaymentIntent,
	incrementID string,
	result IntentResult,
	sink OutputSink,
) (*provider.PaymentIntent, IntentResult) {
	logger := s.logger.WithFields(logrus.Fields{"order": incrementID, "payment_intent": pi.ID})

	session, err := s.checkoutRepo.FindByOrderIncrementID(ctx, incrementID)
	if err != nil {
		logger.WithError(err).Error("checkout session lookup failed")
		sink.Error(fmt.Sprintf("Could not look up checkout session for order #%s: %v", incrementID, err))
		result.Outcome = OutcomeFailed
		result.Reason = "checkout session lookup failed: " + err.Error()
		return nil, result
	}
	if session == nil || session.CheckoutSessionID == nil || strings.TrimSpace(*session.CheckoutSessionID) == "" {
		logger.Info("checkout session not found")
		result.Outcome = OutcomeSkipped
		result.Reason = "checkout session not found"
		return nil, result
	}

	sessionID := strings.TrimSpace(*session.CheckoutSessionID)
	if err := gw.ExpireCheckoutSession(ctx, sessionID); err != nil {
		logger.WithError(err).WithField("checkout_session", sessionID).Error("checkout session expire failed")
		sink.Error(fmt.Sprintf("Could not expire checkout session %s: %v", sessionID, err))
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return nil, result
	}

	refreshed, err := gw.RetrievePaymentIntent(ctx, pi.ID)
	if err != nil {
		logger.WithError(err).Error("payment intent retrieve failed")
		sink.Error(fmt.Sprintf("Could not retrieve payment intent %s: %v", pi.ID, err))
		result.Outcome = OutcomeFailed
		result.Reason = err.Error()
		return nil, result
	}

	sink.Info(fmt.Sprintf("Expired checkout session %s for payment intent %s", sessionID, pi.ID))
	result.Outcome = OutcomeExpiredSession
	return refreshed, result
}
