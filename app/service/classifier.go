package service

import (
	"time"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

type Classification struct {
	Abandoned bool
	Reason    string
}

var offlineActionTypes = map[string]struct{}{
	provider.NextActionDisplayBankTransferInstructions: {},
	provider.NextActionOXXODisplayDetails:              {},
	provider.NextActionBoletoDisplayDetails:            {},
	provider.NextActionKonbiniDisplayDetails:           {},
	provider.NextActionMultibancoDisplayDetails:        {},
}

// ClassifyPaymentIntent applies the exclusions in order and stops at the first
// one that matches.
func ClassifyPaymentIntent(pi *provider.PaymentIntent, now time.Time) Classification {
	switch {
	case pi == nil:
		return Classification{Reason: "missing payment intent"}
	case isSuccessful(pi):
		return Classification{Reason: "payment succeeded"}
	case isAsyncProcessing(pi):
		return Classification{Reason: "payment is processing"}
	case awaitsOfflineAction(pi, now):
		return Classification{Reason: "awaiting offline customer action"}
	case !isCancelable(pi.Status):
		return Classification{Reason: "status " + pi.Status.String() + " cannot be canceled"}
	}
	return Classification{Abandoned: true, Reason: "abandoned in " + pi.Status.String()}
}

func IsAbandonedPaymentIntent(pi *provider.PaymentIntent, now time.Time) bool {
	return ClassifyPaymentIntent(pi, now).Abandoned
}

func IsAbandonedSetupIntent(si *provider.SetupIntent) bool {
	if si == nil {
		return false
	}
	switch si.Status {
	case provider.IntentStatusProcessing,
		provider.IntentStatusCanceled,
		provider.IntentStatusSucceeded,
		provider.IntentStatusRequiresAction:
		return false
	}
	return true
}

// isSuccessful treats authorized but uncaptured funds as a success.
func isSuccessful(pi *provider.PaymentIntent) bool {
	return pi.Status == provider.IntentStatusSucceeded || pi.Status == provider.IntentStatusRequiresCapture
}

func isAsyncProcessing(pi *provider.PaymentIntent) bool {
	return pi.Status == provider.IntentStatusProcessing
}

func awaitsOfflineAction(pi *provider.PaymentIntent, now time.Time) bool {
	if pi.Status != provider.IntentStatusRequiresAction || pi.NextAction == nil {
		return false
	}
	if _, ok := offlineActionTypes[pi.NextAction.Type]; !ok {
		return false
	}
	return pi.NextAction.ExpiresAt.IsZero() || pi.NextAction.ExpiresAt.After(now)
}

func isCancelable(status provider.IntentStatus) bool {
	switch status {
	case provider.IntentStatusRequiresPaymentMethod,
		provider.IntentStatusRequiresConfirmation,
		provider.IntentStatusRequiresAction:
		return true
	}
	return false
}
