package provider

import (
	"context"
	"iter"
	"time"
)

const CancellationReasonAbandoned = "abandoned"

// IntentStatus is the closed set of lifecycle states shared by payment and
// setup intents.
type IntentStatus int

const (
	IntentStatusUnknown IntentStatus = iota
	IntentStatusRequiresPaymentMethod
	IntentStatusRequiresConfirmation
	IntentStatusRequiresAction
	IntentStatusProcessing
	IntentStatusRequiresCapture
	IntentStatusSucceeded
	IntentStatusCanceled
)

var intentStatusNames = map[IntentStatus]string{
	IntentStatusUnknown:               "unknown",
	IntentStatusRequiresPaymentMethod: "requires_payment_method",
	IntentStatusRequiresConfirmation:  "requires_confirmation",
	IntentStatusRequiresAction:        "requires_action",
	IntentStatusProcessing:            "processing",
	IntentStatusRequiresCapture:       "requires_capture",
	IntentStatusSucceeded:             "succeeded",
	IntentStatusCanceled:              "canceled",
}

func (s IntentStatus) String() string {
	if name, ok := intentStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseIntentStatus maps Stripe status strings, including the legacy source
// based variants, onto IntentStatus.
func ParseIntentStatus(raw string) IntentStatus {
	switch raw {
	case "requires_payment_method", "requires_source":
		return IntentStatusRequiresPaymentMethod
	case "requires_confirmation":
		return IntentStatusRequiresConfirmation
	case "requires_action", "requires_source_action":
		return IntentStatusRequiresAction
	case "processing":
		return IntentStatusProcessing
	case "requires_capture":
		return IntentStatusRequiresCapture
	case "succeeded":
		return IntentStatusSucceeded
	case "canceled":
		return IntentStatusCanceled
	default:
		return IntentStatusUnknown
	}
}

const (
	NextActionDisplayBankTransferInstructions = "display_bank_transfer_instructions"
	NextActionOXXODisplayDetails              = "oxxo_display_details"
	NextActionBoletoDisplayDetails            = "boleto_display_details"
	NextActionKonbiniDisplayDetails           = "konbini_display_details"
	NextActionMultibancoDisplayDetails        = "multibanco_display_details"
)

type NextAction struct {
	Type string
	// ExpiresAt is zero when the voucher or instructions never expire.
	ExpiresAt time.Time
}

type PaymentIntent struct {
	ID                string
	Status            IntentStatus
	Created           time.Time
	Currency          string
	Amount            int64
	Metadata          map[string]string
	PaymentMethodType string
	NextAction        *NextAction
}

type SetupIntent struct {
	ID      string
	Status  IntentStatus
	Created time.Time
}

type Product struct {
	ID      string
	Created time.Time
}

type ListFilter struct {
	CreatedFrom time.Time
	CreatedTo   time.Time
	PageSize    int64
	Expand      []string
}

// Gateway is the per-tenant view of the Stripe API used by the reconciler.
type Gateway interface {
	CreatePingProduct(ctx context.Context, publishableKey string) (*Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	PaymentIntents(ctx context.Context, filter ListFilter) iter.Seq2[*PaymentIntent, error]
	SetupIntents(ctx context.Context, filter ListFilter) iter.Seq2[*SetupIntent, error]
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string, reason string) (*PaymentIntent, error)
	CancelSetupIntent(ctx context.Context, id string, reason string) (*SetupIntent, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
}
