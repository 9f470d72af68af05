package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

func TestSweepWithoutCachedOffsetUsesLocalClock(t *testing.T) {
	f := newServiceFixture(t)
	gw := f.gateway()

	report, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Offset != 0 {
		t.Fatalf("expected zero offset, got %d", report.Offset)
	}
	if len(gw.filters) != 1 {
		t.Fatalf("expected one payment intent listing, got %d", len(gw.filters))
	}
	filter := gw.filters[0]
	if !filter.CreatedFrom.Equal(testNow.Add(-360*time.Minute)) || !filter.CreatedTo.Equal(testNow.Add(-120*time.Minute)) {
		t.Fatalf("unexpected window: %+v", filter)
	}
	if filter.PageSize != 100 || len(filter.Expand) != 1 || filter.Expand[0] != "data.payment_method" {
		t.Fatalf("unexpected list filter: %+v", filter)
	}
}

func TestSweepShiftsWindowByCachedOffset(t *testing.T) {
	f := newServiceFixture(t)
	f.cache.values[OffsetCacheKey] = "-45"

	report, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{MinAge: durationPtr(30 * time.Minute), MaxAge: durationPtr(90 * time.Minute)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remoteNow := testNow.Add(-45 * time.Second)
	if report.Offset != -45 || !report.From.Equal(remoteNow.Add(-90*time.Minute)) || !report.To.Equal(remoteNow.Add(-30*time.Minute)) {
		t.Fatalf("unexpected report window: %+v", report)
	}
}

func TestSweepWithZeroMinAgeReachesGatewayNow(t *testing.T) {
	f := newServiceFixture(t)
	f.cache.values[OffsetCacheKey] = "30"
	gw := f.gateway()

	report, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{MinAge: durationPtr(0), MaxAge: durationPtr(60 * time.Minute)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remoteNow := testNow.Add(30 * time.Second)
	if !report.To.Equal(remoteNow) || !report.From.Equal(remoteNow.Add(-60*time.Minute)) {
		t.Fatalf("unexpected report window: %+v", report)
	}
	if len(gw.filters) != 1 || !gw.filters[0].CreatedTo.Equal(remoteNow) {
		t.Fatalf("unexpected list filters: %+v", gw.filters)
	}
}

func TestSweepRejectsInvertedWindow(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{MinAge: durationPtr(6 * time.Hour), MaxAge: durationPtr(2 * time.Hour)})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestSweepCancelsOnlyAbandonedSetupIntents(t *testing.T) {
	f := newServiceFixture(t)
	gw := f.gateway()
	gw.setups = []*provider.SetupIntent{
		{ID: "seti_confirm", Status: provider.IntentStatusRequiresConfirmation, Created: testNow.Add(-200 * time.Minute)},
		{ID: "seti_action", Status: provider.IntentStatusRequiresAction, Created: testNow.Add(-200 * time.Minute)},
	}

	report, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gw.canceledSetups) != 1 || gw.canceledSetups[0] != "seti_confirm" {
		t.Fatalf("unexpected canceled setup intents: %v", gw.canceledSetups)
	}
	if gw.cancelReasons[0] != provider.CancellationReasonAbandoned {
		t.Fatalf("unexpected cancel reason %q", gw.cancelReasons[0])
	}
	if report.Scanned != 2 || report.Kept != 1 || report.Canceled != 1 {
		t.Fatalf("unexpected counters: %+v", report)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	gw := f.gateway()
	order := f.orders.add(pendingOrder("100000300", entity.PaymentMethodStripe, nil))
	gw.payments = []*provider.PaymentIntent{
		abandonedIntent("pi_again", map[string]string{"Order #": "100000300"}),
		{ID: "pi_paid", Status: provider.IntentStatusSucceeded, Created: testNow.Add(-200 * time.Minute), Metadata: map[string]string{}},
	}

	first, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Canceled != 1 || first.OrdersCanceled != 1 || first.Kept != 1 {
		t.Fatalf("unexpected first report: %+v", first)
	}

	second, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{})
	if err != nil {
		t.Fatalf("second sweep aborted: %v", err)
	}
	if second.Failed != 1 || second.Scanned != 2 {
		t.Fatalf("expected the repeated cancel to be captured, got %+v", second)
	}
	if comments := f.orders.comments["100000300"]; len(comments) != 1 {
		t.Fatalf("expected a single comment, got %v", comments)
	}
	if order.State != entity.OrderStateCanceled {
		t.Fatalf("expected order to stay canceled, got %s", order.State)
	}
	if len(gw.canceledPayments) != 1 {
		t.Fatalf("expected one successful remote cancel, got %v", gw.canceledPayments)
	}
}

func TestSweepIsolatesTenantFailures(t *testing.T) {
	f := newServiceFixture(t,
		provider.Tenant{StoreCode: "eu", SecretKey: "sk_test_eu", PublishableKey: "pk_test_eu", Active: true},
		provider.Tenant{StoreCode: "us", SecretKey: "sk_test_us", PublishableKey: "pk_test_us", Active: false},
	)
	f.gateways["sk_test_eu"].listErr = errors.New("rate limited")
	f.gateways["sk_test_us"].payments = []*provider.PaymentIntent{abandonedIntent("pi_us", map[string]string{"Order #": "missing"})}

	var out bytes.Buffer
	report, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{Output: NewWriterSink(&out)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.TenantErrors) != 1 || report.TenantErrors[0].Tenant != "eu" {
		t.Fatalf("unexpected tenant errors: %+v", report.TenantErrors)
	}
	if report.Canceled != 1 || report.Results[0].IntentID != "pi_us" {
		t.Fatalf("expected us tenant to be swept, got %+v", report)
	}
	if !strings.Contains(out.String(), "[error] list payment intents for eu: rate limited") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if !strings.Contains(out.String(), "[info] Canceled payment intent pi_us") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestDryRunDoesNotTouchAnything(t *testing.T) {
	f := newServiceFixture(t)
	gw := f.gateway()
	order := f.orders.add(pendingOrder("100000400", entity.PaymentMethodStripe, nil))
	gw.payments = []*provider.PaymentIntent{abandonedIntent("pi_preview", map[string]string{"Order #": "100000400"})}
	gw.setups = []*provider.SetupIntent{{ID: "seti_preview", Status: provider.IntentStatusRequiresPaymentMethod}}

	report, err := f.svc.CancelAbandonedPayments(context.Background(), SweepOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.DryRun || report.Abandoned != 2 || len(report.Results) != 2 {
		t.Fatalf("unexpected preview report: %+v", report)
	}
	for _, result := range report.Results {
		if result.Outcome != OutcomeWouldCancel {
			t.Fatalf("unexpected preview outcome: %+v", result)
		}
	}
	if gw.remoteCalls() != 0 || f.orders.lookups != 0 {
		t.Fatalf("expected no side effects, got remote=%d lookups=%d", gw.remoteCalls(), f.orders.lookups)
	}
	if order.State != entity.OrderStatePendingPayment {
		t.Fatalf("expected order untouched, got %s", order.State)
	}
}

func TestExecuteRefreshesOffsetBeforeSweep(t *testing.T) {
	f := newServiceFixture(t)
	gw := f.gateway()
	gw.productCreated = testNow.Add(11 * time.Second)
	f.endpoints.endpoints = []*entity.WebhookEndpoint{{StoreCode: "default", PublishableKey: "pk_test_a", Active: true}}

	report, err := f.svc.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Offset != 10 {
		t.Fatalf("expected sweep to use the fresh offset, got %d", report.Offset)
	}
	if !gw.filters[0].CreatedTo.Equal(testNow.Add(10*time.Second - 2*time.Hour)) {
		t.Fatalf("unexpected window end: %v", gw.filters[0].CreatedTo)
	}
}

func TestExecuteSweepsEvenWhenEndpointLookupFails(t *testing.T) {
	f := newServiceFixture(t)
	f.endpoints.err = errors.New("mysql unavailable")
	f.gateway().payments = []*provider.PaymentIntent{abandonedIntent("pi_x", map[string]string{"Order #": "gone"})}

	report, err := f.svc.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Canceled != 1 {
		t.Fatalf("expected sweep to run, got %+v", report)
	}
}

func TestWriterSinkFormatsLines(t *testing.T) {
	var out bytes.Buffer
	sink := NewWriterSink(&out)
	sink.Info("Canceled payment intent pi_1")
	sink.Error("Could not cancel payment intent pi_2: boom")

	expected := "[info] Canceled payment intent pi_1\n[error] Could not cancel payment intent pi_2: boom\n"
	if out.String() != expected {
		t.Fatalf("unexpected output %q", out.String())
	}
}
