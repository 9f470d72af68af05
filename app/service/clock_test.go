package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

func TestRefreshOffsetPingsOnlyStaleTenants(t *testing.T) {
	f := newServiceFixture(t,
		provider.Tenant{StoreCode: "a", SecretKey: "sk_test_a", PublishableKey: "pk_test_a", Active: true},
		provider.Tenant{StoreCode: "b", SecretKey: "sk_test_b", PublishableKey: "pk_test_b", Active: true},
	)
	recent := testNow.Add(-time.Hour)
	f.endpoints.endpoints = []*entity.WebhookEndpoint{
		{StoreCode: "a", PublishableKey: "pk_test_a", Active: true},
		{StoreCode: "b", PublishableKey: "pk_test_b", Active: true, LastEvent: &recent},
	}
	gwA := f.gateways["sk_test_a"]
	gwA.productCreated = testNow.Add(42 * time.Second)

	if err := f.svc.RefreshOffsetIfNeeded(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gwA.pinged) != 1 || gwA.pinged[0] != "pk_test_a" {
		t.Fatalf("expected tenant a ping, got %v", gwA.pinged)
	}
	if len(gwA.deleted) != 1 || gwA.deleted[0] != "prod_ping" {
		t.Fatalf("expected ping product cleanup, got %v", gwA.deleted)
	}
	if len(f.gateways["sk_test_b"].pinged) != 0 {
		t.Fatal("expected fresh tenant b to be skipped")
	}
	if len(f.cache.writes) != 1 {
		t.Fatalf("expected one cache write, got %d", len(f.cache.writes))
	}
	write := f.cache.writes[0]
	if write.value != "41" || write.ttl != 24*time.Hour || len(write.tags) != 1 || write.tags[0] != OffsetCacheTag {
		t.Fatalf("unexpected cache write: %+v", write)
	}
	if f.svc.CurrentOffset(context.Background()) != 41 {
		t.Fatalf("unexpected offset %d", f.svc.CurrentOffset(context.Background()))
	}
}

func TestRefreshOffsetContinuesPastTenantFailure(t *testing.T) {
	f := newServiceFixture(t,
		provider.Tenant{StoreCode: "a", SecretKey: "sk_test_a", PublishableKey: "pk_test_a", Active: true},
		provider.Tenant{StoreCode: "c", SecretKey: "sk_test_c", PublishableKey: "pk_test_c", Active: true},
	)
	f.endpoints.endpoints = []*entity.WebhookEndpoint{
		{StoreCode: "a", PublishableKey: "pk_test_a", Active: true},
		{StoreCode: "c", PublishableKey: "pk_test_c", Active: true},
	}
	f.gateways["sk_test_a"].productErr = errors.New("stripe timeout")
	f.gateways["sk_test_c"].productCreated = testNow.Add(-4 * time.Second)

	if err := f.svc.RefreshOffsetIfNeeded(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gateways["sk_test_c"].pinged) != 1 {
		t.Fatal("expected tenant c to be pinged after tenant a failed")
	}
	if f.cache.values[OffsetCacheKey] != "-5" {
		t.Fatalf("unexpected cached offset %q", f.cache.values[OffsetCacheKey])
	}
}

func TestRefreshOffsetSkipsInactiveTenants(t *testing.T) {
	f := newServiceFixture(t, provider.Tenant{StoreCode: "old", SecretKey: "sk_test_old", PublishableKey: "pk_test_old", Active: false})
	f.endpoints.endpoints = []*entity.WebhookEndpoint{{StoreCode: "old", PublishableKey: "pk_test_old", Active: true}}

	if err := f.svc.RefreshOffsetIfNeeded(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.gateways["sk_test_old"].pinged) != 0 {
		t.Fatal("expected inactive tenant to be skipped")
	}
}

func TestRefreshOffsetReturnsEndpointLookupError(t *testing.T) {
	f := newServiceFixture(t)
	f.endpoints.err = errors.New("mysql unavailable")

	if err := f.svc.RefreshOffsetIfNeeded(context.Background()); err == nil {
		t.Fatal("expected endpoint lookup error")
	}
}

func TestCurrentOffsetFailsOpen(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if got := f.svc.CurrentOffset(ctx); got != 0 {
		t.Fatalf("expected 0 for a missing value, got %d", got)
	}

	f.cache.values[OffsetCacheKey] = "not-a-number"
	if got := f.svc.CurrentOffset(ctx); got != 0 {
		t.Fatalf("expected 0 for a non numeric value, got %d", got)
	}

	f.cache.values[OffsetCacheKey] = "17"
	f.cache.loadErr = errors.New("redis down")
	if got := f.svc.CurrentOffset(ctx); got != 0 {
		t.Fatalf("expected 0 when the cache fails, got %d", got)
	}

	f.cache.loadErr = nil
	if got := f.svc.CurrentOffset(ctx); got != 17 {
		t.Fatalf("expected cached offset 17, got %d", got)
	}
}
