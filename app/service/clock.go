package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

const (
	OffsetCacheKey = "stripe_api_time_difference"
	OffsetCacheTag = "stripe_payments"

	offsetCacheTTL    = 24 * time.Hour
	defaultStaleAfter = 6 * time.Hour
)

// RefreshOffsetIfNeeded pings Stripe for every active tenant whose webhook
// registration went quiet and caches the measured clock offset. Tenant
// failures are logged and skipped; only the registration lookup is returned.
func (s *ReconcileService) RefreshOffsetIfNeeded(ctx context.Context) error {
	endpoints, err := s.endpointRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list webhook endpoints: %w", err)
	}

	now := s.now()
	expected := entity.WebhookExpectation{
		ConfigVersion: s.webhooksCfg.ConfigVersion,
		URLs:          s.webhooksCfg.URLs,
		EnabledEvents: s.webhooksCfg.EnabledEvents,
	}

	stale := make(map[string]struct{})
	for _, endpoint := range endpoints {
		if endpoint == nil {
			continue
		}
		if endpoint.IsOutdated(expected) {
			s.logger.WithFields(logrus.Fields{
				"store_code":     endpoint.StoreCode,
				"url":            endpoint.URL,
				"config_version": endpoint.ConfigVersion,
			}).Warn("webhook endpoint configuration is outdated")
		}
		if endpoint.IsStale(now, s.staleAfter()) {
			stale[endpoint.PublishableKey] = struct{}{}
		}
	}
	if len(stale) == 0 {
		return nil
	}

	keys := s.registry.ActiveAPIKeys()
	for _, secretKey := range slices.Sorted(maps.Keys(keys)) {
		if _, ok := stale[keys[secretKey]]; !ok {
			continue
		}
		tenant, err := s.registry.TenantBySecretKey(secretKey)
		if err != nil {
			continue
		}
		s.pingTenant(ctx, tenant)
	}

	return nil
}

// CurrentOffset returns the cached gateway-minus-local offset in seconds, or 0
// when nothing usable is cached.
func (s *ReconcileService) CurrentOffset(ctx context.Context) int64 {
	raw, err := s.cache.Load(ctx, OffsetCacheKey)
	if err != nil {
		s.logger.WithError(err).Warn("clock offset cache read failed")
		return 0
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return offset
}

func (s *ReconcileService) pingTenant(ctx context.Context, tenant provider.Tenant) {
	logger := s.logger.WithField("store_code", tenant.StoreCode)

	gw, err := s.registry.Gateway(tenant)
	if err != nil {
		logger.WithError(err).Warn("clock ping skipped")
		return
	}

	localTime := s.now()
	product, err := gw.CreatePingProduct(ctx, tenant.PublishableKey)
	if err != nil {
		logger.WithError(err).Warn("clock ping failed")
		return
	}

	// One second compensates for the round trip.
	offset := product.Created.Unix() - (localTime.Unix() + 1)
	if err := s.cache.Save(ctx, OffsetCacheKey, strconv.FormatInt(offset, 10), []string{OffsetCacheTag}, offsetCacheTTL); err != nil {
		logger.WithError(err).Warn("clock offset cache write failed")
	}
	if err := gw.DeleteProduct(ctx, product.ID); err != nil {
		logger.WithError(err).WithField("product_id", product.ID).Warn("ping product cleanup failed")
	}

	logger.WithField("offset_seconds", offset).Info("clock offset refreshed")
}

func (s *ReconcileService) staleAfter() time.Duration {
	if s.webhooksCfg.StaleAfter > 0 {
		return s.webhooksCfg.StaleAfter
	}
	return defaultStaleAfter
}
