package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/config"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMinAge    = 120 * time.Minute
	defaultMaxAge    = 360 * time.Minute
	defaultBatchSize = int32(100)
)

type orderRepository interface {
	FindByIncrementID(ctx context.Context, incrementID string) (*entity.Order, error)
	ListByTransactionID(ctx context.Context, transactionID string) ([]*entity.Order, error)
	ListPendingPayment(ctx context.Context, methods []string, cutoff time.Time, limit int32) ([]*entity.Order, error)
	CancelOrClose(ctx context.Context, order *entity.Order) error
	CancelOrCloseWithComment(ctx context.Context, order *entity.Order, comment string) error
}

type checkoutSessionRepository interface {
	FindByOrderIncrementID(ctx context.Context, incrementID string) (*entity.CheckoutSession, error)
}

type webhookEndpointRepository interface {
	ListActive(ctx context.Context) ([]*entity.WebhookEndpoint, error)
}

type offsetCache interface {
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string, tags []string, ttl time.Duration) error
}

type SweepOptions struct {
	// MinAge and MaxAge fall back to the configured window when nil. An
	// explicit zero MinAge sweeps up to the current gateway time.
	MinAge *time.Duration
	MaxAge *time.Duration
	DryRun bool
	Output OutputSink
}

type ReconcileService struct {
	orderRepo    orderRepository
	checkoutRepo checkoutSessionRepository
	endpointRepo webhookEndpointRepository
	cache        offsetCache
	registry     *provider.Registry
	webhooksCfg  config.WebhooksConfig
	reconcileCfg config.ReconcileConfig
	logger       logrus.FieldLogger
	now          func() time.Time
}

func NewReconcileService(
	orderRepo orderRepository,
	checkoutRepo checkoutSessionRepository,
	endpointRepo webhookEndpointRepository,
	cache offsetCache,
	registry *provider.Registry,
	webhooksCfg config.WebhooksConfig,
	reconcileCfg config.ReconcileConfig,
	logger logrus.FieldLogger,
) *ReconcileService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &ReconcileService{
		orderRepo:    orderRepo,
		checkoutRepo: checkoutRepo,
		endpointRepo: endpointRepo,
		cache:        cache,
		registry:     registry,
		webhooksCfg:  webhooksCfg,
		reconcileCfg: reconcileCfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Execute is the scheduled pass: refresh the clock offset, then sweep the
// configured window.
func (s *ReconcileService) Execute(ctx context.Context) (*BatchReport, error) {
	if err := s.RefreshOffsetIfNeeded(ctx); err != nil {
		s.logger.WithError(err).Warn("clock offset refresh failed")
	}
	return s.CancelAbandonedPayments(ctx, SweepOptions{})
}

// CancelAbandonedPayments sweeps every tenant for intents created between
// MaxAge and MinAge ago on the gateway clock and cancels the abandoned ones.
func (s *ReconcileService) CancelAbandonedPayments(ctx context.Context, opts SweepOptions) (*BatchReport, error) {
	if opts.DryRun {
		return s.PreviewAbandonedPayments(ctx, opts)
	}

	report, window, err := s.newReport(ctx, opts)
	if err != nil {
		return nil, err
	}
	sink := sinkOrNop(opts.Output)

	tenants := s.registry.Tenants()
	partials := make([]*BatchReport, len(tenants))

	var g errgroup.Group
	g.SetLimit(s.tenantConcurrency())
	for i, tenant := range tenants {
		g.Go(func() error {
			partials[i] = s.sweepTenant(ctx, tenant, window, sink)
			return nil
		})
	}
	_ = g.Wait()

	for _, partial := range partials {
		report.merge(partial)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"scanned":   report.Scanned,
		"abandoned": report.Abandoned,
		"canceled":  report.Canceled + report.ExpiredSessions,
		"failed":    report.Failed,
	}).Info("abandoned payment sweep finished")

	return report, nil
}

// PreviewAbandonedPayments classifies the window without touching remote
// intents or local orders.
func (s *ReconcileService) PreviewAbandonedPayments(ctx context.Context, opts SweepOptions) (*BatchReport, error) {
	report, window, err := s.newReport(ctx, opts)
	if err != nil {
		return nil, err
	}
	report.DryRun = true
	sink := sinkOrNop(opts.Output)
	now := s.now()

	for item, err := range s.Scan(ctx, window) {
		if err != nil {
			report.recordTenantError(item.Tenant.StoreCode, err)
			sink.Error(err.Error())
			continue
		}

		result := IntentResult{Tenant: item.Tenant.StoreCode, IntentID: item.ID(), Kind: item.Kind, Outcome: OutcomeKept}
		switch item.Kind {
		case IntentKindPayment:
			classification := ClassifyPaymentIntent(item.PaymentIntent, now)
			result.Reason = classification.Reason
			if classification.Abandoned {
				result.Outcome = OutcomeWouldCancel
			}
		case IntentKindSetup:
			if IsAbandonedSetupIntent(item.SetupIntent) {
				result.Outcome = OutcomeWouldCancel
			}
		}
		if result.Outcome == OutcomeWouldCancel {
			sink.Info("Would cancel " + string(item.Kind) + " " + result.IntentID)
		}
		report.record(result)
	}

	return report, nil
}

func (s *ReconcileService) sweepTenant(ctx context.Context, tenant provider.Tenant, window Window, sink OutputSink) *BatchReport {
	report := &BatchReport{}
	logger := s.logger.WithField("store_code", tenant.StoreCode)

	gw, err := s.registry.Gateway(tenant)
	if err != nil {
		logger.WithError(err).Error("stripe gateway unavailable")
		report.recordTenantError(tenant.StoreCode, err)
		sink.Error(err.Error())
		return report
	}

	now := s.now()
	for item, err := range scanTenant(ctx, tenant, gw, window) {
		if err != nil {
			logger.WithError(err).Error("intent scan aborted")
			report.recordTenantError(tenant.StoreCode, err)
			sink.Error(err.Error())
			continue
		}

		switch item.Kind {
		case IntentKindPayment:
			classification := ClassifyPaymentIntent(item.PaymentIntent, now)
			if !classification.Abandoned {
				report.record(IntentResult{Tenant: tenant.StoreCode, IntentID: item.ID(), Kind: item.Kind, Outcome: OutcomeKept, Reason: classification.Reason})
				continue
			}
			_, result := s.CancelPaymentIntent(ctx, tenant, gw, item.PaymentIntent, sink)
			report.record(result)
		case IntentKindSetup:
			if !IsAbandonedSetupIntent(item.SetupIntent) {
				report.record(IntentResult{Tenant: tenant.StoreCode, IntentID: item.ID(), Kind: item.Kind, Outcome: OutcomeKept})
				continue
			}
			_, result := s.CancelSetupIntent(ctx, tenant, gw, item.SetupIntent, sink)
			report.record(result)
		}
	}

	return report
}

func (s *ReconcileService) newReport(ctx context.Context, opts SweepOptions) (*BatchReport, Window, error) {
	minAge := s.reconcileCfg.MinAge
	if minAge < 0 {
		minAge = defaultMinAge
	}
	if opts.MinAge != nil {
		minAge = *opts.MinAge
	}
	maxAge := s.reconcileCfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	if opts.MaxAge != nil {
		maxAge = *opts.MaxAge
	}

	offset := s.CurrentOffset(ctx)
	window, err := NewWindow(s.now(), offset, minAge, maxAge)
	if err != nil {
		return nil, Window{}, err
	}

	return &BatchReport{
		RunID:  uuid.NewString(),
		From:   window.From,
		To:     window.To,
		Offset: offset,
	}, window, nil
}

func (s *ReconcileService) tenantConcurrency() int {
	if s.reconcileCfg.TenantConcurrency > 0 {
		return s.reconcileCfg.TenantConcurrency
	}
	return 1
}

func (s *ReconcileService) batchSize() int32 {
	if s.reconcileCfg.JobBatchSize > 0 {
		return s.reconcileCfg.JobBatchSize
	}
	return defaultBatchSize
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
