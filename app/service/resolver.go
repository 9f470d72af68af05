package service

import (
	"context"
	"strings"

	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/entity"
	"github.com/vibast-solutions/ms-go-stripe-reconciler/app/provider"
)

const orderMetadataKey = "Order #"

type ResolutionSource string

const (
	ResolutionSourceMetadata    ResolutionSource = "metadata"
	ResolutionSourceTransaction ResolutionSource = "transaction"
)

type Resolution struct {
	Orders []*entity.Order
	Source ResolutionSource
	// IncrementID is the metadata order id, or the last resolved order's id.
	IncrementID string
}

// ResolveOrders maps an intent back to local orders, preferring the order id
// stored in the intent metadata over the transaction index.
func (s *ReconcileService) ResolveOrders(ctx context.Context, pi *provider.PaymentIntent) (Resolution, error) {
	if incrementID := strings.TrimSpace(pi.Metadata[orderMetadataKey]); incrementID != "" {
		resolution := Resolution{Source: ResolutionSourceMetadata, IncrementID: incrementID}
		order, err := s.orderRepo.FindByIncrementID(ctx, incrementID)
		if err != nil {
			return resolution, err
		}
		if order != nil {
			resolution.Orders = []*entity.Order{order}
		}
		return resolution, nil
	}

	resolution := Resolution{Source: ResolutionSourceTransaction}
	orders, err := s.orderRepo.ListByTransactionID(ctx, pi.ID)
	if err != nil {
		return resolution, err
	}
	for _, order := range orders {
		if order == nil {
			continue
		}
		resolution.Orders = append(resolution.Orders, order)
		resolution.IncrementID = order.IncrementID
	}
	return resolution, nil
}
