package provider

import (
	"errors"
	"sync"
)

var ErrTenantNotConfigured = errors.New("stripe tenant is not configured")

type Tenant struct {
	StoreCode      string
	SecretKey      string
	PublishableKey string
	Active         bool
}

type GatewayFactory func(tenant Tenant) Gateway

// Registry holds the configured tenants and lazily builds one Gateway per
// secret key.
type Registry struct {
	tenants []Tenant
	factory GatewayFactory

	mu       sync.Mutex
	gateways map[string]Gateway
}

func NewRegistry(tenants []Tenant, factory GatewayFactory) *Registry {
	items := make([]Tenant, len(tenants))
	copy(items, tenants)
	return &Registry{
		tenants:  items,
		factory:  factory,
		gateways: make(map[string]Gateway, len(tenants)),
	}
}

func (r *Registry) Tenants() []Tenant {
	items := make([]Tenant, len(r.tenants))
	copy(items, r.tenants)
	return items
}

// ActiveAPIKeys maps secret key to publishable key for every active tenant.
func (r *Registry) ActiveAPIKeys() map[string]string {
	keys := make(map[string]string, len(r.tenants))
	for _, tenant := range r.tenants {
		if tenant.Active {
			keys[tenant.SecretKey] = tenant.PublishableKey
		}
	}
	return keys
}

func (r *Registry) TenantBySecretKey(secretKey string) (Tenant, error) {
	for _, tenant := range r.tenants {
		if tenant.SecretKey == secretKey {
			return tenant, nil
		}
	}
	return Tenant{}, ErrTenantNotConfigured
}

// TenantForStore falls back to the first active tenant when the store has no
// dedicated credentials.
func (r *Registry) TenantForStore(storeCode string) (Tenant, error) {
	for _, tenant := range r.tenants {
		if tenant.StoreCode == storeCode {
			return tenant, nil
		}
	}
	for _, tenant := range r.tenants {
		if tenant.Active {
			return tenant, nil
		}
	}
	return Tenant{}, ErrTenantNotConfigured
}

func (r *Registry) Gateway(tenant Tenant) (Gateway, error) {
	if tenant.SecretKey == "" || r.factory == nil {
		return nil, ErrTenantNotConfigured
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if gw, ok := r.gateways[tenant.SecretKey]; ok {
		return gw, nil
	}
	gw := r.factory(tenant)
	r.gateways[tenant.SecretKey] = gw
	return gw, nil
}
