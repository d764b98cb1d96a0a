package controlplane

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrBadInput       = errors.New("bad input")
)

// Provider es el registro de tenants del control-plane.
// El engine de autenticación sólo LEE; vendhubctl y el seeding escriben.
type Provider interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetTenantByDomain(ctx context.Context, host string) (*Tenant, error)
	UpsertTenant(ctx context.Context, t *Tenant) error
	DeleteTenant(ctx context.Context, slug string) error
}
