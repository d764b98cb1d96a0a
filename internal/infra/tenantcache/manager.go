// Package tenantcache administra los clientes de cache por tenant: resuelve
// la configuración desde el control plane (password descifrada con secretbox)
// y cachea un cliente por slug.
package tenantcache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/vendhub/internal/cache"
	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
)

var (
	ErrNoCacheForTenant = errors.New("no cache configured for tenant")
	ErrTenantNotFound   = errors.New("tenant not found")
)

// Resolve resuelve la configuración de cache de un tenant.
type Resolve func(ctx context.Context, slug string) (*cache.Config, error)

// Config personaliza el Manager.
type Config struct {
	Provider cp.Provider
	Resolve  Resolve // opcional; si falta se usa Provider + secretbox
}

// Manager cachea un cache.Client por slug.
type Manager struct {
	resolve Resolve

	mu      sync.RWMutex
	clients map[string]cache.Client
	sf      singleflight.Group
}

func New(cfg Config) (*Manager, error) {
	resolve := cfg.Resolve
	if resolve == nil {
		if cfg.Provider == nil {
			return nil, errors.New("tenantcache: provider o resolve requeridos")
		}
		resolve = providerResolver(cfg.Provider)
	}
	return &Manager{
		resolve: resolve,
		clients: make(map[string]cache.Client),
	}, nil
}

func providerResolver(provider cp.Provider) Resolve {
	return func(ctx context.Context, slug string) (*cache.Config, error) {
		tenant, err := provider.GetTenantBySlug(ctx, slug)
		if err != nil {
			return nil, ErrTenantNotFound
		}
		cc := tenant.Settings.Cache
		if cc == nil {
			// sin config explícita: cache en memoria con prefijo por slug
			return &cache.Config{Driver: "memory", Prefix: slug}, nil
		}

		driver := strings.ToLower(strings.TrimSpace(cc.Driver))
		if driver == "" {
			driver = "memory"
		}

		var password string
		if cc.PassEnc != "" {
			password, err = secretbox.Decrypt(cc.PassEnc)
			if err != nil {
				return nil, err
			}
		}

		prefix := cc.Prefix
		if prefix == "" {
			prefix = slug
		}
		return &cache.Config{
			Driver:   driver,
			Host:     cc.Host,
			Port:     cc.Port,
			Password: password,
			DB:       cc.DB,
			Prefix:   prefix,
		}, nil
	}
}

// Get devuelve (o crea) el cliente de cache del tenant.
func (m *Manager) Get(ctx context.Context, slug string) (cache.Client, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrTenantNotFound
	}

	m.mu.RLock()
	if c, ok := m.clients[slug]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	result, err, _ := m.sf.Do(slug, func() (interface{}, error) {
		m.mu.RLock()
		if c, ok := m.clients[slug]; ok {
			m.mu.RUnlock()
			return c, nil
		}
		m.mu.RUnlock()

		cfg, err := m.resolve(ctx, slug)
		if err != nil {
			return nil, err
		}
		client, err := cache.New(*cfg)
		if err != nil {
			return nil, err
		}
		logger.Named("tenantcache").Info("cache del tenant listo",
			logger.TenantSlug(slug), logger.String("driver", cfg.Driver))

		m.mu.Lock()
		m.clients[slug] = client
		m.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(cache.Client), nil
}

// Invalidate cierra y descarta el cliente del tenant.
func (m *Manager) Invalidate(slug string) {
	m.mu.Lock()
	c, ok := m.clients[slug]
	if ok {
		delete(m.clients, slug)
	}
	m.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close cierra todos los clientes.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, c := range m.clients {
		_ = c.Close()
		delete(m.clients, slug)
	}
}
