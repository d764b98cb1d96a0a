// Package tenant resuelve a qué vendor pertenece un request y recupera sus
// secretos de firma desde el control-plane.
//
// Orden de lookup:
//  1. identificador explícito (header X-Tenant-ID, match exacto por slug)
//  2. membership del Host en la lista de dominios del tenant
//
// Los tenants resueltos se cachean por proceso con TTL acotado para que una
// rotación administrativa de secretos propague dentro de esa ventana. El
// miss stampede colapsa a un único fetch upstream vía singleflight.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
)

var (
	// ErrNoTenantHint: el request no trae ni identificador explícito ni Host
	// utilizable. Es error del cliente, no un fallo de lookup.
	ErrNoTenantHint = errors.New("tenant: no tenant identifier present")

	// ErrNotFound: el identificador/host no corresponde a ningún tenant.
	ErrNotFound = errors.New("tenant: not found")

	// ErrSecrets: los secretos del tenant no se pudieron descifrar o faltan.
	// Siempre error de configuración (5xx), nunca 401.
	ErrSecrets = errors.New("tenant: secrets unavailable")
)

// Resolved es un tenant con sus secretos de firma ya descifrados.
// Los secretos viven sólo en memoria; jamás se persisten en claro.
type Resolved struct {
	Tenant        cp.Tenant
	AccessSecret  []byte
	RefreshSecret []byte
}

// Config del resolver.
type Config struct {
	Provider cp.Provider
	TTL      time.Duration    // TTL del cache; default 30s
	Now      func() time.Time // clock inyectable para tests; default time.Now
}

type entry struct {
	res       *Resolved
	expiresAt time.Time
}

// Resolver cachea tenants resueltos (con secretos descifrados) por slug y host.
type Resolver struct {
	provider cp.Provider
	ttl      time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	bySlug  map[string]entry
	byHost  map[string]entry
	sf      singleflight.Group
}

// New crea un Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Provider == nil {
		return nil, errors.New("tenant: provider is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		provider: cfg.Provider,
		ttl:      ttl,
		now:      now,
		bySlug:   make(map[string]entry),
		byHost:   make(map[string]entry),
	}, nil
}

// Resolve aplica el orden de lookup: slug explícito primero, luego dominio.
// Ambos vacíos => ErrNoTenantHint.
func (r *Resolver) Resolve(ctx context.Context, explicitSlug, host string) (*Resolved, error) {
	explicitSlug = strings.TrimSpace(strings.ToLower(explicitSlug))
	host = normalizeHost(host)

	if explicitSlug != "" {
		return r.BySlug(ctx, explicitSlug)
	}
	if host != "" {
		return r.ByDomain(ctx, host)
	}
	return nil, ErrNoTenantHint
}

// BySlug resuelve por identificador explícito (match exacto).
func (r *Resolver) BySlug(ctx context.Context, slug string) (*Resolved, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return nil, ErrNoTenantHint
	}

	if res, ok := r.cached(r.bySlug, slug); ok {
		return res, nil
	}

	v, err, _ := r.sf.Do("slug:"+slug, func() (interface{}, error) {
		// double-check: otro goroutine pudo poblar mientras esperábamos
		if res, ok := r.cached(r.bySlug, slug); ok {
			return res, nil
		}
		t, err := r.provider.GetTenantBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, cp.ErrTenantNotFound) || errors.Is(err, cp.ErrBadInput) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
			}
			return nil, err
		}
		res, err := r.materialize(t)
		if err != nil {
			return nil, err
		}
		r.store(res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

// ByDomain resuelve por Host header.
func (r *Resolver) ByDomain(ctx context.Context, host string) (*Resolved, error) {
	host = normalizeHost(host)
	if host == "" {
		return nil, ErrNoTenantHint
	}

	if res, ok := r.cached(r.byHost, host); ok {
		return res, nil
	}

	v, err, _ := r.sf.Do("host:"+host, func() (interface{}, error) {
		if res, ok := r.cached(r.byHost, host); ok {
			return res, nil
		}
		t, err := r.provider.GetTenantByDomain(ctx, host)
		if err != nil {
			if errors.Is(err, cp.ErrTenantNotFound) || errors.Is(err, cp.ErrBadInput) {
				return nil, fmt.Errorf("%w: host %s", ErrNotFound, host)
			}
			return nil, err
		}
		res, err := r.materialize(t)
		if err != nil {
			return nil, err
		}
		r.store(res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

// Bust invalida el cache de un tenant (slug + todos sus dominios).
// Lo llama el camino administrativo tras rotar secretos.
func (r *Resolver) Bust(slug string) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bySlug[slug]; ok && e.res != nil {
		for _, d := range e.res.Tenant.Domains {
			delete(r.byHost, d)
		}
	}
	delete(r.bySlug, slug)
}

// materialize descifra los secretos de firma del tenant.
func (r *Resolver) materialize(t *cp.Tenant) (*Resolved, error) {
	if t == nil {
		return nil, ErrNotFound
	}
	auth := t.Settings.Auth
	if auth == nil || auth.AccessSecretEnc == "" || auth.RefreshSecretEnc == "" {
		return nil, fmt.Errorf("%w: tenant %s has no signing secrets", ErrSecrets, t.Slug)
	}
	access, err := secretbox.Decrypt(auth.AccessSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: access secret: %v", ErrSecrets, err)
	}
	refresh, err := secretbox.Decrypt(auth.RefreshSecretEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh secret: %v", ErrSecrets, err)
	}
	if access == refresh {
		// Un secreto filtrado no debe poder forjar la otra clase de token.
		return nil, fmt.Errorf("%w: tenant %s: access and refresh secrets must differ", ErrSecrets, t.Slug)
	}
	return &Resolved{
		Tenant:        *t,
		AccessSecret:  []byte(access),
		RefreshSecret: []byte(refresh),
	}, nil
}

func (r *Resolver) cached(m map[string]entry, key string) (*Resolved, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := m[key]
	if !ok || r.now().After(e.expiresAt) {
		return nil, false
	}
	return e.res, true
}

func (r *Resolver) store(res *Resolved) {
	e := entry{res: res, expiresAt: r.now().Add(r.ttl)}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySlug[res.Tenant.Slug] = e
	for _, d := range res.Tenant.Domains {
		r.byHost[d] = e
	}
}

// normalizeHost baja a lowercase y recorta puerto/espacios.
func normalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return strings.TrimSuffix(host, ".")
}
