// Package app arma el contenedor de dependencias del servicio: control
// plane, resolver de tenants, managers de data plane por tenant, emisor de
// tokens y el gate de autenticación.
package app

import (
	"context"
	"fmt"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/vendhub/internal/auth"
	"github.com/dropDatabas3/vendhub/internal/config"
	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	cpfs "github.com/dropDatabas3/vendhub/internal/controlplane/fs"
	httpx "github.com/dropDatabas3/vendhub/internal/http"
	"github.com/dropDatabas3/vendhub/internal/infra/tenantcache"
	"github.com/dropDatabas3/vendhub/internal/infra/tenantsql"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/rate"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/tenant"
	"github.com/dropDatabas3/vendhub/internal/token"
	migrations "github.com/dropDatabas3/vendhub/migrations/postgres"
)

// Container agrupa todo lo que el server necesita ya cableado.
type Container struct {
	Config   *config.Config
	Provider cp.Provider
	Tenants  *tenant.Resolver
	Issuer   *token.Issuer

	SQL    *tenantsql.Manager
	Caches *tenantcache.Manager

	Sessions *SessionStores
	Users    *UserDirectories

	Rotator *auth.Rotator
	Gate    *auth.Gate

	// LoginLimiter limita login/refresh; nil si rate está deshabilitado.
	LoginLimiter rate.Limiter

	redis *rdb.Client
}

// Build cablea el contenedor completo a partir de la config.
func Build(cfg *config.Config) (*Container, error) {
	provider := cpfs.New(cfg.ControlPlane.FSRoot)

	resolver, err := tenant.New(tenant.Config{
		Provider: provider,
		TTL:      cfg.ResolverTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: resolver: %w", err)
	}

	sqlMgr, err := tenantsql.New(tenantsql.Config{
		Provider: provider,
		Pool: tenantsql.PoolConfig{
			MaxOpenConns:    cfg.TenantDB.MaxOpenConns,
			MaxIdleConns:    cfg.TenantDB.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		},
		Migrations:    migrations.TenantFS,
		MigrationsDir: migrations.TenantDir,
	})
	if err != nil {
		return nil, fmt.Errorf("app: tenantsql: %w", err)
	}

	cacheMgr, err := tenantcache.New(tenantcache.Config{Provider: provider})
	if err != nil {
		return nil, fmt.Errorf("app: tenantcache: %w", err)
	}

	sessions := &SessionStores{SQL: sqlMgr, Caches: cacheMgr, CacheTTL: cfg.SessionCacheTTL()}
	users := &UserDirectories{SQL: sqlMgr}

	issuer := token.NewIssuer(cfg.JWT.Issuer)
	rotator := &auth.Rotator{Issuer: issuer, Sessions: sessions, Users: users}
	gate := &auth.Gate{
		Tenants: resolver,
		Issuer:  issuer,
		Rotator: rotator,
		OnResult: func(res auth.Result) {
			httpx.ObserveAuthResult(res.Kind)
			if res.Refreshed != nil {
				httpx.ObserveRotation()
			}
		},
	}

	c := &Container{
		Config:   cfg,
		Provider: provider,
		Tenants:  resolver,
		Issuer:   issuer,
		SQL:      sqlMgr,
		Caches:   cacheMgr,
		Sessions: sessions,
		Users:    users,
		Rotator:  rotator,
		Gate:     gate,
	}
	c.buildLimiter()
	return c, nil
}

// buildLimiter arma el limiter de login/refresh. Con Redis configurado la
// ventana se comparte entre réplicas; sin Redis es por proceso.
func (c *Container) buildLimiter() {
	rc := c.Config.Rate
	if !rc.Enabled {
		return
	}
	if rc.Redis.Addr != "" {
		client := rdb.NewClient(&rdb.Options{
			Addr:     rc.Redis.Addr,
			Password: rc.Redis.Password,
			DB:       rc.Redis.DB,
		})
		prefix := rc.Redis.Prefix
		if prefix == "" {
			prefix = "vh:rl:"
		}
		c.redis = client
		c.LoginLimiter = rate.NewRedisLimiter(client, prefix, rc.Login.Limit, c.Config.LoginWindow())
		return
	}
	c.LoginLimiter = rate.NewMemoryLimiter(rc.Login.Limit, c.Config.LoginWindow())
}

// SessionStoresByTenant materializa el store de cada tenant del control
// plane. Lo usa el sweeper; un tenant sin DB configurada se saltea.
func (c *Container) SessionStoresByTenant(ctx context.Context) (map[string]session.Store, error) {
	tenants, err := c.Provider.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]session.Store, len(tenants))
	for i := range tenants {
		slug := tenants[i].Slug
		store, err := c.Sessions.For(ctx, slug)
		if err != nil {
			if tenantsql.IsNoDBForTenant(err) {
				continue
			}
			logger.Named("app").Warn("store del tenant no disponible",
				logger.TenantSlug(slug), logger.Err(err))
			continue
		}
		out[slug] = store
	}
	return out, nil
}

// Close libera pools, caches y el cliente de Redis del limiter.
func (c *Container) Close() {
	if c.SQL != nil {
		c.SQL.Close()
	}
	if c.Caches != nil {
		c.Caches.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
}
