package app

import (
	"context"
	"time"

	"github.com/dropDatabas3/vendhub/internal/infra/tenantcache"
	"github.com/dropDatabas3/vendhub/internal/infra/tenantsql"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/store/pg"
	"github.com/dropDatabas3/vendhub/internal/user"
)

// SessionStores entrega el session store PG del tenant, decorado con el
// read-through de cache cuando el tenant tiene cache configurado.
type SessionStores struct {
	SQL      *tenantsql.Manager
	Caches   *tenantcache.Manager // opcional
	CacheTTL time.Duration
}

func (s *SessionStores) For(ctx context.Context, tenantSlug string) (session.Store, error) {
	st, err := s.SQL.Get(ctx, tenantSlug)
	if err != nil {
		return nil, err
	}
	var store session.Store = pg.NewSessions(st)
	if s.Caches != nil && s.CacheTTL > 0 {
		client, err := s.Caches.Get(ctx, tenantSlug)
		if err != nil {
			// el cache es una optimización: si no levanta, se autentica
			// igual contra PG
			logger.Named("app").Debug("cache del tenant no disponible",
				logger.TenantSlug(tenantSlug), logger.Err(err))
			return store, nil
		}
		store = session.NewCached(store, client, s.CacheTTL)
	}
	return store, nil
}

// UserDirectories entrega el read-path de usuarios del tenant.
type UserDirectories struct {
	SQL *tenantsql.Manager
}

func (d *UserDirectories) For(ctx context.Context, tenantSlug string) (user.Directory, error) {
	st, err := d.SQL.Get(ctx, tenantSlug)
	if err != nil {
		return nil, err
	}
	return pg.NewUsers(st), nil
}
