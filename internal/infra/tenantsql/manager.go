// Package tenantsql administra los pools de PostgreSQL por tenant: resuelve
// el DSN cifrado desde el control plane, abre el pool on-demand, aplica las
// migraciones del tenant y cachea el store por slug.
package tenantsql

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	cp "github.com/dropDatabas3/vendhub/internal/controlplane"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/security/secretbox"
	"github.com/dropDatabas3/vendhub/internal/store/pg"
)

var (
	ErrNoDBForTenant  = errors.New("no database configured for tenant")
	ErrTenantNotFound = errors.New("tenant not found")
)

// IsNoDBForTenant reporta si el error significa que al tenant le falta config de DB.
func IsNoDBForTenant(err error) bool { return errors.Is(err, ErrNoDBForTenant) }

// TenantConnection es lo mínimo para abrir un pool.
type TenantConnection struct {
	Driver string
	DSN    string
	Schema string
}

// Resolve resuelve la conexión de un tenant. El default consulta el control
// plane y descifra el DSN con secretbox.
type Resolve func(ctx context.Context, slug string) (*TenantConnection, error)

// PoolConfig define los parámetros del pool por tenant.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Config personaliza el Manager.
type Config struct {
	Provider cp.Provider
	Resolve  Resolve // opcional; si falta se usa Provider + secretbox
	Pool     PoolConfig

	// Migrations es el FS embebido con los *_up.sql; MigrationsDir el subdir.
	Migrations    fs.FS
	MigrationsDir string
}

// Manager cachea un *pg.Store por slug, con singleflight para no abrir dos
// pools del mismo tenant en paralelo.
type Manager struct {
	resolve       Resolve
	poolCfg       PoolConfig
	migrations    fs.FS
	migrationsDir string

	mu     sync.RWMutex
	stores map[string]*pg.Store
	sf     singleflight.Group
}

func New(cfg Config) (*Manager, error) {
	resolve := cfg.Resolve
	if resolve == nil {
		if cfg.Provider == nil {
			return nil, errors.New("tenantsql: provider o resolve requeridos")
		}
		resolve = providerResolver(cfg.Provider)
	}

	poolCfg := cfg.Pool
	if poolCfg.MaxOpenConns <= 0 {
		poolCfg.MaxOpenConns = 15
	}
	if poolCfg.MaxIdleConns <= 0 {
		poolCfg.MaxIdleConns = 3
	}
	if poolCfg.ConnMaxLifetime <= 0 {
		poolCfg.ConnMaxLifetime = 30 * time.Minute
	}

	return &Manager{
		resolve:       resolve,
		poolCfg:       poolCfg,
		migrations:    cfg.Migrations,
		migrationsDir: cfg.MigrationsDir,
		stores:        make(map[string]*pg.Store),
	}, nil
}

// providerResolver arma el Resolve default sobre el control plane.
func providerResolver(provider cp.Provider) Resolve {
	return func(ctx context.Context, slug string) (*TenantConnection, error) {
		tenant, err := provider.GetTenantBySlug(ctx, slug)
		if err != nil {
			return nil, ErrTenantNotFound
		}
		udb := tenant.Settings.UserDB
		if udb == nil {
			return nil, ErrNoDBForTenant
		}

		driver := strings.ToLower(strings.TrimSpace(udb.Driver))
		if driver == "" {
			driver = "pg"
		}
		if driver != "pg" && driver != "postgres" {
			return nil, fmt.Errorf("unsupported tenant driver: %s", udb.Driver)
		}

		dsn := udb.DSN
		if dsn == "" {
			if strings.TrimSpace(udb.DSNEnc) == "" {
				return nil, ErrNoDBForTenant
			}
			dsn, err = secretbox.Decrypt(udb.DSNEnc)
			if err != nil {
				return nil, fmt.Errorf("decrypt dsn: %w", err)
			}
		}
		return &TenantConnection{Driver: driver, DSN: dsn, Schema: udb.Schema}, nil
	}
}

// Get devuelve (o crea) el store PG del tenant.
func (m *Manager) Get(ctx context.Context, slug string) (*pg.Store, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, ErrTenantNotFound
	}

	m.mu.RLock()
	if store, ok := m.stores[slug]; ok {
		m.mu.RUnlock()
		return store, nil
	}
	m.mu.RUnlock()

	result, err, _ := m.sf.Do(slug, func() (interface{}, error) {
		// double-check tras ganar el singleflight
		m.mu.RLock()
		if store, ok := m.stores[slug]; ok {
			m.mu.RUnlock()
			return store, nil
		}
		m.mu.RUnlock()

		store, err := m.createStore(ctx, slug)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.stores[slug] = store
		m.mu.Unlock()
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*pg.Store), nil
}

func (m *Manager) createStore(ctx context.Context, slug string) (*pg.Store, error) {
	conn, err := m.resolve(ctx, slug)
	if err != nil {
		return nil, err
	}
	if conn == nil || strings.TrimSpace(conn.DSN) == "" {
		return nil, ErrNoDBForTenant
	}

	store, err := pg.New(ctx, conn.DSN, pg.Options{
		MaxConns:        int32(m.poolCfg.MaxOpenConns),
		MinConns:        int32(m.poolCfg.MaxIdleConns),
		MaxConnLifetime: m.poolCfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	if m.migrations != nil {
		applied, err := RunMigrationsWithLock(ctx, store.Pool(), m.migrations, m.migrationsDir, slug)
		if err != nil {
			store.Close()
			return nil, err
		}
		logger.Named("tenantsql").Info("migraciones del tenant aplicadas",
			logger.TenantSlug(slug), logger.Count(applied))
	}
	return store, nil
}

// Invalidate cierra y descarta el pool del tenant (p.ej. tras rotar su DSN).
func (m *Manager) Invalidate(slug string) {
	m.mu.Lock()
	store, ok := m.stores[slug]
	if ok {
		delete(m.stores, slug)
	}
	m.mu.Unlock()
	if ok {
		store.Close()
	}
}

// Close cierra todos los pools.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, store := range m.stores {
		store.Close()
		delete(m.stores, slug)
	}
}
