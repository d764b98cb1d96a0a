// Package pg implementa los repos de sesiones y usuarios sobre PostgreSQL
// (pgx/v5). Cada tenant tiene su propio pool; el manager de
// internal/infra/tenantsql los crea y cachea por slug.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

type Store struct{ pool *pgxpool.Pool }

// Options afina el pool. Cero-values usan defaults conservadores.
type Options struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// New crea el pool y hace un ping no bloqueante: si la base está caída al
// arrancar, el servicio igual levanta y reintenta al primer uso.
func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		pcfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		pcfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = opts.MaxConnLifetime
		pcfg.MaxConnIdleTime = opts.MaxConnLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	log := logger.Named("store.pg")
	if err := pool.Ping(ctx); err != nil {
		log.Warn("ping inicial a postgres falló", logger.Err(err))
	} else {
		log.Info("pool de postgres listo", logger.Int("max_conns", int(pcfg.MaxConns)))
	}
	return &Store{pool: pool}, nil
}

// Pool expone el pool interno (metrics y migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// PoolStats devuelve un snapshot del pool; nil si no está inicializado.
func (s *Store) PoolStats() *pgxpool.Stat {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Stat()
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close cierra el pool (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
