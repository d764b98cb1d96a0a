package session

import (
	"context"
	"time"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// Sweeper borra periódicamente sesiones vencidas o revocadas de los stores
// de todos los tenants. Los stores se resuelven en cada tick: un tenant
// nuevo entra al barrido sin reiniciar nada.
type Sweeper struct {
	stores   func(ctx context.Context) (map[string]Store, error)
	interval time.Duration
}

// NewSweeper crea un sweeper. interval <= 0 usa 10 minutos.
func NewSweeper(stores func(ctx context.Context) (map[string]Store, error), interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{stores: stores, interval: interval}
}

// Run barre hasta que el contexto se cancele. Pensado para correr en su
// propia goroutine desde main.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.Named("session.sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper detenido")
			return
		case <-ticker.C:
			stores, err := s.stores(ctx)
			if err != nil {
				log.Warn("sweep: no se pudieron resolver los stores", logger.Err(err))
				continue
			}
			for slug, store := range stores {
				n, err := store.DeleteExpired(ctx, time.Now())
				if err != nil {
					log.Warn("sweep de sesiones falló",
						logger.TenantSlug(slug), logger.Err(err))
					continue
				}
				if n > 0 {
					log.Info("sesiones vencidas barridas",
						logger.TenantSlug(slug), logger.Count(n))
				}
			}
		}
	}
}
