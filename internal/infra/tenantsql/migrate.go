package tenantsql

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// tenantLockID genera el ID del pg_advisory_lock a partir del slug.
func tenantLockID(slug string) int64 {
	h := sha256.Sum256([]byte("tenant_migration:" + slug))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// RunMigrationsWithLock aplica los *_up.sql bajo advisory lock: dos réplicas
// migrando el mismo tenant a la vez no se pisan.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir, tenantSlug string) (int, error) {
	lockID := tenantLockID(tenantSlug)
	log := logger.Named("tenantsql.migrate")

	lockCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var acquired bool
	if err := pool.QueryRow(lockCtx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("acquire migration lock for tenant %s: %w", tenantSlug, err)
	}
	if !acquired {
		log.Info("lock de migración ocupado, esperando", logger.TenantSlug(tenantSlug))
		if err := pool.QueryRow(lockCtx, "SELECT pg_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
			return 0, fmt.Errorf("wait for migration lock for tenant %s: %w", tenantSlug, err)
		}
	}
	defer func() {
		if _, err := pool.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID); err != nil {
			log.Warn("no se pudo liberar el lock de migración",
				logger.TenantSlug(tenantSlug), logger.Err(err))
		}
	}()

	return runMigrations(ctx, pool, fsys, dir)
}

// runMigrations ejecuta los *_up.sql del dir en orden lexicográfico.
func runMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string) (int, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), "_up.sql") {
			files = append(files, dir+"/"+e.Name())
		}
	}
	sort.Strings(files)

	var applied int
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return applied, err
		}
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("exec %s: %w", f, err)
		}
		applied++
	}
	return applied, nil
}
