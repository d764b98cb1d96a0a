// Package migrations embebe los SQL del user store por tenant.
package migrations

import "embed"

// TenantFS: migraciones que se aplican a la base de cada tenant al abrir
// su pool por primera vez (users, sessions).
//
//go:embed tenant/*.sql
var TenantFS embed.FS

// TenantDir es el subdirectorio de TenantFS con los *_up.sql.
const TenantDir = "tenant"
