// internal/controlplane/types.go
package controlplane

import (
	"strings"
	"time"
)

// Tenant representa un storefront (aislamiento lógico): secretos propios,
// base de datos propia y población de sesiones propia.
type Tenant struct {
	// UUID en string (evita dependencia a libs externas en el YAML). Validar formato al cargar.
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Slug      string         `json:"slug" yaml:"slug"` // único; usado en headers/paths
	Domains   []string       `json:"domains,omitempty" yaml:"domains,omitempty"`
	CreatedAt time.Time      `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt" yaml:"updatedAt"`
	Settings  TenantSettings `json:"settings" yaml:"settings"`
}

// TenantSettings: secretos de firma, DB del user-plane, cache y políticas de sesión.
type TenantSettings struct {
	Auth     *AuthSecrets    `json:"auth,omitempty" yaml:"auth,omitempty"`
	UserDB   *UserDBSettings `json:"userDb,omitempty" yaml:"userDb,omitempty"`
	Cache    *CacheSettings  `json:"cache,omitempty" yaml:"cache,omitempty"`
	Tokens   *TokenPolicy    `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Sessions *SessionPolicy  `json:"sessions,omitempty" yaml:"sessions,omitempty"`
}

// AuthSecrets: secretos simétricos de firma, cifrados con secretbox.
// Access y refresh DEBEN ser distintos: filtrar uno no permite forjar el otro.
type AuthSecrets struct {
	AccessSecretEnc  string `json:"accessSecretEnc" yaml:"accessSecretEnc"`   // Encrypt(...)
	RefreshSecretEnc string `json:"refreshSecretEnc" yaml:"refreshSecretEnc"` // Encrypt(...)
}

// UserDBSettings: DSN cifrada para el data-plane por tenant.
type UserDBSettings struct {
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"` // pg
	DSNEnc string `json:"dsnEnc,omitempty" yaml:"dsnEnc,omitempty"` // Encrypt(...)
	DSN    string `json:"dsn,omitempty" yaml:"-"`                   // Plain input (no persiste)
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// CacheSettings: cache por tenant (sesiones). Password cifrada con secretbox.
type CacheSettings struct {
	Driver  string `json:"driver,omitempty" yaml:"driver,omitempty"` // memory|redis
	Host    string `json:"host,omitempty" yaml:"host,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	PassEnc string `json:"passEnc,omitempty" yaml:"passEnc,omitempty"` // Encrypt(...)
	DB      int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix  string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// TokenPolicy: TTLs por tenant en minutos. Cero => default documentado
// (15 min access / 1440 min refresh).
type TokenPolicy struct {
	AccessTTLMinutes  int `json:"accessTtlMinutes,omitempty" yaml:"accessTtlMinutes,omitempty"`
	RefreshTTLMinutes int `json:"refreshTtlMinutes,omitempty" yaml:"refreshTtlMinutes,omitempty"`
}

// SessionPolicy: tope de sesiones concurrentes por usuario. Cero => sin tope.
type SessionPolicy struct {
	MaxConcurrent int `json:"maxConcurrent,omitempty" yaml:"maxConcurrent,omitempty"`
}

// Defaults de política de tokens cuando el tenant no define la suya.
const (
	DefaultAccessTTLMinutes  = 15
	DefaultRefreshTTLMinutes = 1440
)

// AccessTTLOrDefault devuelve el TTL de access efectivo.
func (t *Tenant) AccessTTLOrDefault() time.Duration {
	if p := t.Settings.Tokens; p != nil && p.AccessTTLMinutes > 0 {
		return time.Duration(p.AccessTTLMinutes) * time.Minute
	}
	return DefaultAccessTTLMinutes * time.Minute
}

// RefreshTTLOrDefault devuelve el TTL de refresh efectivo.
func (t *Tenant) RefreshTTLOrDefault() time.Duration {
	if p := t.Settings.Tokens; p != nil && p.RefreshTTLMinutes > 0 {
		return time.Duration(p.RefreshTTLMinutes) * time.Minute
	}
	return DefaultRefreshTTLMinutes * time.Minute
}

// MaxSessions devuelve el tope de sesiones concurrentes (0 = ilimitado).
func (t *Tenant) MaxSessions() int {
	if p := t.Settings.Sessions; p != nil && p.MaxConcurrent > 0 {
		return p.MaxConcurrent
	}
	return 0
}

// OwnsDomain reporta si el host pertenece a la lista de dominios del tenant.
func (t *Tenant) OwnsDomain(host string) bool {
	for _, d := range t.Domains {
		if strings.EqualFold(d, host) {
			return true
		}
	}
	return false
}
