// Package cookieutil arma las cookies de tokens con flags de seguridad.
package cookieutil

import (
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/vendhub/internal/auth"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

const (
	AccessCookie  = "vh_at"
	RefreshCookie = "vh_rt"
)

// Config define dominio y flags de las cookies de auth.
type Config struct {
	Domain   string
	SameSite string // "", "lax", "strict", "none"; default Lax
	Secure   bool
}

// parseSameSite acepta "", "lax", "strict", "none" (case-insensitive).
func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		logger.L().Warn("cookie: SameSite desconocido, usando Lax", logger.String("samesite", s))
		return http.SameSiteLaxMode
	}
}

// build construye una cookie http-only con expiración absoluta.
func build(cfg Config, name, value string, expires time.Time) *http.Cookie {
	ss := parseSameSite(cfg.SameSite)
	if ss == http.SameSiteNoneMode && !cfg.Secure {
		logger.L().Warn("cookie: SameSite=None sin Secure; el browser puede rechazarla",
			logger.String("domain", cfg.Domain))
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: ss,
	}
	if cfg.Domain != "" {
		c.Domain = cfg.Domain
	}
	return c
}

// SetTokens setea el par de cookies de tokens. Se llama en login y cada vez
// que el gate rota silenciosamente.
func SetTokens(w http.ResponseWriter, cfg Config, pair *auth.RefreshedTokens) {
	http.SetCookie(w, build(cfg, AccessCookie, pair.AccessToken, pair.AccessExpiresAt))
	http.SetCookie(w, build(cfg, RefreshCookie, pair.RefreshToken, pair.RefreshExpiresAt))
}

// ClearTokens borra ambas cookies (logout).
func ClearTokens(w http.ResponseWriter, cfg Config) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := build(cfg, name, "", time.Unix(0, 0).UTC())
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}
