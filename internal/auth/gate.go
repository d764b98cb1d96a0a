package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/tenant"
	"github.com/dropDatabas3/vendhub/internal/token"
)

// Request es lo que el gate necesita de un request protegido. El transport
// lo arma desde headers/cookies; el gate no sabe de HTTP.
type Request struct {
	TenantSlug   string // identificador explícito (header), puede faltar
	Host         string // Host header, fallback de resolución
	AccessToken  string
	RefreshToken string // puede faltar; sin él no hay refresh silencioso
	Fingerprint  string
	UserAgent    string
}

// Gate es el único punto de entrada de autenticación. Todo request protegido
// pasa por acá; los handlers consumen el Result etiquetado.
type Gate struct {
	Tenants *tenant.Resolver
	Issuer  *token.Issuer
	Rotator *Rotator

	// OnResult, si está seteado, recibe cada resultado emitido (métricas).
	OnResult func(res Result)
}

// Authenticate ejecuta el algoritmo del gate:
//
//  1. resolver tenant; fallo → TenantUnresolved
//  2. secretos del tenant indescifrables → ConfigurationError, jamás 401
//  3. access válido + fingerprint ok → Authenticated sin rotación
//  4. access EXPIRADO (firmado correcto) + refresh presente → rotator
//  5. cualquier otro fallo de verificación → Unauthenticated sin intentar
//     refresh: sólo un token bien firmado pero vencido es elegible
func (g *Gate) Authenticate(ctx context.Context, req Request) Result {
	res := g.authenticate(ctx, req)
	if g.OnResult != nil {
		g.OnResult(res)
	}
	return res
}

func (g *Gate) authenticate(ctx context.Context, req Request) Result {
	log := logger.From(ctx).Named("auth.gate")

	resolved, err := g.Tenants.Resolve(ctx, req.TenantSlug, req.Host)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrNoTenantHint), errors.Is(err, tenant.ErrNotFound):
			return TenantUnresolved(err)
		case errors.Is(err, tenant.ErrSecrets):
			log.Error("secretos del tenant indisponibles", logger.Err(err))
			return ConfigurationError(err)
		default:
			log.Error("resolución de tenant falló", logger.Err(err))
			return ConfigurationError(err)
		}
	}
	log = log.With(logger.TenantSlug(resolved.Tenant.Slug))

	if req.AccessToken == "" {
		return Unauthenticated("no access token presented")
	}

	claims, err := token.VerifyAccessAllowExpired(req.AccessToken, resolved.AccessSecret, g.Issuer.Iss)
	switch {
	case err == nil:
		// fingerprint antes que nada: un token válido desde otro device no
		// autentica ni dispara refresh
		if claims.Fingerprint != "" && claims.Fingerprint != req.Fingerprint {
			log.Warn("fingerprint mismatch en access válido",
				logger.SessionID(claims.SessionID), logger.UserID(claims.Subject))
			return Unauthenticated("fingerprint mismatch")
		}
		return Authenticated(identityFromClaims(resolved.Tenant.ID, resolved.Tenant.Slug, claims), nil)

	case errors.Is(err, token.ErrExpired):
		if claims.Fingerprint != "" && claims.Fingerprint != req.Fingerprint {
			// mismatch gana sobre expirado: tampoco hay refresh
			log.Warn("fingerprint mismatch en access vencido",
				logger.SessionID(claims.SessionID))
			return Unauthenticated("fingerprint mismatch")
		}
		if req.RefreshToken == "" {
			return Unauthenticated("access expired, no refresh token")
		}
		return g.refresh(ctx, resolved, req, log)

	default:
		// firma rota, malformado, clase equivocada: rechazo duro, sin refresh
		return Unauthenticated(fmt.Sprintf("access token invalid: %v", err))
	}
}

func (g *Gate) refresh(ctx context.Context, resolved *tenant.Resolved, req Request, log *zap.Logger) Result {
	id, pair, err := g.Rotator.Rotate(ctx, resolved, req.RefreshToken, req.Fingerprint, req.UserAgent)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUnauthorized):
			return Unauthenticated(fmt.Sprintf("refresh rejected: %v", err))
		case errors.Is(err, ErrDesynchronized):
			// el nonce viejo ya no existe: re-login forzado
			return Unauthenticated("session desynchronized")
		default:
			log.Error("rotación falló por infraestructura", logger.Err(err))
			return ConfigurationError(err)
		}
	}
	log.Info("refresh silencioso exitoso",
		logger.UserID(id.UserID), logger.SessionID(id.SessionID))
	return Authenticated(id, pair)
}

func identityFromClaims(tenantID, tenantSlug string, c *token.AccessClaims) *Identity {
	return &Identity{
		TenantID:      tenantID,
		TenantSlug:    tenantSlug,
		UserID:        c.Subject,
		SessionID:     c.SessionID,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		Name:          c.Name,
		Role:          c.Role,
		Locale:        c.Locale,
	}
}
