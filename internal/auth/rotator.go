package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/vendhub/internal/audit"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	tokens "github.com/dropDatabas3/vendhub/internal/security/token"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/tenant"
	"github.com/dropDatabas3/vendhub/internal/token"
	"github.com/dropDatabas3/vendhub/internal/user"
)

// SessionStores entrega el session store del tenant (data plane por slug).
type SessionStores interface {
	For(ctx context.Context, tenantSlug string) (session.Store, error)
}

// UserDirectories entrega el read-path de usuarios del tenant.
type UserDirectories interface {
	For(ctx context.Context, tenantSlug string) (user.Directory, error)
}

// Rotator valida un refresh token y rota su nonce de forma atómica.
//
// Camino por intento: firma → fingerprint → rotación en store → relectura
// del usuario → firma del par nuevo. Cualquier paso que falle corta sin
// mutación parcial visible; sólo la rotación en store es un punto de no
// retorno (si algo posterior falla, la sesión queda desincronizada y se
// fuerza re-login).
type Rotator struct {
	Issuer   *token.Issuer
	Sessions SessionStores
	Users    UserDirectories

	// RetryBackoff espera entre el fallo de I/O del store y el único retry.
	RetryBackoff time.Duration
}

const defaultRetryBackoff = 150 * time.Millisecond

// now usa el reloj del issuer: el expiry persistido en el store y el claim
// exp del refresh deben salir del mismo clock, o divergen bajo un reloj
// corrido en tests.
func (r *Rotator) now() time.Time {
	if r.Issuer != nil && r.Issuer.Now != nil {
		return r.Issuer.Now()
	}
	return time.Now()
}

// Rotate consume el refresh token presentado y devuelve identidad + par nuevo.
// Errores: session.ErrUnauthorized (y ErrRotationConflict, que lo envuelve)
// para rechazos; ErrConfiguration para fallos de infra; ErrDesynchronized si
// el nonce ya se consumió pero el camino posterior falló.
func (r *Rotator) Rotate(ctx context.Context, res *tenant.Resolved, rawRefresh, fingerprint, userAgent string) (*Identity, *RefreshedTokens, error) {
	log := logger.Named("auth.rotator").With(logger.TenantSlug(res.Tenant.Slug))

	// 1. firma: un refresh forjado o vencido jamás toca el store
	rc, err := token.VerifyRefresh(rawRefresh, res.RefreshSecret, r.Issuer.Iss)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: refresh verify: %v", session.ErrUnauthorized, err)
	}

	// 2. fingerprint del claim: mitigación primaria de robo. Un refresh
	// robado y reproducido desde otro device es inutilizable aun sin rotar.
	if rc.Fingerprint != "" && rc.Fingerprint != fingerprint {
		log.Warn("refresh con fingerprint ajeno",
			logger.SessionID(rc.SessionID), logger.Op("rotate"))
		return nil, nil, fmt.Errorf("%w: fingerprint mismatch", session.ErrUnauthorized)
	}

	store, err := r.Sessions.For(ctx, res.Tenant.Slug)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: session store: %v", ErrConfiguration, err)
	}

	// 3. rotación condicionada al hash viejo. El nonce nuevo se genera acá
	// para persistir su hash antes de firmar nada.
	newNonce, err := tokens.GenerateNonce(16)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	now := r.now()
	rotateIn := session.RotateInput{
		SessionID:      rc.SessionID,
		PresentedNonce: rc.ID,
		Fingerprint:    fingerprint,
		NewNonce:       newNonce,
		NewExpiresAt:   now.Add(res.Tenant.RefreshTTLOrDefault()),
	}
	sess, err := r.rotateWithRetry(ctx, store, rotateIn)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			if errors.Is(err, session.ErrRotationConflict) {
				log.Warn("conflicto de rotación (replay o carrera)",
					logger.SessionID(rc.SessionID))
				audit.Log(ctx, audit.EventRotationConflict,
					logger.TenantSlug(res.Tenant.Slug), logger.SessionID(rc.SessionID))
			}
			return nil, nil, err
		}
		return nil, nil, err // ErrConfiguration del retry
	}

	// 4. releer role y flags de verificación: los claims del par nuevo no
	// deben arrastrar un rol ya revocado
	dir, err := r.Users.For(ctx, res.Tenant.Slug)
	if err != nil {
		return nil, nil, r.desync(log, rc.SessionID, err)
	}
	u, err := dir.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// usuario borrado con sesión viva: revocar y rechazar
			_ = store.Revoke(ctx, sess.ID)
			return nil, nil, fmt.Errorf("%w: user gone", session.ErrUnauthorized)
		}
		return nil, nil, r.desync(log, rc.SessionID, err)
	}
	if u.Disabled {
		_ = store.Revoke(ctx, sess.ID)
		log.Info("sesión revocada: usuario deshabilitado",
			logger.UserID(u.ID), logger.SessionID(sess.ID))
		return nil, nil, fmt.Errorf("%w: user disabled", session.ErrUnauthorized)
	}

	// 5. firmar el par nuevo con el nonce ya persistido
	pair, err := r.Issuer.IssuePairWithRefreshNonce(
		res.Tenant.ID, res.Tenant.Slug, sess.ID, fingerprint,
		token.UserClaims{
			UserID:        u.ID,
			Name:          u.Name,
			Email:         u.Email,
			EmailVerified: u.EmailVerified,
			Role:          u.Role,
			Locale:        u.Locale,
		},
		res.AccessSecret, res.RefreshSecret,
		token.Policy{
			AccessTTL:  res.Tenant.AccessTTLOrDefault(),
			RefreshTTL: res.Tenant.RefreshTTLOrDefault(),
		},
		newNonce,
	)
	if err != nil {
		return nil, nil, r.desync(log, sess.ID, err)
	}

	audit.Log(ctx, audit.EventRefreshRotated,
		logger.TenantSlug(res.Tenant.Slug), logger.UserID(u.ID), logger.SessionID(sess.ID))

	id := &Identity{
		TenantID:      res.Tenant.ID,
		TenantSlug:    res.Tenant.Slug,
		UserID:        u.ID,
		SessionID:     sess.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Name:          u.Name,
		Role:          u.Role,
		Locale:        u.Locale,
	}
	return id, &RefreshedTokens{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// rotateWithRetry reintenta UNA vez ante fallo de I/O del store. Un rechazo
// (ErrUnauthorized) no se reintenta: es una decisión, no un fallo.
func (r *Rotator) rotateWithRetry(ctx context.Context, store session.Store, in session.RotateInput) (*session.Session, error) {
	sess, err := store.ValidateAndRotate(ctx, in)
	if err == nil || errors.Is(err, session.ErrUnauthorized) {
		return sess, err
	}

	backoff := r.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	logger.Named("auth.rotator").Warn("rotación falló por I/O, reintentando",
		logger.SessionID(in.SessionID), logger.Err(err))
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, ctx.Err())
	case <-time.After(backoff):
	}

	sess, err = store.ValidateAndRotate(ctx, in)
	if err == nil || errors.Is(err, session.ErrUnauthorized) {
		return sess, err
	}
	// fallo repetido: 503, nunca un 401 falso que desloguee por un blip
	return nil, fmt.Errorf("%w: rotate: %v", ErrConfiguration, err)
}

func (r *Rotator) desync(log *zap.Logger, sessionID string, cause error) error {
	log.Error("sesión desincronizada post-rotación",
		logger.SessionID(sessionID), logger.Err(cause))
	return fmt.Errorf("%w: %v", ErrDesynchronized, cause)
}
