package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/vendhub/internal/audit"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/security/password"
	tokens "github.com/dropDatabas3/vendhub/internal/security/token"
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/tenant"
	"github.com/dropDatabas3/vendhub/internal/token"
	"github.com/dropDatabas3/vendhub/internal/user"
)

// ErrBadCredentials es uniforme: email inexistente, password equivocada y
// usuario deshabilitado son indistinguibles para el caller.
var ErrBadCredentials = errors.New("auth: bad credentials")

// Login autentica credenciales contra el user store del tenant, crea la
// sesión (aplicando el tope FIFO del tenant) y emite el primer par.
func (r *Rotator) Login(ctx context.Context, res *tenant.Resolved, email, plain, fingerprint, userAgent string) (*Identity, *RefreshedTokens, error) {
	log := logger.From(ctx).Named("auth.login").With(logger.TenantSlug(res.Tenant.Slug))

	dir, err := r.Users.For(ctx, res.Tenant.Slug)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: user store: %v", ErrConfiguration, err)
	}
	u, err := dir.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// verificar igual contra un hash dummy para no filtrar existencia
			// por timing
			password.Verify(plain, dummyPHC)
			audit.Log(ctx, audit.EventLoginFailed, logger.TenantSlug(res.Tenant.Slug))
			return nil, nil, ErrBadCredentials
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if !password.Verify(plain, u.PasswordHash) || u.Disabled {
		audit.Log(ctx, audit.EventLoginFailed,
			logger.TenantSlug(res.Tenant.Slug), logger.UserID(u.ID))
		return nil, nil, ErrBadCredentials
	}

	store, err := r.Sessions.For(ctx, res.Tenant.Slug)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: session store: %v", ErrConfiguration, err)
	}

	// el nonce se genera acá y se persiste (hasheado) antes de firmar nada
	nonce, err := tokens.GenerateNonce(16)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	sess, err := store.Create(ctx, session.CreateInput{
		TenantID:         res.Tenant.ID,
		UserID:           u.ID,
		Fingerprint:      fingerprint,
		UserAgent:        userAgent,
		RefreshNonce:     nonce,
		RefreshExpiresAt: r.now().Add(res.Tenant.RefreshTTLOrDefault()),
		MaxSessions:      res.Tenant.MaxSessions(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create session: %v", ErrConfiguration, err)
	}

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
		nonce,
	)
	if err != nil {
		_ = store.Revoke(ctx, sess.ID)
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	log.Info("login exitoso", logger.UserID(u.ID), logger.SessionID(sess.ID))
	audit.Log(ctx, audit.EventLogin,
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

// Logout revoca la sesión actual.
func (r *Rotator) Logout(ctx context.Context, tenantSlug, sessionID string) error {
	store, err := r.Sessions.For(ctx, tenantSlug)
	if err != nil {
		return fmt.Errorf("%w: session store: %v", ErrConfiguration, err)
	}
	if err := store.Revoke(ctx, sessionID); err != nil && !errors.Is(err, session.ErrUnauthorized) {
		return err
	}
	audit.Log(ctx, audit.EventLogout,
		logger.TenantSlug(tenantSlug), logger.SessionID(sessionID))
	return nil
}

// LogoutAll revoca todas las sesiones del usuario ("cerrar sesión en todos
// los dispositivos").
func (r *Rotator) LogoutAll(ctx context.Context, tenantSlug, userID string) (int, error) {
	store, err := r.Sessions.For(ctx, tenantSlug)
	if err != nil {
		return 0, fmt.Errorf("%w: session store: %v", ErrConfiguration, err)
	}
	n, err := store.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	logger.From(ctx).Named("auth.login").Info("sesiones revocadas",
		logger.UserID(userID), logger.Count(n))
	audit.Log(ctx, audit.EventLogoutAll,
		logger.TenantSlug(tenantSlug), logger.UserID(userID), logger.Count(n))
	return n, nil
}

// dummyPHC es un hash argon2id válido de un password aleatorio descartado;
// sólo existe para igualar el costo del camino usuario-inexistente.
const dummyPHC = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$PhN+wLNFYYuOou9zlrYDA9zUXbMu3BxDDGF0hEMk0Dk"
