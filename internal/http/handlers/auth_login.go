package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/vendhub/internal/auth"
	"github.com/dropDatabas3/vendhub/internal/http/cookieutil"
	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
	"github.com/dropDatabas3/vendhub/internal/http/middlewares"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/tenant"
)

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type loginResponse struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role"`
	AccessToken   string `json:"access_token"`
	ExpiresAt     int64  `json:"expires_at"`
}

// NewLoginHandler: POST /v1/auth/login. Resuelve el vendor, verifica
// credenciales, crea la sesión (con tope FIFO) y deja el par en cookies.
func NewLoginHandler(tenants *tenant.Resolver, svc *auth.Rotator, cookies cookieutil.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in loginRequest
		if !ReadJSON(w, r, &in) {
			return
		}
		in.Email = strings.TrimSpace(in.Email)
		if in.Email == "" || in.Password == "" {
			apierrors.WriteError(w, apierrors.ErrMissingFields.WithDetail("email y password son requeridos"))
			return
		}
		fingerprint := in.Fingerprint
		if fingerprint == "" {
			fingerprint = strings.TrimSpace(r.Header.Get(middlewares.HeaderFingerprint))
		}

		res, err := tenants.Resolve(r.Context(), r.Header.Get(middlewares.HeaderTenant), r.Host)
		if err != nil {
			writeResolveError(w, r, err)
			return
		}

		id, pair, err := svc.Login(r.Context(), res, in.Email, in.Password, fingerprint, r.UserAgent())
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrBadCredentials):
				apierrors.WriteError(w, apierrors.ErrInvalidCredentials)
			case errors.Is(err, auth.ErrConfiguration):
				logger.From(r.Context()).Error("login falló por configuración", logger.Err(err))
				apierrors.WriteError(w, apierrors.ErrConfiguration)
			default:
				apierrors.WriteError(w, apierrors.ErrInternal.WithCause(err))
			}
			return
		}

		cookieutil.SetTokens(w, cookies, pair)
		WriteJSON(w, http.StatusOK, loginResponse{
			UserID:        id.UserID,
			Name:          id.Name,
			Email:         id.Email,
			EmailVerified: id.EmailVerified,
			Role:          id.Role,
			AccessToken:   pair.AccessToken,
			ExpiresAt:     pair.AccessExpiresAt.Unix(),
		})
	}
}

// writeResolveError mapea los errores del resolver a la taxonomía del API.
func writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrNoTenantHint), errors.Is(err, tenant.ErrNotFound):
		apierrors.WriteError(w, apierrors.ErrTenantUnresolved)
	default:
		logger.From(r.Context()).Error("resolución de tenant falló", logger.Err(err))
		apierrors.WriteError(w, apierrors.ErrConfiguration)
	}
}
