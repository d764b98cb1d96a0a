package handlers

import (
	"net/http"

	"github.com/dropDatabas3/vendhub/internal/auth"
	"github.com/dropDatabas3/vendhub/internal/http/cookieutil"
	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
	"github.com/dropDatabas3/vendhub/internal/http/middlewares"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
)

// NewLogoutHandler: POST /v1/auth/logout (detrás de RequireAuth).
// Revoca la sesión actual y borra las cookies.
func NewLogoutHandler(svc *auth.Rotator, cookies cookieutil.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middlewares.IdentityFrom(r.Context())
		if !ok {
			apierrors.WriteError(w, apierrors.ErrInvalidToken)
			return
		}
		if err := svc.Logout(r.Context(), id.TenantSlug, id.SessionID); err != nil {
			logger.From(r.Context()).Error("logout falló", logger.Err(err))
			apierrors.WriteError(w, apierrors.ErrConfiguration)
			return
		}
		cookieutil.ClearTokens(w, cookies)
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// NewLogoutAllHandler: POST /v1/auth/logout-all (detrás de RequireAuth).
// Revoca todas las sesiones del usuario en todos los devices.
func NewLogoutAllHandler(svc *auth.Rotator, cookies cookieutil.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middlewares.IdentityFrom(r.Context())
		if !ok {
			apierrors.WriteError(w, apierrors.ErrInvalidToken)
			return
		}
		n, err := svc.LogoutAll(r.Context(), id.TenantSlug, id.UserID)
		if err != nil {
			logger.From(r.Context()).Error("logout-all falló", logger.Err(err))
			apierrors.WriteError(w, apierrors.ErrConfiguration)
			return
		}
		cookieutil.ClearTokens(w, cookies)
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "revoked": n})
	}
}
