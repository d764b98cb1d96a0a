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
	"github.com/dropDatabas3/vendhub/internal/session"
	"github.com/dropDatabas3/vendhub/internal/tenant"
)

type refreshResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// NewRefreshHandler: POST /v1/auth/refresh. Rotación explícita para clientes
// que no dependen del refresh silencioso del gate. El refresh token viaja en
// la cookie http-only; nunca en el body.
func NewRefreshHandler(tenants *tenant.Resolver, svc *auth.Rotator, cookies cookieutil.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(cookieutil.RefreshCookie)
		if err != nil || strings.TrimSpace(ck.Value) == "" {
			apierrors.WriteError(w, apierrors.ErrInvalidToken)
			return
		}

		res, err := tenants.Resolve(r.Context(), r.Header.Get(middlewares.HeaderTenant), r.Host)
		if err != nil {
			writeResolveError(w, r, err)
			return
		}

		fingerprint := strings.TrimSpace(r.Header.Get(middlewares.HeaderFingerprint))
		id, pair, err := svc.Rotate(r.Context(), res, ck.Value, fingerprint, r.UserAgent())
		if err != nil {
			switch {
			case errors.Is(err, session.ErrUnauthorized), errors.Is(err, auth.ErrDesynchronized):
				// replay, conflicto, vencido o desync: mismo 401 opaco
				cookieutil.ClearTokens(w, cookies)
				apierrors.WriteError(w, apierrors.ErrInvalidToken)
			default:
				logger.From(r.Context()).Error("refresh falló por infraestructura", logger.Err(err))
				apierrors.WriteError(w, apierrors.ErrConfiguration)
			}
			return
		}

		cookieutil.SetTokens(w, cookies, pair)
		WriteJSON(w, http.StatusOK, refreshResponse{
			UserID:      id.UserID,
			AccessToken: pair.AccessToken,
			ExpiresAt:   pair.AccessExpiresAt.Unix(),
		})
	}
}
