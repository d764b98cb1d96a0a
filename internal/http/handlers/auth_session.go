package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/vendhub/internal/auth"
	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
	"github.com/dropDatabas3/vendhub/internal/http/middlewares"
	"github.com/dropDatabas3/vendhub/internal/observability/logger"
	"github.com/dropDatabas3/vendhub/internal/session"
)

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	CreatedAt        time.Time `json:"created_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	UserAgent        string    `json:"user_agent,omitempty"`
	HasFingerprint   bool      `json:"has_fingerprint"`
}

// NewSessionHandler: GET /v1/auth/session (detrás de RequireAuth).
// Introspección de la sesión actual: a diferencia de /me, consulta el
// registro en el store, así que detecta una sesión revocada aunque el
// access token siga siendo criptográficamente válido.
func NewSessionHandler(svc *auth.Rotator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middlewares.IdentityFrom(r.Context())
		if !ok {
			apierrors.WriteError(w, apierrors.ErrInvalidToken)
			return
		}
		sess, err := svc.CurrentSession(r.Context(), id.TenantSlug, id.SessionID)
		if err != nil {
			if errors.Is(err, session.ErrUnauthorized) {
				apierrors.WriteError(w, apierrors.ErrInvalidToken)
				return
			}
			logger.From(r.Context()).Error("introspección de sesión falló", logger.Err(err))
			apierrors.WriteError(w, apierrors.ErrConfiguration)
			return
		}
		if !sess.Live(time.Now()) {
			apierrors.WriteError(w, apierrors.ErrInvalidToken)
			return
		}
		WriteJSON(w, http.StatusOK, sessionResponse{
			SessionID:        sess.ID,
			CreatedAt:        sess.CreatedAt,
			RefreshExpiresAt: sess.RefreshExpiresAt,
			UserAgent:        sess.UserAgent,
			HasFingerprint:   sess.Fingerprint != "",
		})
	}
}
