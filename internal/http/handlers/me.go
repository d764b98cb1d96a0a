package handlers

import (
	"net/http"

	apierrors "github.com/dropDatabas3/vendhub/internal/http/errors"
	"github.com/dropDatabas3/vendhub/internal/http/middlewares"
)

type meResponse struct {
	UserID        string `json:"user_id"`
	TenantSlug    string `json:"tenant"`
	SessionID     string `json:"session_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role"`
	Locale        string `json:"locale,omitempty"`
}

// NewMeHandler: GET /v1/auth/me (detrás de RequireAuth). Devuelve la
// identidad que el gate dejó en el contexto; no toca el user store.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middlewares.IdentityFrom(r.Context())
		if !ok {
			apierrors.WriteError(w, apierrors.ErrInvalidToken)
			return
		}
		WriteJSON(w, http.StatusOK, meResponse{
			UserID:        id.UserID,
			TenantSlug:    id.TenantSlug,
			SessionID:     id.SessionID,
			Email:         id.Email,
			EmailVerified: id.EmailVerified,
			Name:          id.Name,
			Role:          id.Role,
			Locale:        id.Locale,
		})
	}
}
